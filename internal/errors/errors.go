// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrDataNotFound         = errors.New("data not found")
	ErrDatabaseError        = errors.New("database error")
	ErrInputValidation      = errors.New("input validation failed")
	ErrNoWindows            = errors.New("not enough observations for a single window")
	ErrUnknownInstrument    = errors.New("unknown instrument")
	ErrNoFit                = errors.New("no valid fit available")
	ErrMonotonicity         = errors.New("monotonicity violation")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrDataGap              = errors.New("data gap exceeds fill tolerance")
	ErrUnstableSmoothing    = errors.New("cross-validation unstable")
	ErrDuplicateObservation = errors.New("duplicate observation date")
)

// DataGapError reports a run of missing values longer than the forward-fill bound.
type DataGapError struct {
	Column string
	From   time.Time
	To     time.Time
	Run    int
	MaxGap int
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap in %s: %d missing values from %s to %s (max %d)",
		e.Column, e.Run, e.From.Format("2006-01-02"), e.To.Format("2006-01-02"), e.MaxGap)
}

func (e *DataGapError) Unwrap() error {
	return ErrDataGap
}

// NewDataGapError creates a new DataGapError.
func NewDataGapError(column string, from, to time.Time, run, maxGap int) *DataGapError {
	return &DataGapError{
		Column: column,
		From:   from,
		To:     to,
		Run:    run,
		MaxGap: maxGap,
	}
}

// MonotonicityViolation reports a decrease in cost between two value-sorted points.
// Index and Index+1 are positions in the value-sorted pairs.
type MonotonicityViolation struct {
	Window string
	Index  int
	Prev   [2]float64
	Next   [2]float64
}

func (e *MonotonicityViolation) Error() string {
	return fmt.Sprintf("monotonicity violation [%s] between sorted points %d and %d: (%g, %g) -> (%g, %g)",
		e.Window, e.Index, e.Index+1, e.Prev[0], e.Prev[1], e.Next[0], e.Next[1])
}

func (e *MonotonicityViolation) Unwrap() error {
	return ErrMonotonicity
}

// NewMonotonicityViolation creates a new MonotonicityViolation.
func NewMonotonicityViolation(window string, index int, prevX, prevY, nextX, nextY float64) *MonotonicityViolation {
	return &MonotonicityViolation{
		Window: window,
		Index:  index,
		Prev:   [2]float64{prevX, prevY},
		Next:   [2]float64{nextX, nextY},
	}
}

// InsufficientDataError reports a window too small for the requested work.
type InsufficientDataError struct {
	Window string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data [%s]: have %d, need %d", e.Window, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// NewInsufficientDataError creates a new InsufficientDataError.
func NewInsufficientDataError(window string, have, need int) *InsufficientDataError {
	return &InsufficientDataError{
		Window: window,
		Have:   have,
		Need:   need,
	}
}

// StabilityWarning is non-fatal: the cross-validation spread for the chosen
// smoothing strength exceeded the configured threshold.
type StabilityWarning struct {
	Window    string
	Lambda    float64
	StdDev    float64
	Threshold float64
}

func (e *StabilityWarning) Error() string {
	return fmt.Sprintf("stability warning [%s]: lambda %.4g fold std %.4f exceeds %.4f",
		e.Window, e.Lambda, e.StdDev, e.Threshold)
}

func (e *StabilityWarning) Unwrap() error {
	return ErrUnstableSmoothing
}

// NewStabilityWarning creates a new StabilityWarning.
func NewStabilityWarning(window string, lambda, stdDev, threshold float64) *StabilityWarning {
	return &StabilityWarning{
		Window:    window,
		Lambda:    lambda,
		StdDev:    stdDev,
		Threshold: threshold,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	Source  string
	Column  string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Source, e.Column, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Source, e.Column, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(source, column, message string, err error) *DataError {
	return &DataError{
		Source:  source,
		Column:  column,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
