package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	domainerrors "cof-trader/internal/errors"
)

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validateStruct("data", c.Data); err != nil {
		return err
	}
	if err := validateStruct("align", c.Align); err != nil {
		return err
	}
	if err := c.FairValue.Validate(); err != nil {
		return err
	}
	if err := c.Signal.Validate(); err != nil {
		return err
	}
	if err := c.Position.Validate(); err != nil {
		return err
	}
	if err := validateStruct("performance", c.Performance); err != nil {
		return err
	}
	if err := validateStruct("logging", c.Logging); err != nil {
		return err
	}

	// Scaling in only makes sense beyond the entry threshold.
	if c.Position.DoubleThreshold < c.Signal.EntryThreshold {
		return domainerrors.NewValidationError("position.double_threshold", c.Position.DoubleThreshold,
			fmt.Sprintf("must be at least signal.entry_threshold (%g)", c.Signal.EntryThreshold))
	}

	for name, w := range c.Performance.Weights {
		if w < 0 {
			return domainerrors.NewValidationError("performance.weights."+name, w, "must be non-negative")
		}
	}

	if col := c.FairValue.LiquidityColumn; col != "" && !contains(c.Data.LiquidityColumns, col) {
		return domainerrors.NewValidationError("fair_value.liquidity_column", col,
			"must be one of data.liquidity_columns")
	}

	return nil
}

// Validate validates the fair-value configuration.
func (c FairValueConfig) Validate() error {
	if err := validateStruct("fair_value", c); err != nil {
		return err
	}
	if k := c.Splits(); c.WindowSize < 2*k {
		return domainerrors.NewValidationError("fair_value.n_splits", k,
			fmt.Sprintf("window_size %d is too small for %d folds", c.WindowSize, k))
	}
	return nil
}

// Validate validates the signal configuration.
func (c SignalConfig) Validate() error {
	return validateStruct("signal", c)
}

// Validate validates the position configuration.
func (c PositionConfig) Validate() error {
	return validateStruct("position", c)
}

// validateStruct runs tag validation and converts the first failure into a ValidationError.
func validateStruct(section string, s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fe := validationErrors[0]
		return domainerrors.NewValidationError(section+"."+toSnake(fe.Field()), fe.Value(), message(fe))
	}
	return domainerrors.Wrap(err, section)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s", toSnake(fe.Param()))
	case "ltfield":
		return fmt.Sprintf("must be less than %s", toSnake(fe.Param()))
	case "ltefield":
		return fmt.Sprintf("must be less than or equal to %s", toSnake(fe.Param()))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// toSnake converts a Go field name to its TOML key.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
