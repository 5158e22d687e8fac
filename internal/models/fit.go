package models

import "time"

// SkipReason explains why a window produced no fit.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipMonotonicity     SkipReason = "MONOTONICITY_VIOLATION"
	SkipCurveMonotonic   SkipReason = "CURVE_NOT_MONOTONIC"
	SkipInsufficientData SkipReason = "INSUFFICIENT_DATA"
	SkipNoValidFolds     SkipReason = "NO_VALID_FOLDS"
	SkipSolver           SkipReason = "SOLVER_FAILURE"
)

// WindowFit is the fitted fair value for the most recent observation of one window.
type WindowFit struct {
	WindowEnd      time.Time
	Lambda         float64
	Predicted      float64
	CleanPredicted float64
	RSquared       float64
	MSE            float64
	NPoints        int
	CVMean         float64
	CVStdDev       float64
	Unstable       bool
}

// FitOutcome is the per-window result of the rolling fit: either a fit or a skip.
// Skipped windows carry the previous fit forward in Fit when one exists.
type FitOutcome struct {
	Date       time.Time
	Actual     float64
	Fit        WindowFit
	HasFit     bool
	Skip       SkipReason
	SkipDetail string
	CarriedFwd bool
}

// OK reports whether the window produced its own fit.
func (o FitOutcome) OK() bool {
	return o.Skip == SkipNone && o.HasFit
}
