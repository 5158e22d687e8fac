// Package fairvalue fits a rolling, cross-validated monotone curve of
// financing cost against futures positioning and reports the fair value of
// the most recent observation in each window.
package fairvalue

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"cof-trader/internal/align"
	"cof-trader/internal/config"
	"cof-trader/internal/errors"
	"cof-trader/internal/logging"
	"cof-trader/internal/models"
)

// Observer receives every window outcome as it is produced. Outcomes are
// delivered before the run's liquidity adjustment is estimated, so
// Fit.Predicted is the curve value alone; Result.Outcomes carries the
// adjusted values once Run returns.
type Observer interface {
	ObserveWindow(instrument string, outcome models.FitOutcome)
}

// Result is the fair-value series of one instrument.
type Result struct {
	Instrument      string
	Outcomes        []models.FitOutcome
	LiquidityColumn string
	LiquidityBeta   float64
	// Curve is the last successfully fitted curve, nil when no window fit.
	Curve    *Curve
	Warnings []error
}

// Fitted returns the number of windows that produced their own fit.
func (r *Result) Fitted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Model is the rolling fair-value model.
type Model struct {
	cfg      config.FairValueConfig
	grid     []float64
	cv       CrossValidator
	logger   zerolog.Logger
	observer Observer
}

// Option configures a Model.
type Option func(*Model)

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(m *Model) {
		m.observer = o
	}
}

// New validates the configuration and creates a Model.
func New(cfg config.FairValueConfig, logger zerolog.Logger, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	grid := LambdaGrid(cfg.SmoothingMin, cfg.SmoothingMax, cfg.SmoothingPoints)
	m := &Model{
		cfg:    cfg,
		grid:   grid,
		cv:     CrossValidator{Grid: grid, Splits: cfg.Splits(), Workers: cfg.WorkerCount()},
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LambdaGrid returns n logarithmically spaced values from lo to hi.
func LambdaGrid(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	return floats.LogSpan(make([]float64, n), lo, hi)
}

// Grid returns the candidate smoothing strengths.
func (m *Model) Grid() []float64 {
	return append([]float64(nil), m.grid...)
}

// Run fits every window of an aligned series. Window i covers the trailing
// WindowSize observations ending at i, for i in [WindowSize, N). Recoverable
// per-window failures become skip outcomes that carry the previous fit forward.
func (m *Model) Run(ctx context.Context, series *models.Series) (*Result, error) {
	w := m.cfg.WindowSize
	n := series.Len()
	if n <= w {
		return nil, errors.Wrapf(errors.ErrNoWindows, "%s: %d observations, window %d", series.Instrument, n, w)
	}

	logger := logging.WithInstrument(m.logger, series.Instrument)

	result := &Result{
		Instrument: series.Instrument,
		Outcomes:   make([]models.FitOutcome, 0, n-w),
	}

	var (
		prev      models.WindowFit
		prevCurve *Curve
		havePrev  bool
	)

	for i := w; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := series.Observations[i]
		window := series.Observations[i-w+1 : i+1]
		windowID := fmt.Sprintf("%s@%s", series.Instrument, current.Date.Format("2006-01-02"))
		winLogger := logging.WithWindow(logger, windowID)

		fit, curve, reason, err := m.fitWindow(ctx, winLogger, windowID, window, current)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		outcome := models.FitOutcome{Date: current.Date, Actual: current.Cost}
		if reason == models.SkipNone {
			outcome.Fit = fit
			outcome.HasFit = true
			prev, prevCurve, havePrev = fit, curve, true

			if fit.Unstable {
				warn := errors.NewStabilityWarning(windowID, fit.Lambda, fit.CVStdDev, m.cfg.StabilityThreshold)
				result.Warnings = append(result.Warnings, warn)
				logging.LogStabilityWarning(winLogger, warn)
			}
		} else {
			outcome.Skip = reason
			if err != nil {
				outcome.SkipDetail = err.Error()
			}
			if havePrev {
				carried := prev
				carried.CleanPredicted = prevCurve.Eval(current.Positioning)
				carried.Predicted = carried.CleanPredicted
				outcome.Fit = carried
				outcome.HasFit = true
				outcome.CarriedFwd = true
			}
			logging.LogWindowSkip(winLogger, reason, err)
		}

		result.Outcomes = append(result.Outcomes, outcome)
		if m.observer != nil {
			m.observer.ObserveWindow(series.Instrument, outcome)
		}
	}

	result.Curve = prevCurve
	if m.cfg.LiquidityAdjust && len(series.LiquidityColumns) > 0 {
		col := m.cfg.LiquidityColumn
		if col == "" {
			col = series.LiquidityColumns[0]
		}
		result.LiquidityColumn = col
		result.LiquidityBeta = applyLiquidityAdjustment(result.Outcomes, series, col)
		logger.Debug().
			Str("column", col).
			Float64("beta", result.LiquidityBeta).
			Msg("Liquidity adjustment estimated")
	}

	logger.Info().
		Int("windows", len(result.Outcomes)).
		Int("fitted", result.Fitted()).
		Int("warnings", len(result.Warnings)).
		Msg("Fair-value fit completed")

	return result, nil
}

// fitWindow runs cross-validation and the final fit for one window.
func (m *Model) fitWindow(ctx context.Context, logger zerolog.Logger, windowID string, window []models.Observation, current models.Observation) (models.WindowFit, *Curve, models.SkipReason, error) {
	if need := 2 * m.cfg.Splits(); len(window) < need {
		return models.WindowFit{}, nil, models.SkipInsufficientData,
			errors.NewInsufficientDataError(windowID, len(window), need)
	}

	pairs, err := align.WindowPairs(windowID, window)
	if err != nil {
		return models.WindowFit{}, nil, models.SkipMonotonicity, err
	}

	cvResult, err := m.cv.Run(ctx, windowID, window)
	if cvResult != nil {
		for _, skip := range cvResult.SkippedFolds {
			logger.Debug().Int("fold", skip.Fold).Err(skip.Err).Msg("Training fold skipped")
		}
	}
	if err != nil {
		if errors.Is(err, errors.ErrInsufficientData) {
			return models.WindowFit{}, nil, models.SkipInsufficientData, err
		}
		return models.WindowFit{}, nil, models.SkipNoValidFolds, err
	}

	lambda := cvResult.Best.Lambda
	curve, err := Fit(pairs, lambda)
	if err != nil {
		return models.WindowFit{}, nil, models.SkipSolver, err
	}
	if !curve.Monotonic(m.cfg.ProbePoints) {
		return models.WindowFit{}, nil, models.SkipCurveMonotonic,
			errors.Wrapf(errors.ErrMonotonicity, "%s: fitted curve decreases on probe grid", windowID)
	}

	r2, mse := Score(curve, pairs)
	predicted := curve.Eval(current.Positioning)
	fit := models.WindowFit{
		WindowEnd:      current.Date,
		Lambda:         lambda,
		Predicted:      predicted,
		CleanPredicted: predicted,
		RSquared:       r2,
		MSE:            mse,
		NPoints:        len(pairs),
		CVMean:         cvResult.Best.Mean,
		CVStdDev:       cvResult.Best.StdDev,
		Unstable:       cvResult.Best.StdDev > m.cfg.StabilityThreshold,
	}
	return fit, curve, models.SkipNone, nil
}

// PredictAt evaluates the last fitted curve at a hypothetical positioning
// value and applies the liquidity adjustment at the given indicator level.
func (r *Result) PredictAt(positioning, liquidity float64) (float64, error) {
	if r.Curve == nil {
		return math.NaN(), errors.Wrapf(errors.ErrNoFit, "%s", r.Instrument)
	}
	v := r.Curve.Eval(positioning)
	if r.LiquidityColumn != "" && !math.IsNaN(liquidity) {
		v += r.LiquidityBeta * liquidity
	}
	return v, nil
}
