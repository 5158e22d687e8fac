package fairvalue

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cof-trader/internal/align"
	"cof-trader/internal/config"
	"cof-trader/internal/errors"
	"cof-trader/internal/models"
)

func testConfig(workers int) config.FairValueConfig {
	return config.FairValueConfig{
		WindowSize:         20,
		NSplits:            2,
		SmoothingMin:       1e-2,
		SmoothingMax:       1e2,
		SmoothingPoints:    5,
		StabilityThreshold: 10,
		ProbePoints:        1000,
		Workers:            workers,
	}
}

// scatterSeries returns n weekly observations whose positioning jumps around
// in time while cost rises strictly with positioning.
func scatterSeries(n int) *models.Series {
	s := &models.Series{Instrument: "cof", LiquidityColumns: []string{"spread"}}
	start := time.Date(2019, 1, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		pos := float64((i*37)%101) * 1000
		s.Observations = append(s.Observations, models.Observation{
			Date:        start.AddDate(0, 0, 7*i),
			Positioning: pos,
			Cost:        0.5 + pos*1e-6,
			Liquidity:   map[string]float64{"spread": 0},
		})
	}
	return s
}

type countingObserver struct {
	mu    sync.Mutex
	count int
}

func (c *countingObserver) ObserveWindow(string, models.FitOutcome) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func TestProperty_FitIsMonotone(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fitted curve never decreases on a 1000-point probe", prop.ForAll(
		func(gaps, ys []float64, lambda float64) bool {
			pairs := make([]models.Pair, len(gaps))
			x := -5e4
			for i := range gaps {
				x += gaps[i]
				pairs[i] = models.Pair{X: x, Y: ys[i]}
			}
			// Repeat a knot so duplicates go through the same path.
			pairs = append(pairs, models.Pair{X: pairs[3].X, Y: ys[0]})
			align.SortPairs(pairs)

			curve, err := Fit(pairs, lambda)
			if err != nil {
				return false
			}
			if !sort.Float64sAreSorted(curve.Y) {
				return false
			}
			return curve.Monotonic(1000)
		},
		gen.SliceOfN(30, gen.Float64Range(10, 1e4)),
		gen.SliceOfN(30, gen.Float64Range(-1, 3)),
		gen.Float64Range(0, 1e5),
	))

	properties.Property("folds partition the window contiguously", prop.ForAll(
		func(n, k int) bool {
			if n < k {
				n, k = k, n
			}
			bounds := Folds(n, k)
			if len(bounds) != k || bounds[0][0] != 0 || bounds[k-1][1] != n {
				return false
			}
			minSize, maxSize := n, 0
			for i, b := range bounds {
				if i > 0 && b[0] != bounds[i-1][1] {
					return false
				}
				size := b[1] - b[0]
				if size < minSize {
					minSize = size
				}
				if size > maxSize {
					maxSize = size
				}
			}
			return maxSize-minSize <= 1
		},
		gen.IntRange(2, 500),
		gen.IntRange(2, 10),
	))

	properties.TestingRun(t)
}

func TestFitReproducesLinearData(t *testing.T) {
	var pairs []models.Pair
	for i := 0; i < 25; i++ {
		x := float64(i * i)
		pairs = append(pairs, models.Pair{X: x, Y: 0.2 + 0.01*x})
	}

	curve, err := Fit(pairs, 1e6)
	require.NoError(t, err)
	for _, p := range pairs {
		assert.InDelta(t, p.Y, curve.Eval(p.X), 1e-6)
	}

	r2, mse := Score(curve, pairs)
	assert.InDelta(t, 1.0, r2, 1e-9)
	assert.InDelta(t, 0.0, mse, 1e-9)
}

func TestFitCollapsesDuplicateKnots(t *testing.T) {
	pairs := []models.Pair{{X: 1, Y: 1}, {X: 1, Y: 3}, {X: 2, Y: 4}}
	curve, err := Fit(pairs, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, curve.X)
	assert.Equal(t, []float64{2, 4}, curve.Y)
	assert.Equal(t, 2.0, curve.Eval(0))
	assert.Equal(t, 3.0, curve.Eval(1.5))
	assert.Equal(t, 4.0, curve.Eval(10))
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(nil, 1)
	assert.Error(t, err)
	_, err = Fit([]models.Pair{{X: 1, Y: 1}}, -1)
	assert.Error(t, err)
}

func TestLambdaGrid(t *testing.T) {
	grid := LambdaGrid(1e4, 1e7, 30)
	require.Len(t, grid, 30)
	assert.InEpsilon(t, 1e4, grid[0], 1e-9)
	assert.InEpsilon(t, 1e7, grid[29], 1e-9)
	assert.True(t, sort.Float64sAreSorted(grid))

	assert.Equal(t, []float64{5}, LambdaGrid(5, 50, 1))
}

func TestRunFitsEveryWindow(t *testing.T) {
	obs := &countingObserver{}
	m, err := New(testConfig(2), zerolog.Nop(), WithObserver(obs))
	require.NoError(t, err)

	series := scatterSeries(40)
	res, err := m.Run(context.Background(), series)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 20)
	assert.Equal(t, 20, res.Fitted())
	assert.Equal(t, 20, obs.count)
	assert.NotNil(t, res.Curve)

	for i, o := range res.Outcomes {
		current := series.Observations[20+i]
		assert.Equal(t, current.Date, o.Date)
		assert.Equal(t, current.Date, o.Fit.WindowEnd)
		assert.Equal(t, 20, o.Fit.NPoints)
		assert.Contains(t, m.Grid(), o.Fit.Lambda)
		assert.InDelta(t, current.Cost, o.Fit.Predicted, 0.05)
	}
}

// A single out-of-order point poisons every window that contains it; those
// windows are skipped and carry the last good fit forward.
func TestRunSkipsNonMonotoneWindow(t *testing.T) {
	m, err := New(testConfig(2), zerolog.Nop())
	require.NoError(t, err)

	series := scatterSeries(40)
	series.Observations[25].Cost = 0

	res, err := m.Run(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 20)

	for i := 0; i < 5; i++ {
		assert.True(t, res.Outcomes[i].OK(), "window %d", i)
	}
	last := res.Outcomes[4].Fit

	skipped := res.Outcomes[5]
	assert.Equal(t, models.SkipMonotonicity, skipped.Skip)
	assert.False(t, skipped.OK())
	assert.True(t, skipped.HasFit)
	assert.True(t, skipped.CarriedFwd)
	assert.NotEmpty(t, skipped.SkipDetail)
	assert.Equal(t, last.Lambda, skipped.Fit.Lambda)
	assert.Equal(t, res.Curve.Eval(series.Observations[25].Positioning), skipped.Fit.Predicted)
	assert.Equal(t, 5, res.Fitted())
}

func TestRunIndependentOfWorkerCount(t *testing.T) {
	series := scatterSeries(45)

	var results []*Result
	for _, workers := range []int{1, 3, 8} {
		m, err := New(testConfig(workers), zerolog.Nop())
		require.NoError(t, err)
		res, err := m.Run(context.Background(), series)
		require.NoError(t, err)
		results = append(results, res)
	}

	for _, res := range results[1:] {
		assert.Equal(t, results[0].Outcomes, res.Outcomes)
	}

	// A second run on the same input is identical.
	m, err := New(testConfig(1), zerolog.Nop())
	require.NoError(t, err)
	again, err := m.Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, results[0].Outcomes, again.Outcomes)
}

func TestRunTooFewObservations(t *testing.T) {
	m, err := New(testConfig(1), zerolog.Nop())
	require.NoError(t, err)

	_, err = m.Run(context.Background(), scatterSeries(20))
	assert.True(t, errors.Is(err, errors.ErrNoWindows))
}

func TestRunHonoursCancellation(t *testing.T) {
	m, err := New(testConfig(1), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Run(ctx, scatterSeries(30))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrossValidationRequiresTwoPointsPerFold(t *testing.T) {
	cv := CrossValidator{Grid: []float64{1}, Splits: 5, Workers: 1}
	_, err := cv.Run(context.Background(), "w", scatterSeries(9).Observations)

	var insufficient *errors.InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 9, insufficient.Have)
	assert.Equal(t, 10, insufficient.Need)
}

func TestCrossValidationSkipsNonMonotoneFolds(t *testing.T) {
	obs := scatterSeries(12).Observations
	// Only folds 1 and 2 train on this point.
	obs[1].Cost = 0

	cv := CrossValidator{Grid: []float64{0.1, 10}, Splits: 3, Workers: 2}
	result, err := cv.Run(context.Background(), "w", obs)
	require.NoError(t, err)

	require.Len(t, result.SkippedFolds, 2)
	for i, skip := range result.SkippedFolds {
		assert.Equal(t, i+1, skip.Fold)
		var violation *errors.MonotonicityViolation
		require.True(t, errors.As(skip.Err, &violation))
		assert.Equal(t, [2]float64{37000, 0}, violation.Next)
	}
	for _, score := range result.Scores {
		assert.Equal(t, 1, score.Folds)
	}
	assert.False(t, math.IsNaN(result.Best.Mean))
}

func TestCrossValidationFailsWhenEveryFoldViolates(t *testing.T) {
	obs := scatterSeries(12).Observations
	obs[1].Cost = 0
	obs[5].Cost = 0

	cv := CrossValidator{Grid: []float64{1}, Splits: 3, Workers: 1}
	result, err := cv.Run(context.Background(), "w", obs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMonotonicity))

	var violation *errors.MonotonicityViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "w/fold0", violation.Window)

	require.NotNil(t, result)
	require.Len(t, result.SkippedFolds, 3)
	for i, skip := range result.SkippedFolds {
		assert.Equal(t, i, skip.Fold)
	}
}

func TestCrossValidationRequiresTwoFolds(t *testing.T) {
	cv := CrossValidator{Grid: []float64{1}, Splits: 1}
	_, err := cv.Run(context.Background(), "w", scatterSeries(12).Observations)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []models.FitOutcome
}

func (r *outcomeRecorder) ObserveWindow(_ string, o models.FitOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

// Observers see each window as it is fitted, before the run-wide liquidity
// coefficient exists.
func TestObserversSeeUnadjustedFits(t *testing.T) {
	series := scatterSeries(40)
	for i := range series.Observations {
		spread := 0.01 * math.Cos(0.3*float64(i))
		series.Observations[i].Liquidity["spread"] = spread
		series.Observations[i].Cost += 0.02 * spread
	}

	rec := &outcomeRecorder{}
	cfg := testConfig(2)
	cfg.LiquidityAdjust = true
	m, err := New(cfg, zerolog.Nop(), WithObserver(rec))
	require.NoError(t, err)

	res, err := m.Run(context.Background(), series)
	require.NoError(t, err)
	require.Equal(t, "spread", res.LiquidityColumn)
	require.Len(t, rec.outcomes, len(res.Outcomes))
	assert.NotZero(t, res.LiquidityBeta)

	for i, observed := range rec.outcomes {
		final := res.Outcomes[i]
		spread := series.Observations[20+i].Liquidity["spread"]
		assert.Equal(t, observed.Fit.CleanPredicted, observed.Fit.Predicted)
		assert.Equal(t, observed.Fit.CleanPredicted, final.Fit.CleanPredicted)
		assert.InDelta(t, final.Fit.CleanPredicted+res.LiquidityBeta*spread, final.Fit.Predicted, 1e-12)
	}
}

func TestRunReportsUnstableSelection(t *testing.T) {
	series := scatterSeries(40)
	// Noise stays below the cost step between distinct positioning values.
	for i := range series.Observations {
		series.Observations[i].Cost += 3e-4 * math.Sin(1.3*float64(i))
	}

	cfg := testConfig(2)
	cfg.StabilityThreshold = 1e-9
	m, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	res, err := m.Run(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 20)
	assert.Equal(t, 20, res.Fitted())
	require.Len(t, res.Warnings, 20)

	for i, o := range res.Outcomes {
		assert.True(t, o.Fit.Unstable, "window %d", i)
		assert.Greater(t, o.Fit.CVStdDev, cfg.StabilityThreshold)

		var warn *errors.StabilityWarning
		require.True(t, errors.As(res.Warnings[i], &warn))
		assert.Equal(t, o.Fit.Lambda, warn.Lambda)
		assert.Equal(t, o.Fit.CVStdDev, warn.StdDev)
	}
}

func TestEstimateLiquidityBeta(t *testing.T) {
	indicator := []float64{0.1, -0.3, 0.25, 0.5, math.NaN(), -0.05}
	residuals := make([]float64, len(indicator))
	for i, v := range indicator {
		residuals[i] = 0.4 * v
	}
	residuals[2] = math.NaN()

	assert.InDelta(t, 0.4, EstimateLiquidityBeta(residuals, indicator), 1e-12)
	assert.Equal(t, 0.0, EstimateLiquidityBeta([]float64{1}, []float64{1}))
	assert.Equal(t, 0.0, EstimateLiquidityBeta([]float64{1, 2}, []float64{0, 0}))
}

func TestPredictAt(t *testing.T) {
	res := &Result{
		Instrument:      "cof",
		Curve:           &Curve{X: []float64{0, 10}, Y: []float64{1, 2}},
		LiquidityColumn: "spread",
		LiquidityBeta:   0.5,
	}

	v, err := res.PredictAt(5, 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 1.6, v, 1e-12)

	v, err = res.PredictAt(5, math.NaN())
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-12)

	_, err = (&Result{Instrument: "x"}).PredictAt(1, 0)
	assert.True(t, errors.Is(err, errors.ErrNoFit))
}
