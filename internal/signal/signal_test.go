package signal

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cof-trader/internal/config"
	"cof-trader/internal/models"
)

var friday = time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)

func testConfig() config.SignalConfig {
	return config.SignalConfig{
		ZWindow:            52,
		MinPeriods:         10,
		StressWindow:       52,
		EntryThreshold:     2.0,
		ExitThreshold:      0.5,
		LiquidityThreshold: 0.2,
	}
}

func newGenerator(t *testing.T, cfg config.SignalConfig) *Generator {
	t.Helper()
	g, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return g
}

func TestEntryAndReversalExit(t *testing.T) {
	g := newGenerator(t, testConfig())

	entry := g.Evaluate(friday, 0.95, -0.04, -2.3, 0.15)
	assert.Equal(t, models.Long, entry.Direction)
	assert.True(t, entry.GatePassed)
	_, closeLong := entry.ExitFor(models.Long)
	assert.False(t, closeLong)

	exit := g.Evaluate(friday.AddDate(0, 0, 7), 0.97, 0.003, 0.2, 0.15)
	assert.Equal(t, models.Flat, exit.Direction)
	reason, ok := exit.ExitFor(models.Long)
	assert.True(t, ok)
	assert.Equal(t, models.ExitSignalReversal, reason)

	short := g.Evaluate(friday, 1.1, 0.05, 2.4, 0.0)
	assert.Equal(t, models.Short, short.Direction)
	_, closeShort := short.ExitFor(models.Short)
	assert.False(t, closeShort)
}

func TestLiquidityGateBlocksEntryButNotExit(t *testing.T) {
	g := newGenerator(t, testConfig())

	sig := g.Evaluate(friday, 0.9, -0.06, -2.6, 0.35)
	assert.Equal(t, models.Flat, sig.Direction)
	assert.False(t, sig.GatePassed)

	reason, ok := sig.ExitFor(models.Long)
	require.True(t, ok)
	assert.Equal(t, models.ExitLiquidityGate, reason)

	// A reversal takes precedence over the gate exit.
	sig = g.Evaluate(friday, 0.9, 0.0, 0.0, 0.35)
	reason, _ = sig.ExitFor(models.Short)
	assert.Equal(t, models.ExitSignalReversal, reason)
}

func TestDisabledGate(t *testing.T) {
	cfg := testConfig()
	cfg.DisableLiquidityGate = true
	g := newGenerator(t, cfg)

	sig := g.Evaluate(friday, 0.9, -0.06, -2.6, 3.0)
	assert.Equal(t, models.Long, sig.Direction)
	assert.True(t, sig.GatePassed)
	_, ok := sig.ExitFor(models.Long)
	assert.False(t, ok)
}

func TestMissingInputsGiveFlatSignal(t *testing.T) {
	g := newGenerator(t, testConfig())

	sig := g.Evaluate(friday, 0.9, math.NaN(), math.NaN(), 0.0)
	assert.Equal(t, models.Flat, sig.Direction)
	_, ok := sig.ExitFor(models.Long)
	assert.False(t, ok)

	// Unknown stress fails the gate.
	sig = g.Evaluate(friday, 0.9, -0.1, -3, math.NaN())
	assert.Equal(t, models.Flat, sig.Direction)
	assert.False(t, sig.GatePassed)
}

func TestProperty_SignalRules(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cfg := testConfig()
	g, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("direction follows the thresholds and gate", prop.ForAll(
		func(z, stress float64) bool {
			sig := g.Evaluate(friday, 1, 0, z, stress)
			gate := stress < cfg.LiquidityThreshold
			switch sig.Direction {
			case models.Long:
				return gate && z < -cfg.EntryThreshold
			case models.Short:
				return gate && z > cfg.EntryThreshold
			default:
				return !gate || math.Abs(z) <= cfg.EntryThreshold
			}
		},
		gen.Float64Range(-5, 5),
		gen.Float64Range(-1, 1),
	))

	properties.Property("a new entry never coincides with its own exit", prop.ForAll(
		func(z, stress float64) bool {
			sig := g.Evaluate(friday, 1, 0, z, stress)
			if sig.Direction == models.Flat {
				return true
			}
			reason, ok := sig.ExitFor(sig.Direction)
			return !ok || reason == ""
		},
		gen.Float64Range(-5, 5),
		gen.Float64Range(-1, 0.2),
	))

	properties.TestingRun(t)
}

func TestZScore(t *testing.T) {
	window := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	z := ZScore(window, 10, 10)
	// mean 5.5, sample std ~3.0277
	assert.InDelta(t, 4.5/3.0276503540974917, z, 1e-12)

	assert.True(t, math.IsNaN(ZScore(window[:9], 9, 10)))
	assert.True(t, math.IsNaN(ZScore([]float64{2, 2, 2}, 2, 2)))
	assert.True(t, math.IsNaN(ZScore(window, math.NaN(), 2)))

	withGaps := []float64{math.NaN(), 1, 3, math.NaN()}
	assert.InDelta(t, 0.7071067811865476, ZScore(withGaps, 3, 2), 1e-12)
}

func TestGenerateUsesTrailingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.ZWindow = 5
	cfg.MinPeriods = 3
	g := newGenerator(t, cfg)

	devs := []float64{0.01, -0.01, 0.02, -0.02, 0.01, 0.0, -0.3}
	outcomes := make([]models.FitOutcome, len(devs))
	stress := StressIndex{}
	for i, d := range devs {
		date := friday.AddDate(0, 0, 7*i)
		outcomes[i] = models.FitOutcome{
			Date:   date,
			Actual: 1 + d,
			Fit:    models.WindowFit{Predicted: 1, CleanPredicted: 1},
			HasFit: true,
		}
		stress[date.Unix()] = 0
	}
	outcomes[1].HasFit = false

	signals := g.Generate(outcomes, stress)
	require.Len(t, signals, len(devs))

	assert.True(t, math.IsNaN(signals[0].ZScore))
	assert.True(t, math.IsNaN(signals[1].Deviation))
	assert.True(t, math.IsNaN(signals[2].ZScore), "only two valid deviations")

	last := signals[6]
	assert.InDelta(t, ZScore([]float64{0.02, -0.02, 0.01, 0.0, -0.3}, -0.3, 3), last.ZScore, 1e-12)
	assert.InDelta(t, -0.3, last.Deviation, 1e-12)
	assert.Equal(t, outcomes[6].Actual, last.Price)
}

func TestLiquidityStress(t *testing.T) {
	series := &models.Series{Instrument: "cof", LiquidityColumns: []string{"a", "b"}}
	for i := 0; i < 10; i++ {
		series.Observations = append(series.Observations, models.Observation{
			Date:      friday.AddDate(0, 0, 7*i),
			Liquidity: map[string]float64{"a": float64(i), "b": 1},
		})
	}

	index := LiquidityStress(series, 5)
	require.Len(t, index, 10)

	// Column b is constant and contributes nothing.
	assert.True(t, math.IsNaN(index.At(friday)))
	last := series.Observations[9].Date
	assert.InDelta(t, ZScore([]float64{5, 6, 7, 8, 9}, 9, 2), index.At(last), 1e-12)
	assert.Greater(t, index.At(last), 0.0)
	assert.True(t, math.IsNaN(index.At(friday.AddDate(1, 0, 0))))
}

func TestWithThresholds(t *testing.T) {
	g := newGenerator(t, testConfig())

	tight, err := g.WithThresholds(1.0, 0.2)
	require.NoError(t, err)
	assert.Equal(t, models.Long, tight.Evaluate(friday, 1, 0, -1.5, 0).Direction)
	assert.Equal(t, models.Flat, g.Evaluate(friday, 1, 0, -1.5, 0).Direction)

	_, err = g.WithThresholds(1.0, 1.5)
	assert.Error(t, err)
}
