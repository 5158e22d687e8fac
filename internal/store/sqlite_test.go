package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cof-trader/internal/models"
	"cof-trader/internal/performance"
)

var firstFriday = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cof.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun() *Run {
	fit := models.WindowFit{
		WindowEnd:      firstFriday,
		Lambda:         1e5,
		Predicted:      0.51,
		CleanPredicted: 0.5,
		RSquared:       0.93,
		MSE:            0.0004,
		NPoints:        52,
		CVMean:         0.8,
		CVStdDev:       math.NaN(),
	}
	skipped := models.FitOutcome{
		Date:       firstFriday.AddDate(0, 0, 7),
		Actual:     0.55,
		Fit:        fit,
		HasFit:     true,
		Skip:       models.SkipMonotonicity,
		SkipDetail: "decrease at 3",
		CarriedFwd: true,
	}
	skipped.Fit.WindowEnd = skipped.Date

	trades := []models.Trade{
		{
			ID: "cof-0001", Instrument: "cof", EntryDate: firstFriday, ExitDate: firstFriday.AddDate(0, 0, 21),
			Direction: models.Long, SizePath: []float64{1, 2}, EntryPrice: 0.45, ExitPrice: 0.5,
			Cost: 0.0001, PnL: 0.0999, Duration: 21 * 24 * time.Hour, Periods: 3, ExitReason: models.ExitSignalReversal,
		},
		{
			ID: "cof-0002", Instrument: "cof", EntryDate: firstFriday.AddDate(0, 1, 0), ExitDate: firstFriday.AddDate(0, 2, 0),
			Direction: models.Short, SizePath: []float64{1}, EntryPrice: 0.6, ExitPrice: 0.7,
			Cost: 0.0001, PnL: -0.1001, Duration: 28 * 24 * time.Hour, Periods: 4, ExitReason: models.ExitStopLoss,
		},
	}

	return &Run{
		Source: "input.xlsx",
		Config: `{"fair_value":{"window_size":52}}`,
		Instruments: []InstrumentRun{
			{
				Instrument:    "cof",
				LiquidityBeta: 0.3,
				Outcomes:      []models.FitOutcome{{Date: firstFriday, Actual: 0.52, Fit: fit, HasFit: true}, skipped},
				Trades:        trades,
				Summary: performance.Summary{
					Instrument:  "cof",
					NumTrades:   2,
					TotalPnL:    -0.0002,
					SharpeRatio: math.Inf(1),
					ExitReasons: map[models.ExitReason]int{models.ExitSignalReversal: 1, models.ExitStopLoss: 1},
				},
			},
			{Instrument: "sofr_ois", LiquidityBeta: math.NaN()},
		},
	}
}

func TestSaveRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	require.NoError(t, s.SaveRun(ctx, run))
	require.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	outcomes, err := s.GetFairValues(ctx, run.ID, "cof")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	first := outcomes[0]
	assert.WithinDuration(t, firstFriday, first.Date, 0)
	assert.True(t, first.OK())
	assert.Equal(t, 0.51, first.Fit.Predicted)
	assert.Equal(t, 1e5, first.Fit.Lambda)
	assert.Equal(t, 52, first.Fit.NPoints)
	assert.True(t, math.IsNaN(first.Fit.CVStdDev))

	second := outcomes[1]
	assert.Equal(t, models.SkipMonotonicity, second.Skip)
	assert.Equal(t, "decrease at 3", second.SkipDetail)
	assert.True(t, second.CarriedFwd)
	assert.True(t, second.HasFit)

	trades, err := s.GetTrades(ctx, TradeFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for i, want := range run.Instruments[0].Trades {
		got := trades[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.SizePath, got.SizePath)
		assert.Equal(t, want.PnL, got.PnL)
		assert.Equal(t, want.Duration, got.Duration)
		assert.Equal(t, want.ExitReason, got.ExitReason)
		assert.WithinDuration(t, want.ExitDate, got.ExitDate, 0)
	}

	stops, err := s.GetTrades(ctx, TradeFilter{RunID: run.ID, ExitReason: models.ExitStopLoss})
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "cof-0002", stops[0].ID)

	summaries, err := s.GetSummaries(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 2, summaries["cof"].NumTrades)
	assert.Equal(t, 0.0, summaries["cof"].SharpeRatio)
	assert.Equal(t, 1, summaries["cof"].ExitReasons[models.ExitStopLoss])
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := sampleRun()
	run.ID = "fixed"
	require.NoError(t, s.SaveRun(ctx, run))
	dup := sampleRun()
	dup.ID = "fixed"
	assert.Error(t, s.SaveRun(ctx, dup))

	// The failed transaction left nothing behind.
	trades, err := s.GetTrades(ctx, TradeFilter{RunID: "fixed"})
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleRun()
	older.CreatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(ctx, older))

	newer := &Run{CreatedAt: older.CreatedAt.Add(time.Hour), Source: "other.csv",
		Instruments: []InstrumentRun{{Instrument: "cof"}}}
	require.NoError(t, s.SaveRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, 0, runs[0].NumTrades)

	assert.Equal(t, older.ID, runs[1].ID)
	assert.Equal(t, []string{"cof", "sofr_ois"}, runs[1].Instruments)
	assert.Equal(t, 2, runs[1].NumTrades)
	assert.InDelta(t, -0.0002, runs[1].TotalPnL, 1e-12)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// Saving a ledger and reading it back yields the same trades.
func TestProperty_TradeRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	run := 0
	properties.Property("trades survive a save and load", prop.ForAll(
		func(count int, entry, pnl float64, scaled bool) bool {
			ctx := context.Background()
			run++

			trades := make([]models.Trade, count)
			for i := range trades {
				path := []float64{1}
				if scaled {
					path = append(path, 2)
				}
				open := firstFriday.AddDate(0, 0, 7*i)
				trades[i] = models.Trade{
					ID:         fmt.Sprintf("cof-%04d", i+1),
					Instrument: "cof",
					EntryDate:  open,
					ExitDate:   open.AddDate(0, 0, 7),
					Direction:  models.Long,
					SizePath:   path,
					EntryPrice: entry,
					ExitPrice:  entry + pnl,
					PnL:        pnl * path[len(path)-1],
					Duration:   7 * 24 * time.Hour,
					Periods:    1,
					ExitReason: models.ExitSignalReversal,
				}
			}

			r := &Run{ID: fmt.Sprintf("run-%d", run), Instruments: []InstrumentRun{{Instrument: "cof", Trades: trades}}}
			if err := s.SaveRun(ctx, r); err != nil {
				t.Logf("save: %v", err)
				return false
			}
			got, err := s.GetTrades(ctx, TradeFilter{RunID: r.ID, Instrument: "cof"})
			if err != nil || len(got) != len(trades) {
				return false
			}
			for i := range trades {
				if got[i].ID != trades[i].ID || got[i].PnL != trades[i].PnL ||
					got[i].EntryPrice != trades[i].EntryPrice ||
					len(got[i].SizePath) != len(trades[i].SizePath) ||
					!got[i].EntryDate.Equal(trades[i].EntryDate) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.Float64Range(-2, 8),
		gen.Float64Range(-1, 1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(fmt.Errorf("save: %w", sqlite3.Error{Code: sqlite3.ErrBusy})))
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(fmt.Errorf("plain")))
}
