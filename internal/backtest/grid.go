package backtest

import (
	"context"
	"fmt"

	"cof-trader/internal/errors"
	"cof-trader/internal/models"
	"cof-trader/internal/performance"
	"cof-trader/internal/signal"
)

// GridPoint is the outcome of one entry/exit threshold combination.
type GridPoint struct {
	EntryThreshold float64             `json:"entry_threshold"`
	ExitThreshold  float64             `json:"exit_threshold"`
	Summary        performance.Summary `json:"summary"`
}

// GridSearch evaluates every valid (entry, exit) threshold pair against a
// single fair-value fit and returns the points ranked by Sharpe ratio.
// Pairs with exit >= entry are skipped.
func (r *Runner) GridSearch(ctx context.Context, raw *models.Series, entries, exits []float64) ([]GridPoint, error) {
	if len(entries) == 0 || len(exits) == 0 {
		return nil, errors.Wrap(errors.ErrInputValidation, "grid search: empty threshold grid")
	}

	series, fv, err := r.FairValue(ctx, raw)
	if err != nil {
		return nil, err
	}
	stress := signal.LiquidityStress(series, r.cfg.Signal.StressWindow)

	results := make(map[string]performance.Summary)
	points := make(map[string]GridPoint)
	for _, entry := range entries {
		for _, exit := range exits {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if exit >= entry {
				continue
			}
			gen, err := r.signals.WithThresholds(entry, exit)
			if err != nil {
				return nil, err
			}
			mgr, err := simulate(raw.Instrument, r.cfg.Position, gen.Generate(fv.Outcomes, stress), r.logger, nil)
			if err != nil {
				return nil, err
			}
			label := fmt.Sprintf("entry=%g exit=%g", entry, exit)
			sum := r.tracker.Summarize(raw.Instrument, mgr.Trades(), mgr.Marks())
			results[label] = sum
			points[label] = GridPoint{EntryThreshold: entry, ExitThreshold: exit, Summary: sum}
		}
	}
	if len(points) == 0 {
		return nil, errors.Wrap(errors.ErrInputValidation, "grid search: no pair with exit below entry")
	}

	ranked := performance.Rank(results)
	out := make([]GridPoint, 0, len(ranked))
	for _, rk := range ranked {
		out = append(out, points[rk.Label])
	}
	return out, nil
}
