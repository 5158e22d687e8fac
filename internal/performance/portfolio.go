package performance

import (
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"cof-trader/internal/errors"
	"cof-trader/internal/models"
)

// PortfolioSummary reports a weighted combination of instruments.
type PortfolioSummary struct {
	Weights          map[string]float64 `json:"weights"`
	Periods          int                `json:"periods"`
	TotalReturn      float64            `json:"total_return"`
	AnnualizedReturn float64            `json:"annualized_return"`
	Volatility       float64            `json:"volatility"`
	SharpeRatio      float64            `json:"sharpe_ratio"`
	MaxDrawdown      float64            `json:"max_drawdown"`
	Equity           []models.MarkPoint `json:"-"`
}

// Combine sums the weighted per-period equity changes of each instrument on
// a common date axis. Missing weights default to equal weighting; an
// instrument without a mark on a date contributes nothing for that date.
func (t *Tracker) Combine(marks map[string][]models.MarkPoint, weights map[string]float64) (*PortfolioSummary, error) {
	if len(marks) == 0 {
		return nil, errors.Wrap(errors.ErrInputValidation, "portfolio: no instruments")
	}

	names := make([]string, 0, len(marks))
	for name := range marks {
		names = append(names, name)
	}
	sort.Strings(names)

	w := make(map[string]float64, len(names))
	if len(weights) == 0 {
		for _, name := range names {
			w[name] = 1 / float64(len(names))
		}
	} else {
		for _, name := range names {
			v, ok := lookupWeight(weights, name)
			if !ok {
				return nil, errors.Wrapf(errors.ErrUnknownInstrument, "portfolio: no weight for %s", name)
			}
			w[name] = v
		}
	}

	deltas := make(map[int64]float64)
	dates := make(map[int64]time.Time)
	base := 0.0
	for _, name := range names {
		series := marks[name]
		prev := t.initialCapital
		for _, m := range series {
			key := m.Date.Unix()
			deltas[key] += w[name] * (m.Equity - prev)
			dates[key] = m.Date
			prev = m.Equity
		}
		base += w[name] * t.initialCapital
	}

	keys := make([]int64, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	ps := &PortfolioSummary{Weights: w, Periods: len(keys)}
	equity := base
	returns := make([]float64, 0, len(keys))
	for _, k := range keys {
		prev := equity
		equity += deltas[k]
		ps.Equity = append(ps.Equity, models.MarkPoint{Date: dates[k], Equity: equity})
		if base > 0 {
			if prev > 0 {
				returns = append(returns, (equity-prev)/prev)
			}
			continue
		}
		returns = append(returns, deltas[k])
	}

	ps.TotalReturn = equity - base
	if base > 0 {
		ps.TotalReturn /= base
	}
	ps.SharpeRatio = Sharpe(returns, t.periodsPerYear)
	if len(returns) > 0 {
		ps.AnnualizedReturn = stat.Mean(returns, nil) * t.periodsPerYear
	}
	if len(returns) > 1 {
		ps.Volatility = stat.StdDev(returns, nil) * math.Sqrt(t.periodsPerYear)
	}
	ps.MaxDrawdown = MaxDrawdown(Equity(ps.Equity))
	return ps, nil
}

// lookupWeight matches an instrument exactly, then ignoring case.
func lookupWeight(weights map[string]float64, name string) (float64, bool) {
	if v, ok := weights[name]; ok {
		return v, true
	}
	for k, v := range weights {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return 0, false
}
