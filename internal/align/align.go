// Package align prepares raw observation series for the curve fit: it orders
// observations by date, forward-fills bounded gaps and builds value-sorted
// (positioning, cost) pairs that always travel together.
package align

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"cof-trader/internal/config"
	"cof-trader/internal/errors"
	"cof-trader/internal/models"
)

const (
	columnPositioning = "positioning"
	columnCost        = "cost"
)

// Aligner orders, fills and pairs observations.
type Aligner struct {
	cfg    config.AlignConfig
	logger zerolog.Logger
}

// New creates an Aligner.
func New(cfg config.AlignConfig, logger zerolog.Logger) (*Aligner, error) {
	if cfg.MaxGap < 0 {
		return nil, errors.NewValidationError("align.max_gap", cfg.MaxGap, "must be non-negative")
	}
	return &Aligner{cfg: cfg, logger: logger}, nil
}

// Prepare returns a copy of the series sorted by date with missing values
// forward-filled. Leading rows without a positioning or cost value are dropped;
// any later run of missing values longer than MaxGap fails with a DataGapError.
func (a *Aligner) Prepare(series *models.Series) (*models.Series, error) {
	obs := make([]models.Observation, len(series.Observations))
	for i, o := range series.Observations {
		obs[i] = copyObservation(o)
	}

	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Date.Before(obs[j].Date)
	})
	for i := 1; i < len(obs); i++ {
		if obs[i].Date.Equal(obs[i-1].Date) {
			return nil, errors.Wrapf(errors.ErrDuplicateObservation, "%s %s",
				series.Instrument, obs[i].Date.Format("2006-01-02"))
		}
	}

	start := 0
	for start < len(obs) && (isMissing(obs[start].Positioning) || isMissing(obs[start].Cost)) {
		start++
	}
	if start > 0 {
		a.logger.Debug().
			Str("instrument", series.Instrument).
			Int("dropped", start).
			Msg("Dropped leading rows without positioning or cost")
	}
	obs = obs[start:]

	out := &models.Series{
		Instrument:       series.Instrument,
		LiquidityColumns: append([]string(nil), series.LiquidityColumns...),
		Observations:     obs,
	}

	err := a.fill(out, columnPositioning,
		func(o *models.Observation) float64 { return o.Positioning },
		func(o *models.Observation, v float64) { o.Positioning = v })
	if err != nil {
		return nil, err
	}
	err = a.fill(out, columnCost,
		func(o *models.Observation) float64 { return o.Cost },
		func(o *models.Observation, v float64) { o.Cost = v })
	if err != nil {
		return nil, err
	}
	for _, name := range out.LiquidityColumns {
		name := name
		err := a.fill(out, name,
			func(o *models.Observation) float64 { return o.LiquidityValue(name) },
			func(o *models.Observation, v float64) { o.Liquidity[name] = v })
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// fill forward-fills one column in place. Values missing before the first
// valid value stay missing.
func (a *Aligner) fill(s *models.Series, column string, get func(*models.Observation) float64, set func(*models.Observation, float64)) error {
	obs := s.Observations
	last := math.NaN()
	run := 0
	runStart := -1

	for i := range obs {
		v := get(&obs[i])
		if !isMissing(v) {
			last = v
			run = 0
			continue
		}
		if isMissing(last) {
			continue
		}
		if run == 0 {
			runStart = i
		}
		run++
		if run > a.cfg.MaxGap {
			end := runStart
			for end+1 < len(obs) && isMissing(get(&obs[end+1])) {
				end++
			}
			return errors.Wrap(errors.NewDataGapError(
				s.Instrument+"/"+column, obs[runStart].Date, obs[end].Date, end-runStart+1, a.cfg.MaxGap,
			), "aligning observations")
		}
		set(&obs[i], last)
	}
	return nil
}

// Pairs builds (positioning, cost) pairs from observations and sorts them by
// positioning value. Each cost moves with its own key.
func Pairs(obs []models.Observation) []models.Pair {
	pairs := make([]models.Pair, len(obs))
	for i, o := range obs {
		pairs[i] = models.Pair{X: o.Positioning, Y: o.Cost}
	}
	SortPairs(pairs)
	return pairs
}

// SortPairs sorts pairs by X, breaking ties by Y.
func SortPairs(pairs []models.Pair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].X != pairs[j].X {
			return pairs[i].X < pairs[j].X
		}
		return pairs[i].Y < pairs[j].Y
	})
}

// CheckMonotonic verifies that cost is non-decreasing over value-sorted pairs.
func CheckMonotonic(window string, pairs []models.Pair) error {
	for i := 0; i+1 < len(pairs); i++ {
		if pairs[i+1].Y < pairs[i].Y {
			return errors.NewMonotonicityViolation(window,
				i, pairs[i].X, pairs[i].Y, pairs[i+1].X, pairs[i+1].Y)
		}
	}
	return nil
}

// WindowPairs pairs, value-sorts and validates one window of observations.
func WindowPairs(window string, obs []models.Observation) ([]models.Pair, error) {
	for _, o := range obs {
		if isMissing(o.Positioning) || isMissing(o.Cost) {
			return nil, errors.NewDataError(window, "", fmt.Sprintf("missing value on %s", o.Date.Format("2006-01-02")), errors.ErrInputValidation)
		}
	}
	pairs := Pairs(obs)
	if err := CheckMonotonic(window, pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func copyObservation(o models.Observation) models.Observation {
	liq := make(map[string]float64, len(o.Liquidity))
	for k, v := range o.Liquidity {
		liq[k] = v
	}
	o.Liquidity = liq
	return o
}

func isMissing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
