package backtest

import (
	"encoding/json"
	"math"

	"cof-trader/internal/errors"
	"cof-trader/internal/models"
	"cof-trader/internal/signal"
)

// Prediction is a what-if fair value for a hypothetical positioning level,
// measured against the latest observed cost.
type Prediction struct {
	Instrument  string
	Positioning float64
	// Liquidity is NaN when the fit has no liquidity adjustment.
	Liquidity float64
	Predicted float64
	Current   float64
	Deviation float64
	// ZScore is NaN until min_periods deviations with a non-zero spread exist.
	ZScore    float64
	Direction models.Direction
}

// MarshalJSON writes non-finite values as null.
func (p Prediction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Instrument  string           `json:"instrument"`
		Positioning *float64         `json:"positioning"`
		Liquidity   *float64         `json:"liquidity"`
		Predicted   *float64         `json:"predicted"`
		Current     *float64         `json:"current"`
		Deviation   *float64         `json:"deviation"`
		ZScore      *float64         `json:"z_score"`
		Direction   models.Direction `json:"direction"`
	}{
		Instrument:  p.Instrument,
		Positioning: finite(p.Positioning),
		Liquidity:   finite(p.Liquidity),
		Predicted:   finite(p.Predicted),
		Current:     finite(p.Current),
		Deviation:   finite(p.Deviation),
		ZScore:      finite(p.ZScore),
		Direction:   p.Direction,
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Predict evaluates the last fitted curve of res at positioning. A NaN
// liquidity uses the latest observed value of the adjustment column. The
// deviation is standardized against the trailing deviation history.
func (r *Runner) Predict(res *Result, positioning, liquidity float64) (*Prediction, error) {
	if res == nil || res.FairValue == nil || len(res.Series.Observations) == 0 {
		return nil, errors.Wrap(errors.ErrNoFit, "predict: no result")
	}
	if math.IsNaN(positioning) || math.IsInf(positioning, 0) {
		return nil, errors.NewValidationError("positioning", positioning, "must be finite")
	}

	last := res.Series.Observations[len(res.Series.Observations)-1]
	if math.IsNaN(liquidity) && res.FairValue.LiquidityColumn != "" {
		liquidity = last.LiquidityValue(res.FairValue.LiquidityColumn)
	}

	predicted, err := res.FairValue.PredictAt(positioning, liquidity)
	if err != nil {
		return nil, err
	}

	devs := signal.Deviations(res.FairValue.Outcomes)
	lo := len(devs) - r.cfg.Signal.ZWindow
	if lo < 0 {
		lo = 0
	}
	deviation := last.Cost - predicted
	z := signal.ZScore(devs[lo:], deviation, r.cfg.Signal.MinPeriods)
	sig := r.signals.Evaluate(last.Date, last.Cost, deviation, z, res.Stress.At(last.Date))

	return &Prediction{
		Instrument:  res.Instrument,
		Positioning: positioning,
		Liquidity:   liquidity,
		Predicted:   predicted,
		Current:     last.Cost,
		Deviation:   deviation,
		ZScore:      z,
		Direction:   sig.Direction,
	}, nil
}
