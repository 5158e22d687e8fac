// Package signal turns the gap between actual and fair-value financing cost
// into standardized, liquidity-gated trading signals.
package signal

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"cof-trader/internal/config"
	"cof-trader/internal/models"
)

// StressIndex maps observation dates to composite liquidity stress.
type StressIndex map[int64]float64

// At returns the stress on date t, or NaN when unknown.
func (s StressIndex) At(t time.Time) float64 {
	if v, ok := s[t.Unix()]; ok {
		return v
	}
	return math.NaN()
}

// Generator produces signals. It holds configuration only; Generate is a
// pure function of its inputs.
type Generator struct {
	cfg    config.SignalConfig
	logger zerolog.Logger
}

// New validates the configuration and creates a Generator.
func New(cfg config.SignalConfig, logger zerolog.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, logger: logger}, nil
}

// Config returns the generator configuration.
func (g *Generator) Config() config.SignalConfig {
	return g.cfg
}

// WithThresholds returns a copy of the generator with new entry and exit thresholds.
func (g *Generator) WithThresholds(entry, exit float64) (*Generator, error) {
	cfg := g.cfg
	cfg.EntryThreshold = entry
	cfg.ExitThreshold = exit
	return New(cfg, g.logger)
}

// Deviations returns actual minus predicted cost per outcome; outcomes
// without any fit yield NaN.
func Deviations(outcomes []models.FitOutcome) []float64 {
	devs := make([]float64, len(outcomes))
	for i, o := range outcomes {
		if !o.HasFit {
			devs[i] = math.NaN()
			continue
		}
		devs[i] = o.Actual - o.Fit.Predicted
	}
	return devs
}

// Generate emits one signal per fair-value outcome.
func (g *Generator) Generate(outcomes []models.FitOutcome, stress StressIndex) []models.Signal {
	devs := Deviations(outcomes)
	signals := make([]models.Signal, len(outcomes))
	for i, o := range outcomes {
		lo := i - g.cfg.ZWindow + 1
		if lo < 0 {
			lo = 0
		}
		z := ZScore(devs[lo:i+1], devs[i], g.cfg.MinPeriods)
		signals[i] = g.Evaluate(o.Date, o.Actual, devs[i], z, stress.At(o.Date))
	}
	return signals
}

// Evaluate applies the entry, exit and liquidity-gate rules to one period.
func (g *Generator) Evaluate(date time.Time, price, deviation, z, stress float64) models.Signal {
	sig := models.Signal{
		Date:            date,
		Price:           price,
		Deviation:       deviation,
		ZScore:          z,
		LiquidityStress: stress,
		Direction:       models.Flat,
		GatePassed:      g.cfg.DisableLiquidityGate || stress < g.cfg.LiquidityThreshold,
	}
	stressed := !g.cfg.DisableLiquidityGate && stress > g.cfg.LiquidityThreshold

	if !math.IsNaN(z) && sig.GatePassed {
		switch {
		case z < -g.cfg.EntryThreshold:
			sig.Direction = models.Long
		case z > g.cfg.EntryThreshold:
			sig.Direction = models.Short
		}
	}

	// Exits are honoured regardless of the gate.
	switch {
	case !math.IsNaN(z) && z > -g.cfg.ExitThreshold:
		sig.CloseLong = models.ExitSignalReversal
	case stressed:
		sig.CloseLong = models.ExitLiquidityGate
	}
	switch {
	case !math.IsNaN(z) && z < g.cfg.ExitThreshold:
		sig.CloseShort = models.ExitSignalReversal
	case stressed:
		sig.CloseShort = models.ExitLiquidityGate
	}

	return sig
}

// ZScore standardizes value against the non-missing entries of window.
// It returns NaN with fewer than minPeriods entries or zero dispersion.
func ZScore(window []float64, value float64, minPeriods int) float64 {
	if math.IsNaN(value) {
		return math.NaN()
	}
	valid := make([]float64, 0, len(window))
	for _, v := range window {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < minPeriods || len(valid) < 2 {
		return math.NaN()
	}
	mean, std := stat.MeanStdDev(valid, nil)
	if std == 0 || math.IsNaN(std) {
		return math.NaN()
	}
	return (value - mean) / std
}
