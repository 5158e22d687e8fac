// Package backtest drives the full pipeline for one or more instruments:
// alignment, rolling fair value, signals, position management and
// performance reporting.
package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cof-trader/internal/align"
	"cof-trader/internal/config"
	"cof-trader/internal/fairvalue"
	"cof-trader/internal/logging"
	"cof-trader/internal/models"
	"cof-trader/internal/performance"
	"cof-trader/internal/position"
	"cof-trader/internal/signal"
)

// Observer receives window outcomes and closed trades.
type Observer interface {
	fairvalue.Observer
	position.TradeObserver
}

// Result is the full output of one instrument.
type Result struct {
	Instrument   string
	Series       *models.Series
	FairValue    *fairvalue.Result
	Stress       signal.StressIndex
	Signals      []models.Signal
	Trades       []models.Trade
	Marks        []models.MarkPoint
	OpenPosition *models.Position
	Summary      performance.Summary
	Elapsed      time.Duration
}

// Runner executes backtests. It is safe for concurrent use across
// instruments; each run owns its own position state.
type Runner struct {
	cfg      *config.Config
	logger   zerolog.Logger
	aligner  *align.Aligner
	model    *fairvalue.Model
	signals  *signal.Generator
	tracker  *performance.Tracker
	observer Observer
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver registers an observer for windows and trades.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// New validates cfg and builds every pipeline component.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	var err error
	if r.aligner, err = align.New(cfg.Align, logger); err != nil {
		return nil, err
	}
	var fvOpts []fairvalue.Option
	if r.observer != nil {
		fvOpts = append(fvOpts, fairvalue.WithObserver(r.observer))
	}
	if r.model, err = fairvalue.New(cfg.FairValue, logger, fvOpts...); err != nil {
		return nil, err
	}
	if r.signals, err = signal.New(cfg.Signal, logger); err != nil {
		return nil, err
	}
	r.tracker = performance.NewTracker(cfg.Performance, cfg.Position.InitialCapital)
	return r, nil
}

// Config returns the runner configuration.
func (r *Runner) Config() *config.Config {
	return r.cfg
}

// Tracker returns the performance tracker.
func (r *Runner) Tracker() *performance.Tracker {
	return r.tracker
}

// Run executes the full pipeline for one raw series.
func (r *Runner) Run(ctx context.Context, raw *models.Series) (*Result, error) {
	start := time.Now()
	logger := logging.WithOperation(logging.WithInstrument(r.logger, raw.Instrument), "backtest")

	series, fv, err := r.FairValue(ctx, raw)
	if err != nil {
		return nil, err
	}

	stress := signal.LiquidityStress(series, r.cfg.Signal.StressWindow)
	signals := r.signals.Generate(fv.Outcomes, stress)

	var tradeObs position.TradeObserver
	if r.observer != nil {
		tradeObs = r.observer
	}
	mgr, err := simulate(raw.Instrument, r.cfg.Position, signals, logger, tradeObs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Instrument:   raw.Instrument,
		Series:       series,
		FairValue:    fv,
		Stress:       stress,
		Signals:      signals,
		Trades:       mgr.Trades(),
		Marks:        mgr.Marks(),
		OpenPosition: mgr.Position(),
	}
	res.Summary = r.tracker.Summarize(raw.Instrument, res.Trades, res.Marks)
	res.Elapsed = time.Since(start)

	logger.Info().
		Int("trades", res.Summary.NumTrades).
		Float64("total_pnl", res.Summary.TotalPnL).
		Float64("sharpe", res.Summary.SharpeRatio).
		Float64("max_drawdown", res.Summary.MaxDrawdown).
		Dur("elapsed", res.Elapsed).
		Msg("Backtest completed")

	return res, nil
}

// FairValue aligns a raw series and runs the rolling fair-value model.
func (r *Runner) FairValue(ctx context.Context, raw *models.Series) (*models.Series, *fairvalue.Result, error) {
	series, err := r.aligner.Prepare(raw)
	if err != nil {
		return nil, nil, err
	}
	fv, err := r.model.Run(ctx, series)
	if err != nil {
		return nil, nil, err
	}
	return series, fv, nil
}

// RunAll runs every instrument concurrently. Instruments share no mutable
// state; results keep the input order. The first error cancels the rest.
func (r *Runner) RunAll(ctx context.Context, series []*models.Series) ([]*Result, error) {
	results := make([]*Result, len(series))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range series {
		i, s := i, s
		g.Go(func() error {
			res, err := r.Run(gctx, s)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Portfolio combines the equity series of several results.
func (r *Runner) Portfolio(results []*Result, weights map[string]float64) (*performance.PortfolioSummary, error) {
	marks := make(map[string][]models.MarkPoint, len(results))
	for _, res := range results {
		marks[res.Instrument] = res.Marks
	}
	if len(weights) == 0 {
		weights = r.cfg.Performance.Weights
	}
	return r.tracker.Combine(marks, weights)
}

// simulate feeds signals through a fresh position manager in date order.
func simulate(instrument string, cfg config.PositionConfig, signals []models.Signal, logger zerolog.Logger, obs position.TradeObserver) (*position.Manager, error) {
	var opts []position.Option
	if obs != nil {
		opts = append(opts, position.WithTradeObserver(obs))
	}
	mgr, err := position.New(instrument, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	for _, sig := range signals {
		if _, err := mgr.Step(sig); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// Observers fans events out to several observers in order.
type Observers []Observer

// ObserveWindow forwards the outcome to every observer.
func (obs Observers) ObserveWindow(instrument string, outcome models.FitOutcome) {
	for _, o := range obs {
		o.ObserveWindow(instrument, outcome)
	}
}

// ObserveTrade forwards the trade to every observer.
func (obs Observers) ObserveTrade(instrument string, trade models.Trade) {
	for _, o := range obs {
		o.ObserveTrade(instrument, trade)
	}
}
