// Package metrics records run counters in Prometheus form and writes them
// to a node-exporter textfile.
//
// Exposed series:
//   - coftrader_windows_total{instrument,status}        fitted or skip reason
//   - coftrader_stability_warnings_total{instrument}
//   - coftrader_trades_total{instrument,direction,exit_reason}
//   - coftrader_realized_pnl{instrument}
//   - coftrader_chosen_lambda{instrument}               last fitted window
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"cof-trader/internal/models"
)

const statusFitted = "fitted"

// Recorder owns its own registry so concurrent runs never share state.
type Recorder struct {
	registry *prometheus.Registry

	windows   *prometheus.CounterVec
	stability *prometheus.CounterVec
	trades    *prometheus.CounterVec
	pnl       *prometheus.GaugeVec
	lambda    *prometheus.GaugeVec

	mu       sync.Mutex
	realized map[string]float64
}

// NewRecorder creates a Recorder with all series registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		windows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coftrader_windows_total",
				Help: "Rolling windows processed, by fit status or skip reason.",
			},
			[]string{"instrument", "status"},
		),
		stability: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coftrader_stability_warnings_total",
				Help: "Windows whose chosen smoothing strength had unstable cross-validation scores.",
			},
			[]string{"instrument"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coftrader_trades_total",
				Help: "Closed trades by direction and exit reason.",
			},
			[]string{"instrument", "direction", "exit_reason"},
		),
		pnl: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coftrader_realized_pnl",
				Help: "Cumulative realized PnL in price units.",
			},
			[]string{"instrument"},
		),
		lambda: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coftrader_chosen_lambda",
				Help: "Smoothing strength chosen for the most recent fitted window.",
			},
			[]string{"instrument"},
		),
		realized: make(map[string]float64),
	}
	r.registry.MustRegister(r.windows, r.stability, r.trades, r.pnl, r.lambda)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveWindow records one fair-value window outcome.
func (r *Recorder) ObserveWindow(instrument string, o models.FitOutcome) {
	if o.OK() {
		r.windows.WithLabelValues(instrument, statusFitted).Inc()
		r.lambda.WithLabelValues(instrument).Set(o.Fit.Lambda)
		if o.Fit.Unstable {
			r.stability.WithLabelValues(instrument).Inc()
		}
		return
	}
	r.windows.WithLabelValues(instrument, string(o.Skip)).Inc()
}

// ObserveTrade records one closed trade.
func (r *Recorder) ObserveTrade(instrument string, t models.Trade) {
	r.trades.WithLabelValues(instrument, string(t.Direction), string(t.ExitReason)).Inc()

	r.mu.Lock()
	r.realized[instrument] += t.PnL
	total := r.realized[instrument]
	r.mu.Unlock()
	r.pnl.WithLabelValues(instrument).Set(total)
}

// WriteTextfile writes every series to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
