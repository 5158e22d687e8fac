// Package position owns the single open position of an instrument: sizing,
// scale-ins, stop-loss enforcement and the append-only trade ledger.
package position

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"cof-trader/internal/config"
	"cof-trader/internal/errors"
	"cof-trader/internal/logging"
	"cof-trader/internal/models"
)

// baseUnit is the size of an initial entry and of every scale-in.
const baseUnit = 1.0

// TradeObserver receives every trade as it is recorded.
type TradeObserver interface {
	ObserveTrade(instrument string, trade models.Trade)
}

// Manager is the Flat/Long/Short state machine for one instrument.
type Manager struct {
	cfg        config.PositionConfig
	instrument string
	logger     zerolog.Logger
	observer   TradeObserver

	position *models.Position
	trades   []models.Trade
	marks    []models.MarkPoint
	realized float64
	period   int
	lastDate time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTradeObserver registers a trade observer.
func WithTradeObserver(o TradeObserver) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// New validates the configuration and creates a flat Manager.
func New(instrument string, cfg config.PositionConfig, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		instrument: instrument,
		logger:     logging.WithInstrument(logger, instrument),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current direction and size.
func (m *Manager) State() (models.Direction, float64) {
	if m.position == nil {
		return models.Flat, 0
	}
	return m.position.Direction, m.position.Size
}

// Position returns a copy of the open position, or nil when flat.
func (m *Manager) Position() *models.Position {
	if m.position == nil {
		return nil
	}
	p := *m.position
	p.SizePath = append([]float64(nil), m.position.SizePath...)
	return &p
}

// Trades returns the trade ledger.
func (m *Manager) Trades() []models.Trade {
	return append([]models.Trade(nil), m.trades...)
}

// Marks returns the per-period mark-to-market series.
func (m *Manager) Marks() []models.MarkPoint {
	return append([]models.MarkPoint(nil), m.marks...)
}

// Realized returns the cumulative realized PnL.
func (m *Manager) Realized() float64 {
	return m.realized
}

// Step advances the state machine by one period. Each period the stop-loss
// is checked first, then the exit signal, then a scale-in; an entry from Flat
// is evaluated last, so a position closed this period may be re-opened by a
// qualifying signal. It returns the trade closed this period, if any.
func (m *Manager) Step(sig models.Signal) (*models.Trade, error) {
	if !m.lastDate.IsZero() && !sig.Date.After(m.lastDate) {
		return nil, errors.NewValidationError("signal.date", sig.Date,
			fmt.Sprintf("must be after %s", m.lastDate.Format("2006-01-02")))
	}
	if math.IsNaN(sig.Price) || math.IsInf(sig.Price, 0) {
		return nil, errors.NewValidationError("signal.price", sig.Price, "must be finite")
	}

	var closed *models.Trade
	if p := m.position; p != nil {
		if loss := -p.FloatingPnL(sig.Price); loss >= m.cfg.MaxLoss {
			closed = m.close(sig, models.ExitStopLoss)
		} else if reason, ok := sig.ExitFor(p.Direction); ok {
			closed = m.close(sig, reason)
		} else if m.shouldScale(p, sig) {
			m.scaleIn(p, sig)
		}
	}

	if m.position == nil && sig.Direction != models.Flat {
		m.open(sig)
	}

	m.mark(sig)
	m.lastDate = sig.Date
	m.period++
	return closed, nil
}

func (m *Manager) shouldScale(p *models.Position, sig models.Signal) bool {
	if !sig.GatePassed || math.IsNaN(sig.ZScore) || p.Size >= m.cfg.MaxPositionSize {
		return false
	}
	switch p.Direction {
	case models.Long:
		return sig.ZScore < -m.cfg.DoubleThreshold
	case models.Short:
		return sig.ZScore > m.cfg.DoubleThreshold
	}
	return false
}

func (m *Manager) open(sig models.Signal) {
	m.position = &models.Position{
		Direction:  sig.Direction,
		Size:       baseUnit,
		AvgEntry:   sig.Price,
		EntryDate:  sig.Date,
		EntryIndex: m.period,
		SizePath:   []float64{baseUnit},
	}
	m.position.StopLevel = m.stopLevel(m.position)

	m.logger.Debug().
		Str("event", "entry").
		Str("direction", string(sig.Direction)).
		Time("date", sig.Date).
		Float64("price", sig.Price).
		Float64("z_score", sig.ZScore).
		Msg("Position opened")
}

func (m *Manager) scaleIn(p *models.Position, sig models.Signal) {
	add := math.Min(baseUnit, m.cfg.MaxPositionSize-p.Size)
	newSize := p.Size + add
	p.AvgEntry = (p.AvgEntry*p.Size + sig.Price*add) / newSize
	p.Size = newSize
	p.SizePath = append(p.SizePath, newSize)
	p.StopLevel = m.stopLevel(p)

	m.logger.Debug().
		Str("event", "scale_in").
		Time("date", sig.Date).
		Float64("size", p.Size).
		Float64("avg_entry", p.AvgEntry).
		Msg("Position scaled in")
}

func (m *Manager) close(sig models.Signal, reason models.ExitReason) *models.Trade {
	p := m.position
	gross := p.FloatingPnL(sig.Price)
	cost := m.cfg.TransactionCost * math.Abs(sig.Price) * p.Size
	pnl := gross - cost

	trade := models.Trade{
		ID:         fmt.Sprintf("%s-%04d", m.instrument, len(m.trades)+1),
		Instrument: m.instrument,
		EntryDate:  p.EntryDate,
		ExitDate:   sig.Date,
		Direction:  p.Direction,
		SizePath:   append([]float64(nil), p.SizePath...),
		EntryPrice: p.AvgEntry,
		ExitPrice:  sig.Price,
		Cost:       cost,
		PnL:        pnl,
		Duration:   sig.Date.Sub(p.EntryDate),
		Periods:    m.period - p.EntryIndex,
		ExitReason: reason,
	}
	m.trades = append(m.trades, trade)
	m.realized += pnl
	m.position = nil

	logging.LogTrade(m.logger, trade)
	if m.observer != nil {
		m.observer.ObserveTrade(m.instrument, trade)
	}
	return &trade
}

// stopLevel is the price at which the floating loss reaches MaxLoss.
func (m *Manager) stopLevel(p *models.Position) float64 {
	return p.AvgEntry - p.Direction.Sign()*m.cfg.MaxLoss/p.Size
}

func (m *Manager) mark(sig models.Signal) {
	point := models.MarkPoint{
		Date:      sig.Date,
		Direction: models.Flat,
		Realized:  m.realized,
	}
	if p := m.position; p != nil {
		point.Direction = p.Direction
		point.Size = p.Size
		point.Unrealized = p.FloatingPnL(sig.Price)
	}
	point.Equity = m.cfg.InitialCapital + point.Realized + point.Unrealized
	m.marks = append(m.marks, point)
}
