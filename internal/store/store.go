// Package store persists backtest runs: fair-value series, trade ledgers
// and performance summaries.
package store

import (
	"context"
	"time"

	"cof-trader/internal/models"
	"cof-trader/internal/performance"
)

// ResultStore defines the interface for run persistence.
type ResultStore interface {
	SaveRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	GetFairValues(ctx context.Context, runID, instrument string) ([]models.FitOutcome, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	GetSummaries(ctx context.Context, runID string) (map[string]performance.Summary, error)

	Close() error
}

// Run is one complete backtest over one or more instruments.
type Run struct {
	ID        string
	CreatedAt time.Time
	Source    string
	// Config is the JSON encoding of the effective configuration.
	Config      string
	Instruments []InstrumentRun
}

// InstrumentRun holds the outputs of one instrument within a run.
type InstrumentRun struct {
	Instrument    string
	LiquidityBeta float64
	Outcomes      []models.FitOutcome
	Trades        []models.Trade
	Summary       performance.Summary
}

// RunRecord is a listed run.
type RunRecord struct {
	ID          string
	CreatedAt   time.Time
	Source      string
	Instruments []string
	TotalPnL    float64
	NumTrades   int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	RunID      string
	Instrument string
	ExitReason models.ExitReason
	Limit      int
}
