package models

import "time"

// Position is the single open position of an instrument.
type Position struct {
	Direction  Direction
	Size       float64
	AvgEntry   float64
	EntryDate  time.Time
	EntryIndex int
	StopLevel  float64
	SizePath   []float64
}

// FloatingPnL returns the unrealized PnL at price.
func (p *Position) FloatingPnL(price float64) float64 {
	return p.Direction.Sign() * p.Size * (price - p.AvgEntry)
}

// Trade is an immutable ledger entry for a closed position.
type Trade struct {
	ID         string
	Instrument string
	EntryDate  time.Time
	ExitDate   time.Time
	Direction  Direction
	SizePath   []float64
	EntryPrice float64
	ExitPrice  float64
	Cost       float64
	PnL        float64
	Duration   time.Duration
	Periods    int
	ExitReason ExitReason
}

// MarkPoint is one period of the mark-to-market equity series.
type MarkPoint struct {
	Date       time.Time
	Direction  Direction
	Size       float64
	Realized   float64
	Unrealized float64
	Equity     float64
}
