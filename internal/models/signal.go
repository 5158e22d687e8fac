package models

import "time"

// ExitReason records why a trade was closed.
type ExitReason string

const (
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitLiquidityGate  ExitReason = "LIQUIDITY_GATE"
)

// Signal is the per-period output of the signal generator.
type Signal struct {
	Date            time.Time
	Price           float64
	Deviation       float64
	ZScore          float64
	LiquidityStress float64
	Direction       Direction
	GatePassed      bool
	// CloseLong and CloseShort hold the exit reason for an open position of
	// that side, or the empty string when the position should be held.
	CloseLong  ExitReason
	CloseShort ExitReason
}

// ExitFor returns the exit reason for a position in direction d.
func (s Signal) ExitFor(d Direction) (ExitReason, bool) {
	switch d {
	case Long:
		return s.CloseLong, s.CloseLong != ""
	case Short:
		return s.CloseShort, s.CloseShort != ""
	}
	return "", false
}
