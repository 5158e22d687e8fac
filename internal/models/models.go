// Package models provides domain models for the financing-rate trading engine.
package models

import (
	"math"
	"time"
)

// Direction represents the side of a signal or position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Flat  Direction = "FLAT"
)

// Sign returns +1 for Long, -1 for Short and 0 for Flat.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Observation is one period of input data for a single instrument.
type Observation struct {
	Date        time.Time
	Positioning float64
	Cost        float64
	Liquidity   map[string]float64
}

// LiquidityValue returns the named indicator or NaN when it is absent.
func (o Observation) LiquidityValue(name string) float64 {
	if v, ok := o.Liquidity[name]; ok {
		return v
	}
	return math.NaN()
}

// Pair is a (positioning, cost) point carried together through every sort.
type Pair struct {
	X float64
	Y float64
}

// Series is a date-ordered set of raw observations for one instrument.
type Series struct {
	Instrument string
	// LiquidityColumns lists indicator names in a stable order.
	LiquidityColumns []string
	Observations     []Observation
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.Observations)
}

// Dates returns the observation dates in order.
func (s *Series) Dates() []time.Time {
	dates := make([]time.Time, len(s.Observations))
	for i, o := range s.Observations {
		dates[i] = o.Date
	}
	return dates
}

// Costs returns the financing cost column.
func (s *Series) Costs() []float64 {
	costs := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		costs[i] = o.Cost
	}
	return costs
}

// Liquidity returns one indicator column. Missing values are NaN.
func (s *Series) Liquidity(name string) []float64 {
	col := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		col[i] = o.LiquidityValue(name)
	}
	return col
}
