package signal

import (
	"math"

	"cof-trader/internal/models"
)

// LiquidityStress builds the composite stress indicator: every liquidity
// column is normalised by its own trailing z-score over window periods and
// the composite is the equal-weight mean of the available normalised values.
func LiquidityStress(series *models.Series, window int) StressIndex {
	n := series.Len()
	normalized := make([][]float64, 0, len(series.LiquidityColumns))
	for _, col := range series.LiquidityColumns {
		values := series.Liquidity(col)
		z := make([]float64, n)
		for i := range values {
			lo := i - window + 1
			if lo < 0 {
				lo = 0
			}
			z[i] = ZScore(values[lo:i+1], values[i], 2)
		}
		normalized = append(normalized, z)
	}

	index := make(StressIndex, n)
	for i, o := range series.Observations {
		sum, count := 0.0, 0
		for _, z := range normalized {
			if !math.IsNaN(z[i]) {
				sum += z[i]
				count++
			}
		}
		if count == 0 {
			index[o.Date.Unix()] = math.NaN()
			continue
		}
		index[o.Date.Unix()] = sum / float64(count)
	}
	return index
}
