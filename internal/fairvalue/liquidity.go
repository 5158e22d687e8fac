package fairvalue

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"cof-trader/internal/models"
)

// EstimateLiquidityBeta regresses the clean fair-value residual on a
// liquidity indicator through the origin. Pairs with a missing value are
// ignored; fewer than two usable points or a zero indicator give zero.
func EstimateLiquidityBeta(residuals, indicator []float64) float64 {
	var xs, ys []float64
	for i := range residuals {
		if i >= len(indicator) || math.IsNaN(residuals[i]) || math.IsNaN(indicator[i]) {
			continue
		}
		xs = append(xs, indicator[i])
		ys = append(ys, residuals[i])
	}
	if len(xs) < 2 {
		return 0
	}
	sxx := 0.0
	for _, x := range xs {
		sxx += x * x
	}
	if sxx == 0 {
		return 0
	}
	_, beta := stat.LinearRegression(xs, ys, nil, true)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}

// applyLiquidityAdjustment estimates one global coefficient from every
// fitted window and adds beta * indicator to each predicted value.
func applyLiquidityAdjustment(outcomes []models.FitOutcome, series *models.Series, column string) float64 {
	byDate := make(map[int64]float64, series.Len())
	for _, o := range series.Observations {
		byDate[o.Date.Unix()] = o.LiquidityValue(column)
	}

	residuals := make([]float64, len(outcomes))
	indicator := make([]float64, len(outcomes))
	for i, o := range outcomes {
		residuals[i] = math.NaN()
		indicator[i] = byDate[o.Date.Unix()]
		if o.OK() {
			residuals[i] = o.Actual - o.Fit.CleanPredicted
		}
	}

	beta := EstimateLiquidityBeta(residuals, indicator)
	for i := range outcomes {
		if !outcomes[i].HasFit {
			continue
		}
		adj := 0.0
		if !math.IsNaN(indicator[i]) {
			adj = beta * indicator[i]
		}
		outcomes[i].Fit.Predicted = outcomes[i].Fit.CleanPredicted + adj
	}
	return beta
}
