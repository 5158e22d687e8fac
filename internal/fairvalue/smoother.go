package fairvalue

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"cof-trader/internal/models"
)

// Curve is a monotone non-decreasing fitted curve. Between knots it is
// linear; outside the knot range it is held flat at the end values.
type Curve struct {
	Lambda float64
	X      []float64
	Y      []float64
}

// Eval returns the curve value at x.
func (c *Curve) Eval(x float64) float64 {
	n := len(c.X)
	switch {
	case n == 0:
		return math.NaN()
	case x <= c.X[0]:
		return c.Y[0]
	case x >= c.X[n-1]:
		return c.Y[n-1]
	}
	j := sort.SearchFloat64s(c.X, x)
	if c.X[j] == x {
		return c.Y[j]
	}
	x0, x1 := c.X[j-1], c.X[j]
	y0, y1 := c.Y[j-1], c.Y[j]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// EvalAll evaluates the curve at every x.
func (c *Curve) EvalAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = c.Eval(x)
	}
	return out
}

// Monotonic probes the curve at points evenly spaced over its knot range and
// reports whether the values are finite and non-decreasing.
func (c *Curve) Monotonic(points int) bool {
	if len(c.X) == 0 {
		return false
	}
	if points < 2 || c.X[0] == c.X[len(c.X)-1] {
		return isFinite(c.Y[0])
	}
	grid := floats.Span(make([]float64, points), c.X[0], c.X[len(c.X)-1])
	prev := math.Inf(-1)
	for _, x := range grid {
		v := c.Eval(x)
		if !isFinite(v) || v < prev {
			return false
		}
		prev = v
	}
	return true
}

// Fit fits a monotone smoothing curve to value-sorted pairs.
//
// The fit minimises sum w_j (ybar_j - f_j)^2 + lambda * sum h_r (f''_r)^2 over
// the distinct positioning values, where f'' is the second divided difference
// and h_r the local knot spacing, i.e. a discrete smoothing spline in the raw
// units of the positioning variable. The solution is then projected onto
// non-decreasing sequences with weighted pool-adjacent-violators.
func Fit(pairs []models.Pair, lambda float64) (*Curve, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("fit: no points")
	}
	if lambda < 0 || math.IsNaN(lambda) {
		return nil, fmt.Errorf("fit: invalid lambda %g", lambda)
	}

	xs, ys, ws := collapse(pairs)
	m := len(xs)

	fitted := append([]float64(nil), ys...)
	if m >= 3 && lambda > 0 {
		var err error
		fitted, err = solvePenalized(xs, ys, ws, lambda)
		if err != nil {
			return nil, err
		}
	}

	return &Curve{
		Lambda: lambda,
		X:      xs,
		Y:      isotonic(fitted, ws),
	}, nil
}

// collapse merges pairs with equal X into one knot weighted by its count.
// pairs must already be sorted by X.
func collapse(pairs []models.Pair) (xs, ys, ws []float64) {
	for i := 0; i < len(pairs); {
		j := i
		sum := 0.0
		for j < len(pairs) && pairs[j].X == pairs[i].X {
			sum += pairs[j].Y
			j++
		}
		n := float64(j - i)
		xs = append(xs, pairs[i].X)
		ys = append(ys, sum/n)
		ws = append(ws, n)
		i = j
	}
	return xs, ys, ws
}

// solvePenalized solves (W + lambda * D'HD) f = W y with a banded Cholesky
// factorisation; the system is pentadiagonal.
func solvePenalized(xs, ys, ws []float64, lambda float64) ([]float64, error) {
	m := len(xs)
	// band[i][d] holds A(i, i+d) for d in 0..2.
	band := make([][3]float64, m)
	for i := range band {
		band[i][0] = ws[i]
	}

	for r := 0; r+2 < m; r++ {
		h0 := xs[r+1] - xs[r]
		h1 := xs[r+2] - xs[r+1]
		c := [3]float64{
			2 / (h0 * (h0 + h1)),
			-2 / (h0 * h1),
			2 / (h1 * (h0 + h1)),
		}
		weight := lambda * (h0 + h1) / 2
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				band[r+a][b-a] += weight * c[a] * c[b]
			}
		}
	}

	sys := mat.NewSymBandDense(m, 2, nil)
	for i := 0; i < m; i++ {
		for d := 0; d <= 2 && i+d < m; d++ {
			sys.SetSymBand(i, i+d, band[i][d])
		}
	}

	rhs := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		rhs.SetVec(i, ws[i]*ys[i])
	}

	var chol mat.BandCholesky
	if ok := chol.Factorize(sys); !ok {
		return nil, fmt.Errorf("fit: penalized system is not positive definite (lambda %g)", lambda)
	}
	var f mat.VecDense
	if err := chol.SolveVecTo(&f, rhs); err != nil {
		return nil, fmt.Errorf("fit: solving penalized system: %w", err)
	}

	out := make([]float64, m)
	for i := range out {
		out[i] = f.AtVec(i)
	}
	return out, nil
}

// isotonic returns the weighted least-squares non-decreasing projection of y.
func isotonic(y, w []float64) []float64 {
	type block struct {
		sum, weight float64
		size        int
	}
	blocks := make([]block, 0, len(y))
	for i := range y {
		blocks = append(blocks, block{sum: y[i] * w[i], weight: w[i], size: 1})
		for len(blocks) > 1 {
			last := blocks[len(blocks)-1]
			prev := blocks[len(blocks)-2]
			if prev.sum/prev.weight <= last.sum/last.weight {
				break
			}
			blocks = blocks[:len(blocks)-2]
			blocks = append(blocks, block{
				sum:    prev.sum + last.sum,
				weight: prev.weight + last.weight,
				size:   prev.size + last.size,
			})
		}
	}

	out := make([]float64, 0, len(y))
	for _, b := range blocks {
		v := b.sum / b.weight
		for k := 0; k < b.size; k++ {
			out = append(out, v)
		}
	}
	return out
}

// Score returns the coefficient of determination and mean squared error of
// the curve over pairs.
func Score(c *Curve, pairs []models.Pair) (r2, mse float64) {
	if len(pairs) == 0 {
		return math.NaN(), math.NaN()
	}
	est := make([]float64, len(pairs))
	obs := make([]float64, len(pairs))
	var ssRes float64
	for i, p := range pairs {
		est[i] = c.Eval(p.X)
		obs[i] = p.Y
		d := p.Y - est[i]
		ssRes += d * d
	}
	mse = ssRes / float64(len(pairs))

	if len(obs) < 2 || stat.Variance(obs, nil) == 0 {
		// Constant target: R² is undefined, score exact fits as perfect.
		if ssRes == 0 {
			return 1, mse
		}
		return 0, mse
	}
	return stat.RSquaredFrom(est, obs, nil), mse
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
