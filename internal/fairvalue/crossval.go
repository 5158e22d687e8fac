package fairvalue

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"cof-trader/internal/align"
	"cof-trader/internal/errors"
	"cof-trader/internal/models"
)

// LambdaScore aggregates the held-out scores of one smoothing strength.
type LambdaScore struct {
	Lambda float64
	Mean   float64
	StdDev float64
	Folds  int
}

// FoldSkip is a fold left out because its training complement is not monotone.
type FoldSkip struct {
	Fold int
	Err  error
}

// CVResult is the outcome of time-series cross-validation on one window.
type CVResult struct {
	Best         LambdaScore
	Scores       []LambdaScore
	SkippedFolds []FoldSkip
}

// fold is one contiguous held-out block with its value-sorted training complement.
type fold struct {
	index int
	train []models.Pair
	test  []models.Pair
}

// Folds partitions n observations into k contiguous, non-shuffled blocks and
// returns their [start, end) bounds. Earlier blocks take the remainder.
func Folds(n, k int) [][2]int {
	bounds := make([][2]int, 0, k)
	size, rem := n/k, n%k
	start := 0
	for i := 0; i < k; i++ {
		end := start + size
		if i < rem {
			end++
		}
		bounds = append(bounds, [2]int{start, end})
		start = end
	}
	return bounds
}

// CrossValidator scores a grid of smoothing strengths on contiguous folds.
type CrossValidator struct {
	Grid    []float64
	Splits  int
	Workers int
}

// Run cross-validates the window. Folds whose training complement is not
// monotone are skipped and reported. Every (lambda, fold) evaluation is
// independent; results are aggregated in grid and fold order so the outcome
// does not depend on the number of workers.
func (cv CrossValidator) Run(ctx context.Context, window string, obs []models.Observation) (*CVResult, error) {
	if cv.Splits < 2 {
		return nil, errors.NewValidationError("fair_value.n_splits", cv.Splits, "at least 2 folds are required")
	}
	if need := 2 * cv.Splits; len(obs) < need {
		return nil, errors.NewInsufficientDataError(window, len(obs), need)
	}

	result := &CVResult{}
	var folds []fold
	for i, b := range Folds(len(obs), cv.Splits) {
		train := make([]models.Observation, 0, len(obs)-(b[1]-b[0]))
		train = append(train, obs[:b[0]]...)
		train = append(train, obs[b[1]:]...)

		pairs := align.Pairs(train)
		if err := align.CheckMonotonic(fmt.Sprintf("%s/fold%d", window, i), pairs); err != nil {
			result.SkippedFolds = append(result.SkippedFolds, FoldSkip{Fold: i, Err: err})
			continue
		}
		test := make([]models.Pair, 0, b[1]-b[0])
		for _, o := range obs[b[0]:b[1]] {
			test = append(test, models.Pair{X: o.Positioning, Y: o.Cost})
		}
		folds = append(folds, fold{index: i, train: pairs, test: test})
	}
	if len(folds) == 0 {
		return result, errors.Wrapf(result.SkippedFolds[0].Err, "%s: every training fold violates monotonicity", window)
	}

	scores := make([][]float64, len(cv.Grid))
	for li := range scores {
		scores[li] = make([]float64, len(folds))
	}

	g, gctx := errgroup.WithContext(ctx)
	if cv.Workers > 0 {
		g.SetLimit(cv.Workers)
	}
	for li, lambda := range cv.Grid {
		for fi := range folds {
			li, lambda, fi := li, lambda, fi
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				curve, err := Fit(folds[fi].train, lambda)
				if err != nil {
					scores[li][fi] = math.NaN()
					return nil
				}
				r2, _ := Score(curve, folds[fi].test)
				scores[li][fi] = r2
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := -1
	for li, lambda := range cv.Grid {
		valid := make([]float64, 0, len(folds))
		for _, s := range scores[li] {
			if !math.IsNaN(s) {
				valid = append(valid, s)
			}
		}
		ls := LambdaScore{Lambda: lambda, Mean: math.NaN(), StdDev: math.NaN(), Folds: len(valid)}
		if len(valid) > 0 {
			ls.Mean = stat.Mean(valid, nil)
			ls.StdDev = 0
			if len(valid) > 1 {
				ls.StdDev = stat.StdDev(valid, nil)
			}
		}
		result.Scores = append(result.Scores, ls)

		// Ties keep the smaller lambda.
		if !math.IsNaN(ls.Mean) && (best < 0 || ls.Mean > result.Scores[best].Mean) {
			best = li
		}
	}
	if best < 0 {
		return result, errors.Wrapf(errors.ErrNoFit, "%s: no lambda produced a valid score", window)
	}
	result.Best = result.Scores[best]
	return result, nil
}
