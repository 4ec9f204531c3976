package ml

import (
	"errors"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/floats"
)

// tau replaces non-positive curvature in the two-variable subproblem.
const tau = 1e-12

type smoConfig struct {
	C         float64
	Tolerance float64
	CacheRows int
	MaxIter   int
}

// linearSolution is a trained binary linear SVC: decision(x) = w·x - rho.
type linearSolution struct {
	weights        []float64
	rho            float64
	supportVectors int
	iterations     int
	converged      bool
}

func (s linearSolution) decision(x FeatureVector) float64 {
	return floats.Dot(s.weights, x) - s.rho
}

// kernelRows serves rows of Q[i][j] = y_i y_j <x_i, x_j>, keeping the most
// recently used rows in an LRU cache.
type kernelRows struct {
	x     []FeatureVector
	y     []float64
	diag  []float64
	cache *lru.Cache[int, []float64]
}

func newKernelRows(x []FeatureVector, y []float64, size int) (*kernelRows, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[int, []float64](size)
	if err != nil {
		return nil, err
	}
	diag := make([]float64, len(x))
	for i, xi := range x {
		diag[i] = floats.Dot(xi, xi)
	}
	return &kernelRows{x: x, y: y, diag: diag, cache: cache}, nil
}

func (k *kernelRows) row(i int) []float64 {
	if r, ok := k.cache.Get(i); ok {
		return r
	}
	r := make([]float64, len(k.x))
	for j, xj := range k.x {
		r[j] = k.y[i] * k.y[j] * floats.Dot(k.x[i], xj)
	}
	k.cache.Add(i, r)
	return r
}

// solveLinearSVC solves the C-SVC dual with SMO using second-order working
// set selection. y holds +1 / -1 labels.
func solveLinearSVC(x []FeatureVector, y []float64, cfg smoConfig) (linearSolution, error) {
	n := len(y)
	if n == 0 || len(x) != n {
		return linearSolution{}, errors.New("empty or mismatched training set")
	}
	if cfg.C <= 0 {
		return linearSolution{}, errors.New("C must be positive")
	}
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = 10000000
		if 100*n > maxIter {
			maxIter = 100 * n
		}
	}

	rows, err := newKernelRows(x, y, cfg.CacheRows)
	if err != nil {
		return linearSolution{}, err
	}

	c := cfg.C
	alpha := make([]float64, n)
	grad := make([]float64, n)
	for i := range grad {
		grad[i] = -1
	}

	sol := linearSolution{}
	for sol.iterations < maxIter {
		i, j, ok := selectWorkingSet(rows, y, alpha, grad, c, cfg.Tolerance)
		if !ok {
			sol.converged = true
			break
		}
		sol.iterations++

		qi, qj := rows.row(i), rows.row(j)
		oldI, oldJ := alpha[i], alpha[j]
		ai, aj := oldI, oldJ

		if y[i] != y[j] {
			quad := rows.diag[i] + rows.diag[j] + 2*qi[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (-grad[i] - grad[j]) / quad
			diff := ai - aj
			ai += delta
			aj += delta
			if diff > 0 {
				if aj < 0 {
					aj = 0
					ai = diff
				}
			} else if ai < 0 {
				ai = 0
				aj = -diff
			}
			if diff > 0 {
				if ai > c {
					ai = c
					aj = c - diff
				}
			} else if aj > c {
				aj = c
				ai = c + diff
			}
		} else {
			quad := rows.diag[i] + rows.diag[j] - 2*qi[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (grad[i] - grad[j]) / quad
			sum := ai + aj
			ai -= delta
			aj += delta
			if sum > c {
				if ai > c {
					ai = c
					aj = sum - c
				}
			} else if aj < 0 {
				aj = 0
				ai = sum
			}
			if sum > c {
				if aj > c {
					aj = c
					ai = sum - c
				}
			} else if ai < 0 {
				ai = 0
				aj = sum
			}
		}

		alpha[i], alpha[j] = ai, aj
		di, dj := ai-oldI, aj-oldJ
		for k := 0; k < n; k++ {
			grad[k] += qi[k]*di + qj[k]*dj
		}
	}

	sol.rho = computeRho(y, alpha, grad, c)
	sol.weights = make([]float64, len(x[0]))
	for i, a := range alpha {
		if a > 0 {
			floats.AddScaled(sol.weights, a*y[i], x[i])
			sol.supportVectors++
		}
	}
	return sol, nil
}

// selectWorkingSet returns the maximal violating i and the j giving the
// largest second-order decrease, or ok=false once the KKT gap is below eps.
func selectWorkingSet(rows *kernelRows, y, alpha, grad []float64, c, eps float64) (int, int, bool) {
	gmax, gmax2 := math.Inf(-1), math.Inf(-1)
	i := -1
	for t := range y {
		if y[t] > 0 {
			if alpha[t] < c && -grad[t] >= gmax {
				gmax = -grad[t]
				i = t
			}
		} else if alpha[t] > 0 && grad[t] >= gmax {
			gmax = grad[t]
			i = t
		}
	}
	if i < 0 {
		return -1, -1, false
	}

	qi := rows.row(i)
	j := -1
	objMin := math.Inf(1)
	for t := range y {
		var gradDiff, quad float64
		if y[t] > 0 {
			if alpha[t] <= 0 {
				continue
			}
			if grad[t] >= gmax2 {
				gmax2 = grad[t]
			}
			gradDiff = gmax + grad[t]
			quad = rows.diag[i] + rows.diag[t] - 2*y[i]*qi[t]
		} else {
			if alpha[t] >= c {
				continue
			}
			if -grad[t] >= gmax2 {
				gmax2 = -grad[t]
			}
			gradDiff = gmax - grad[t]
			quad = rows.diag[i] + rows.diag[t] + 2*y[i]*qi[t]
		}
		if gradDiff <= 0 {
			continue
		}
		if quad <= 0 {
			quad = tau
		}
		if obj := -(gradDiff * gradDiff) / quad; obj <= objMin {
			j = t
			objMin = obj
		}
	}

	if gmax+gmax2 < eps || j < 0 {
		return -1, -1, false
	}
	return i, j, true
}

func computeRho(y, alpha, grad []float64, c float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	var sumFree float64
	var nFree int
	for i := range y {
		yg := y[i] * grad[i]
		switch {
		case alpha[i] >= c:
			if y[i] < 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case alpha[i] <= 0:
			if y[i] > 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			nFree++
			sumFree += yg
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}
