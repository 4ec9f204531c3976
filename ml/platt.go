package ml

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	// minPairProbability bounds pairwise estimates away from 0 and 1 before coupling.
	minPairProbability = 1e-7
)

// crossValidatedDecisions returns, for every sample, the decision value of a
// model trained on the other folds. These out-of-fold values are what the
// sigmoid is fitted on.
func crossValidatedDecisions(x []FeatureVector, y []float64, folds int, cfg smoConfig, rng *rand.Rand) ([]float64, error) {
	n := len(y)
	if folds < 2 {
		folds = 2
	}
	perm := rng.Perm(n)
	dec := make([]float64, n)

	for f := 0; f < folds; f++ {
		begin, end := f*n/folds, (f+1)*n/folds
		if begin == end {
			continue
		}

		trainX := make([]FeatureVector, 0, n-(end-begin))
		trainY := make([]float64, 0, n-(end-begin))
		var pos, neg int
		for k := 0; k < n; k++ {
			if k >= begin && k < end {
				continue
			}
			trainX = append(trainX, x[perm[k]])
			trainY = append(trainY, y[perm[k]])
			if y[perm[k]] > 0 {
				pos++
			} else {
				neg++
			}
		}

		switch {
		case pos == 0 && neg == 0:
			for k := begin; k < end; k++ {
				dec[perm[k]] = 0
			}
		case neg == 0:
			for k := begin; k < end; k++ {
				dec[perm[k]] = 1
			}
		case pos == 0:
			for k := begin; k < end; k++ {
				dec[perm[k]] = -1
			}
		default:
			sol, err := solveLinearSVC(trainX, trainY, cfg)
			if err != nil {
				return nil, err
			}
			for k := begin; k < end; k++ {
				dec[perm[k]] = sol.decision(x[perm[k]])
			}
		}
	}
	return dec, nil
}

// sigmoidTrain fits P(y=1|f) = 1/(1+exp(A f + B)) by Newton's method with
// backtracking line search, using Platt's smoothed targets.
func sigmoidTrain(dec, y []float64) (float64, float64) {
	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)

	var prior1, prior0 float64
	for _, v := range y {
		if v > 0 {
			prior1++
		} else {
			prior0++
		}
	}
	hiTarget := (prior1 + 1) / (prior1 + 2)
	loTarget := 1 / (prior0 + 2)
	t := make([]float64, len(y))
	for i, v := range y {
		if v > 0 {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	a, b := 0.0, math.Log((prior0+1)/(prior1+1))
	fval := sigmoidObjective(dec, t, a, b)

	for iter := 0; iter < maxIter; iter++ {
		h11, h22, h21 := sigma, sigma, 0.0
		g1, g2 := 0.0, 0.0
		for i, f := range dec {
			fApB := f*a + b
			var p, q float64
			if fApB >= 0 {
				e := math.Exp(-fApB)
				p = e / (1 + e)
				q = 1 / (1 + e)
			} else {
				e := math.Exp(fApB)
				p = 1 / (1 + e)
				q = e / (1 + e)
			}
			d2 := p * q
			h11 += f * f * d2
			h22 += d2
			h21 += f * d2
			d1 := t[i] - p
			g1 += f * d1
			g2 += d1
		}
		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			newA, newB := a+step*dA, b+step*dB
			newf := sigmoidObjective(dec, t, newA, newB)
			if newf < fval+0.0001*step*gd {
				a, b, fval = newA, newB, newf
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}
	return a, b
}

func sigmoidObjective(dec, t []float64, a, b float64) float64 {
	var f float64
	for i, d := range dec {
		fApB := d*a + b
		if fApB >= 0 {
			f += t[i]*fApB + math.Log1p(math.Exp(-fApB))
		} else {
			f += (t[i]-1)*fApB + math.Log1p(math.Exp(fApB))
		}
	}
	return f
}

func sigmoidPredict(dec, a, b float64) float64 {
	fApB := dec*a + b
	if fApB >= 0 {
		e := math.Exp(-fApB)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(fApB))
}

// coupleProbabilities turns pairwise estimates r[i][j] ≈ P(i | i or j) into
// one distribution over all classes (Wu, Lin and Weng, method 2).
func coupleProbabilities(r [][]float64) Distribution {
	k := len(r)
	p := make([]float64, k)
	qp := make([]float64, k)
	q := make([][]float64, k)
	for t := range q {
		q[t] = make([]float64, k)
	}

	for t := 0; t < k; t++ {
		p[t] = 1 / float64(k)
		for j := 0; j < t; j++ {
			q[t][t] += r[j][t] * r[j][t]
			q[t][j] = q[j][t]
		}
		for j := t + 1; j < k; j++ {
			q[t][t] += r[j][t] * r[j][t]
			q[t][j] = -r[j][t] * r[t][j]
		}
	}

	maxIter := 100
	if k > maxIter {
		maxIter = k
	}
	eps := 0.005 / float64(k)
	for iter := 0; iter < maxIter; iter++ {
		var pQp float64
		for t := 0; t < k; t++ {
			qp[t] = floats.Dot(q[t], p)
			pQp += p[t] * qp[t]
		}
		var maxErr float64
		for t := 0; t < k; t++ {
			if e := math.Abs(qp[t] - pQp); e > maxErr {
				maxErr = e
			}
		}
		if maxErr < eps {
			break
		}
		for t := 0; t < k; t++ {
			diff := (-qp[t] + pQp) / q[t][t]
			p[t] += diff
			pQp = (pQp + diff*(diff*q[t][t]+2*qp[t])) / (1 + diff) / (1 + diff)
			for j := 0; j < k; j++ {
				qp[j] = (qp[j] + diff*q[t][j]) / (1 + diff)
				p[j] /= 1 + diff
			}
		}
	}

	for i, v := range p {
		if v < 0 || math.IsNaN(v) {
			p[i] = 0
		}
	}
	if sum := floats.Sum(p); sum > 0 {
		floats.Scale(1/sum, p)
	} else {
		for i := range p {
			p[i] = 1 / float64(k)
		}
	}
	return p
}

func clampProbability(p float64) float64 {
	return math.Min(math.Max(p, minPairProbability), 1-minPairProbability)
}
