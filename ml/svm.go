package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/floats"
)

const (
	classifierFormat  = "neuroscan-svc"
	classifierVersion = 2
	linearKernel      = "linear"
)

// SVMConfig controls classifier training.
type SVMConfig struct {
	C                float64
	Tolerance        float64
	ProbabilityFolds int
	KernelCacheRows  int
	MaxIterations    int
	Seed             int64
}

func DefaultSVMConfig() SVMConfig {
	return SVMConfig{
		C:                1,
		Tolerance:        1e-3,
		ProbabilityFolds: 5,
		KernelCacheRows:  1024,
		Seed:             42,
	}
}

func (c SVMConfig) smo() smoConfig {
	return smoConfig{C: c.C, Tolerance: c.Tolerance, CacheRows: c.KernelCacheRows, MaxIter: c.MaxIterations}
}

// pairModel separates Positive (+1) from Negative (-1) and carries the
// Platt sigmoid used to turn its decision value into a probability.
type pairModel struct {
	Positive       ClassIndex `json:"positive"`
	Negative       ClassIndex `json:"negative"`
	Weights        []float64  `json:"weights"`
	Rho            float64    `json:"rho"`
	ProbA          float64    `json:"prob_a"`
	ProbB          float64    `json:"prob_b"`
	SupportVectors int        `json:"support_vectors"`
}

type svmArtifact struct {
	Format     string      `json:"format"`
	Version    int         `json:"version"`
	Kernel     string      `json:"kernel"`
	Categories Categories  `json:"categories"`
	FeatureDim int         `json:"feature_dim"`
	C          float64     `json:"c"`
	ScaleMin   []float64   `json:"scale_min"`
	ScaleMax   []float64   `json:"scale_max"`
	Pairs      []pairModel `json:"pairs"`
}

// SVM is a one-vs-one linear C-SVC with calibrated probabilities.
type SVM struct {
	categories Categories
	featureDim int
	c          float64
	scaleMin   []float64
	scaleMax   []float64
	pairs      []pairModel
}

// TrainSVM fits one binary machine per pair of categories. Labels index into categories.
func TrainSVM(features []FeatureVector, labels []ClassIndex, categories Categories, cfg SVMConfig) (*SVM, error) {
	if len(features) == 0 || len(labels) == 0 {
		return nil, errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return nil, errors.New("features and labels size mismatch")
	}
	if err := categories.Validate(); err != nil {
		return nil, err
	}
	dim := len(features[0])
	if dim == 0 {
		return nil, errors.New("feature vectors are empty")
	}

	byClass := make([][]int, len(categories))
	for i, fv := range features {
		if len(fv) != dim {
			return nil, fmt.Errorf("feature vector %d has %d values, expected %d", i, len(fv), dim)
		}
		label := labels[i]
		if label < 0 || int(label) >= len(categories) {
			return nil, fmt.Errorf("label %d out of range for %d categories", label, len(categories))
		}
		byClass[label] = append(byClass[label], i)
	}
	for idx, members := range byClass {
		if len(members) == 0 {
			return nil, fmt.Errorf("category %q has no training samples", categories[idx])
		}
	}

	scaleMin, scaleMax := featureRange(features)
	scaled := make([]FeatureVector, len(features))
	for i, fv := range features {
		scaled[i] = scaleFeatures(fv, scaleMin, scaleMax)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	model := &SVM{
		categories: append(Categories(nil), categories...),
		featureDim: dim,
		c:          cfg.C,
		scaleMin:   scaleMin,
		scaleMax:   scaleMax,
	}
	for i := 0; i < len(categories); i++ {
		for j := i + 1; j < len(categories); j++ {
			x := make([]FeatureVector, 0, len(byClass[i])+len(byClass[j]))
			y := make([]float64, 0, cap(x))
			for _, s := range byClass[i] {
				x = append(x, features[s])
				y = append(y, 1)
			}
			for _, s := range byClass[j] {
				x = append(x, features[s])
				y = append(y, -1)
			}

			sol, err := solveLinearSVC(x, y, cfg.smo())
			if err != nil {
				return nil, fmt.Errorf("train %s/%s: %w", categories[i], categories[j], err)
			}
			dec, err := crossValidatedDecisions(x, y, cfg.ProbabilityFolds, cfg.smo(), rng)
			if err != nil {
				return nil, fmt.Errorf("calibrate %s/%s: %w", categories[i], categories[j], err)
			}
			a, b := sigmoidTrain(dec, y)

			model.pairs = append(model.pairs, pairModel{
				Positive:       ClassIndex(i),
				Negative:       ClassIndex(j),
				Weights:        sol.weights,
				Rho:            sol.rho,
				ProbA:          a,
				ProbB:          b,
				SupportVectors: sol.supportVectors,
			})
		}
	}
	return model, nil
}

func (m *SVM) Categories() Categories {
	return append(Categories(nil), m.categories...)
}

func (m *SVM) FeatureDim() int {
	return m.featureDim
}

// Classify returns the class winning the one-vs-one vote together with the
// calibrated distribution. Ties go to the lower class index.
func (m *SVM) Classify(features FeatureVector) (ClassIndex, Distribution, error) {
	if len(features) != m.featureDim {
		return 0, nil, fmt.Errorf("%w: feature vector has %d values, classifier expects %d", ErrInference, len(features), m.featureDim)
	}
	x := scaleFeatures(features, m.scaleMin, m.scaleMax)

	k := len(m.categories)
	votes := make([]int, k)
	r := make([][]float64, k)
	for i := range r {
		r[i] = make([]float64, k)
	}
	for _, pair := range m.pairs {
		dec := floats.Dot(pair.Weights, x) - pair.Rho
		if dec > 0 {
			votes[pair.Positive]++
		} else {
			votes[pair.Negative]++
		}
		p := clampProbability(sigmoidPredict(dec, pair.ProbA, pair.ProbB))
		r[pair.Positive][pair.Negative] = p
		r[pair.Negative][pair.Positive] = 1 - p
	}

	winner := 0
	for i, v := range votes {
		if v > votes[winner] {
			winner = i
		}
	}
	return ClassIndex(winner), coupleProbabilities(r), nil
}

// featureRange returns the per-dimension minimum and maximum over the training set.
func featureRange(features []FeatureVector) ([]float64, []float64) {
	mins := append([]float64(nil), features[0]...)
	maxs := append([]float64(nil), features[0]...)
	for _, fv := range features[1:] {
		for d, v := range fv {
			mins[d] = math.Min(mins[d], v)
			maxs[d] = math.Max(maxs[d], v)
		}
	}
	return mins, maxs
}

// scaleFeatures maps each value onto [0,1] of its training range. Values seen
// outside the range are not clipped; constant dimensions become 0.
func scaleFeatures(fv FeatureVector, mins, maxs []float64) FeatureVector {
	out := make(FeatureVector, len(fv))
	for d, v := range fv {
		if span := maxs[d] - mins[d]; span > 0 {
			out[d] = (v - mins[d]) / span
		}
	}
	return out
}

func (m *SVM) Save(path string) error {
	if len(m.pairs) == 0 {
		return errors.New("model not trained")
	}
	artifact := svmArtifact{
		Format:     classifierFormat,
		Version:    classifierVersion,
		Kernel:     linearKernel,
		Categories: m.categories,
		FeatureDim: m.featureDim,
		C:          m.c,
		ScaleMin:   m.scaleMin,
		ScaleMax:   m.scaleMax,
		Pairs:      m.pairs,
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(artifact)
	})
}

func LoadSVM(path string) (*SVM, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read classifier %s: %v", ErrModelLoad, path, err)
	}
	var artifact svmArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("%w: parse classifier %s: %v", ErrModelLoad, path, err)
	}
	if err := artifact.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
	}
	return &SVM{
		categories: artifact.Categories,
		featureDim: artifact.FeatureDim,
		c:          artifact.C,
		scaleMin:   artifact.ScaleMin,
		scaleMax:   artifact.ScaleMax,
		pairs:      artifact.Pairs,
	}, nil
}

func (a svmArtifact) validate() error {
	if a.Format != classifierFormat || a.Version != classifierVersion {
		return fmt.Errorf("unsupported classifier format %q v%d", a.Format, a.Version)
	}
	if a.Kernel != linearKernel {
		return fmt.Errorf("unsupported kernel %q", a.Kernel)
	}
	if err := a.Categories.Validate(); err != nil {
		return err
	}
	if a.FeatureDim <= 0 {
		return fmt.Errorf("invalid feature dimension %d", a.FeatureDim)
	}
	if len(a.ScaleMin) != a.FeatureDim || len(a.ScaleMax) != a.FeatureDim {
		return fmt.Errorf("scale ranges do not match feature dimension %d", a.FeatureDim)
	}
	k := len(a.Categories)
	if len(a.Pairs) != k*(k-1)/2 {
		return fmt.Errorf("expected %d pair models for %d categories, found %d", k*(k-1)/2, k, len(a.Pairs))
	}
	seen := make(map[[2]ClassIndex]bool, len(a.Pairs))
	for _, p := range a.Pairs {
		if p.Positive < 0 || p.Negative < 0 || int(p.Positive) >= k || int(p.Negative) >= k || p.Positive >= p.Negative {
			return fmt.Errorf("invalid pair %d/%d", p.Positive, p.Negative)
		}
		key := [2]ClassIndex{p.Positive, p.Negative}
		if seen[key] {
			return fmt.Errorf("duplicate pair %d/%d", p.Positive, p.Negative)
		}
		seen[key] = true
		if len(p.Weights) != a.FeatureDim {
			return fmt.Errorf("pair %d/%d has %d weights, expected %d", p.Positive, p.Negative, len(p.Weights), a.FeatureDim)
		}
	}
	return nil
}
