package ml

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

var clusterCenters = [][]float64{
	{1, 0, 0, 0, 0.2, 0.1},
	{0, 1, 0, 0, 0.1, 0.2},
	{0, 0, 1, 0, 0.2, 0.2},
	{0, 0, 0, 1, 0.1, 0.1},
}

func clusterData(perClass int, seed int64) ([]FeatureVector, []ClassIndex) {
	rng := rand.New(rand.NewSource(seed))
	var features []FeatureVector
	var labels []ClassIndex
	for i := 0; i < perClass; i++ {
		for class, center := range clusterCenters {
			fv := make(FeatureVector, len(center))
			for d, v := range center {
				fv[d] = v + rng.NormFloat64()*0.05
			}
			features = append(features, fv)
			labels = append(labels, ClassIndex(class))
		}
	}
	return features, labels
}

func trainClusters(t *testing.T, seed int64) *SVM {
	t.Helper()
	features, labels := clusterData(12, 5)
	cfg := DefaultSVMConfig()
	cfg.Seed = seed
	model, err := TrainSVM(features, labels, DefaultCategories(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return model
}

func TestSVMTrainClassify(t *testing.T) {
	model := trainClusters(t, 42)
	for class, center := range clusterCenters {
		label, dist, err := model.Classify(center)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != ClassIndex(class) {
			t.Fatalf("expected class %d, got %d (%v)", class, label, dist)
		}
		if len(dist) != len(DefaultCategories()) {
			t.Fatalf("expected %d probabilities, got %d", len(DefaultCategories()), len(dist))
		}
		var sum float64
		for _, p := range dist {
			if p < 0 {
				t.Fatalf("negative probability in %v", dist)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("probabilities sum to %f", sum)
		}
		if dist[label] <= 0.25 {
			t.Fatalf("expected winning probability above chance, got %f", dist[label])
		}
	}
}

func TestSVMRejectsDimensionMismatch(t *testing.T) {
	model := trainClusters(t, 42)
	if _, _, err := model.Classify(FeatureVector{1, 2, 3}); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestSVMSaveLoad(t *testing.T) {
	model := trainClusters(t, 42)
	path := filepath.Join(t.TempDir(), ClassifierFile)
	if err := model.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := LoadSVM(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !loaded.Categories().Equal(DefaultCategories()) {
		t.Fatalf("unexpected categories %v", loaded.Categories())
	}
	probe := FeatureVector{0.4, 0.3, 0.1, 0.1, 0.2, 0.1}
	wantLabel, want, _ := model.Classify(probe)
	gotLabel, got, err := loaded.Classify(probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wantLabel != gotLabel {
		t.Fatalf("label changed after reload: %d vs %d", wantLabel, gotLabel)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-12 {
			t.Fatalf("probability %d changed after reload: %f vs %f", i, want[i], got[i])
		}
	}
}

func TestTrainSVMDeterministic(t *testing.T) {
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")
	if err := trainClusters(t, 9).Save(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := trainClusters(t, 9).Save(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) {
		t.Fatal("expected identical classifier artifacts for the same seed")
	}
}

func TestTrainSVMValidation(t *testing.T) {
	features, labels := clusterData(3, 1)
	if _, err := TrainSVM(nil, nil, DefaultCategories(), DefaultSVMConfig()); err == nil {
		t.Fatal("expected error for empty training set")
	}
	if _, err := TrainSVM(features, labels[:2], DefaultCategories(), DefaultSVMConfig()); err == nil {
		t.Fatal("expected error for size mismatch")
	}

	// Drop every sample of the last class.
	var keptF []FeatureVector
	var keptL []ClassIndex
	for i, l := range labels {
		if l != 3 {
			keptF = append(keptF, features[i])
			keptL = append(keptL, l)
		}
	}
	if _, err := TrainSVM(keptF, keptL, DefaultCategories(), DefaultSVMConfig()); err == nil {
		t.Fatal("expected error for a category without samples")
	}
}

func TestLoadSVMRejectsInvalidArtifacts(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"garbage.json": "{not json",
		"format.json":  `{"format":"other","version":2}`,
		"version.json": `{"format":"neuroscan-svc","version":1,"kernel":"linear","categories":["a","b"],"feature_dim":1,"scale_min":[0],"scale_max":[1],"pairs":[{"positive":0,"negative":1,"weights":[1]}]}`,
		"pairs.json":   `{"format":"neuroscan-svc","version":2,"kernel":"linear","categories":["a","b","c"],"feature_dim":2,"scale_min":[0,0],"scale_max":[1,1],"pairs":[]}`,
		"weights.json": `{"format":"neuroscan-svc","version":2,"kernel":"linear","categories":["a","b"],"feature_dim":2,"scale_min":[0,0],"scale_max":[1,1],"pairs":[{"positive":0,"negative":1,"weights":[1]}]}`,
		"kernel.json":  `{"format":"neuroscan-svc","version":2,"kernel":"rbf","categories":["a","b"],"feature_dim":1,"scale_min":[0],"scale_max":[1],"pairs":[{"positive":0,"negative":1,"weights":[1]}]}`,
		"scale.json":   `{"format":"neuroscan-svc","version":2,"kernel":"linear","categories":["a","b"],"feature_dim":1,"pairs":[{"positive":0,"negative":1,"weights":[1]}]}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := LoadSVM(path); !errors.Is(err, ErrModelLoad) {
			t.Fatalf("%s: expected ErrModelLoad, got %v", name, err)
		}
	}
	if _, err := LoadSVM(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad for missing file, got %v", err)
	}
}

func TestCoupleProbabilitiesRecoversDistribution(t *testing.T) {
	p := []float64{0.5, 0.3, 0.2}
	r := make([][]float64, len(p))
	for i := range r {
		r[i] = make([]float64, len(p))
		for j := range p {
			if i != j {
				r[i][j] = p[i] / (p[i] + p[j])
			}
		}
	}
	got := coupleProbabilities(r)
	var sum float64
	for i := range p {
		if math.Abs(got[i]-p[i]) > 0.01 {
			t.Fatalf("expected %v, got %v", p, got)
		}
		sum += got[i]
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("expected probabilities to sum to 1, got %f", sum)
	}
}

func TestSigmoidTrainOrdersProbabilities(t *testing.T) {
	dec := []float64{-2, -1.5, -1, 1, 1.5, 2}
	y := []float64{-1, -1, -1, 1, 1, 1}
	a, b := sigmoidTrain(dec, y)
	if a >= 0 {
		t.Fatalf("expected negative slope, got %f", a)
	}
	if p := sigmoidPredict(2, a, b); p <= 0.5 {
		t.Fatalf("expected positive side above 0.5, got %f", p)
	}
	if p := sigmoidPredict(-2, a, b); p >= 0.5 {
		t.Fatalf("expected negative side below 0.5, got %f", p)
	}
}

func TestSolveLinearSVCSeparates(t *testing.T) {
	x := []FeatureVector{{2, 2}, {3, 2}, {2, 3}, {-2, -2}, {-3, -2}, {-2, -3}}
	y := []float64{1, 1, 1, -1, -1, -1}
	sol, err := solveLinearSVC(x, y, smoConfig{C: 1, Tolerance: 1e-3, CacheRows: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sol.converged {
		t.Fatal("expected solver to converge")
	}
	for i, xi := range x {
		if d := sol.decision(xi); d*y[i] <= 0 {
			t.Fatalf("sample %d on wrong side: decision %f label %f", i, d, y[i])
		}
	}
}

func TestClassifyFollowsPairwiseVote(t *testing.T) {
	// Every sigmoid slopes the wrong way, so the calibrated distribution
	// disagrees with the decision values. The label must still follow the vote.
	model := &SVM{
		categories: Categories{"a", "b", "c"},
		featureDim: 2,
		scaleMin:   []float64{0, 0},
		scaleMax:   []float64{1, 1},
		pairs: []pairModel{
			{Positive: 0, Negative: 1, Weights: []float64{1, 0}, Rho: 0.5, ProbA: 3},
			{Positive: 0, Negative: 2, Weights: []float64{1, 0}, Rho: 0.5, ProbA: 3},
			{Positive: 1, Negative: 2, Weights: []float64{0, 1}, Rho: 0.5, ProbA: 3},
		},
	}
	label, dist, err := model.Classify(FeatureVector{1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected the vote winner 0, got %d (%v)", label, dist)
	}
	if dist[0] >= dist[2] {
		t.Fatalf("expected the inverted calibration to rank class 0 low, got %v", dist)
	}
}

func TestClassifyBreaksTiesTowardsLowerIndex(t *testing.T) {
	model := &SVM{
		categories: Categories{"a", "b", "c"},
		featureDim: 1,
		scaleMin:   []float64{0},
		scaleMax:   []float64{1},
		pairs: []pairModel{
			{Positive: 0, Negative: 1, Weights: []float64{1}, Rho: 0},
			{Positive: 0, Negative: 2, Weights: []float64{-1}, Rho: 0},
			{Positive: 1, Negative: 2, Weights: []float64{1}, Rho: 0},
		},
	}
	label, _, err := model.Classify(FeatureVector{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected tie to resolve to class 0, got %d", label)
	}
}

func TestScaleFeatures(t *testing.T) {
	features := []FeatureVector{{1, 5, 2}, {3, 5, -2}, {2, 5, 0}}
	mins, maxs := featureRange(features)
	got := scaleFeatures(FeatureVector{2, 5, 4}, mins, maxs)
	want := FeatureVector{0.5, 0, 1.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCrossValidatedDecisionsKeepSign(t *testing.T) {
	features, labels := clusterData(8, 3)
	mins, maxs := featureRange(features)
	var x []FeatureVector
	var y []float64
	for i, fv := range features {
		switch labels[i] {
		case 1:
			x = append(x, scaleFeatures(fv, mins, maxs))
			y = append(y, 1)
		case 2:
			x = append(x, scaleFeatures(fv, mins, maxs))
			y = append(y, -1)
		}
	}
	cfg := DefaultSVMConfig()
	dec, err := crossValidatedDecisions(x, y, cfg.ProbabilityFolds, cfg.smo(), rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a, _ := sigmoidTrain(dec, y); a >= 0 {
		t.Fatalf("expected a negative sigmoid slope on separable folds, got %f (%v)", a, dec)
	}
}
