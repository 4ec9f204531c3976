package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TrainConfig describes one full retrain.
type TrainConfig struct {
	DataDir    string
	ModelDir   string
	Categories Categories
	Seed       int64
	Workers    int
	SVM        SVMConfig
}

// TrainReport summarises a finished training run.
type TrainReport struct {
	Samples        int
	Skipped        []SkippedFile
	PerCategory    map[string]int
	Accuracy       float64
	Seed           int64
	ExtractorPath  string
	ClassifierPath string
	Duration       time.Duration
}

// Train lists and shuffles the corpus, embeds every image with a freshly
// seeded extractor, fits the classifier on the embeddings and replaces both
// artifacts in cfg.ModelDir. The extractor weights are not fit to the
// labels; only the classifier learns from the corpus.
func Train(ctx context.Context, cfg TrainConfig, logger *zap.Logger) (*TrainReport, error) {
	start := time.Now()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ModelDir == "" {
		return nil, errors.New("model directory is required")
	}
	categories := cfg.Categories
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	samples, err := ListCorpus(cfg.DataDir, categories)
	if err != nil {
		return nil, err
	}
	logger.Info("corpus listed", zap.String("dir", cfg.DataDir), zap.Int("files", len(samples)))

	rng := rand.New(rand.NewSource(cfg.Seed))
	ShuffleSamples(samples, rng)

	extractor := NewExtractor(cfg.Seed)
	features, labels, skipped, err := embedSamples(ctx, extractor, samples, workers)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		logger.Warn("skipping unreadable image", zap.String("path", s.Path), zap.Error(s.Err))
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no usable images under %s", cfg.DataDir)
	}

	perCategory := make(map[string]int, len(categories))
	for _, label := range labels {
		perCategory[categories[label]]++
	}
	logger.Info("features extracted",
		zap.Int("samples", len(features)),
		zap.Int("skipped", len(skipped)),
		zap.Any("per_category", perCategory))

	svmCfg := cfg.SVM
	svmCfg.Seed = cfg.Seed
	classifier, err := TrainSVM(features, labels, categories, svmCfg)
	if err != nil {
		return nil, fmt.Errorf("train classifier: %w", err)
	}
	accuracy, err := Accuracy(classifier, features, labels)
	if err != nil {
		return nil, err
	}
	logger.Info("classifier trained", zap.Float64("training_accuracy", accuracy))

	extractorPath, classifierPath, err := publishArtifacts(cfg.ModelDir, extractor, classifier)
	if err != nil {
		return nil, err
	}
	logger.Info("artifacts written", zap.String("extractor", extractorPath), zap.String("classifier", classifierPath))

	return &TrainReport{
		Samples:        len(features),
		Skipped:        skipped,
		PerCategory:    perCategory,
		Accuracy:       accuracy,
		Seed:           cfg.Seed,
		ExtractorPath:  extractorPath,
		ClassifierPath: classifierPath,
		Duration:       time.Since(start),
	}, nil
}

// embedSamples preprocesses and embeds samples on a bounded pool. Results
// keep the input order; unreadable files are returned as skipped.
func embedSamples(ctx context.Context, extractor *Extractor, samples []Sample, workers int) ([]FeatureVector, []ClassIndex, []SkippedFile, error) {
	results := make([]FeatureVector, len(samples))
	failures := make([]error, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			input, err := Preprocess(samples[i].Path)
			if err != nil {
				failures[i] = err
				return nil
			}
			fv, err := extractor.Extract(input)
			if err != nil {
				return fmt.Errorf("extract %s: %w", samples[i].Path, err)
			}
			results[i] = fv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	features := make([]FeatureVector, 0, len(samples))
	labels := make([]ClassIndex, 0, len(samples))
	var skipped []SkippedFile
	for i, s := range samples {
		if failures[i] != nil {
			skipped = append(skipped, SkippedFile{Path: s.Path, Err: failures[i]})
			continue
		}
		features = append(features, results[i])
		labels = append(labels, s.Label)
	}
	return features, labels, skipped, nil
}

// publishArtifacts stages both files next to their final names and only
// then renames them into place. If the classifier cannot be moved, the
// previous extractor is put back so the pair on disk stays consistent.
func publishArtifacts(dir string, extractor *Extractor, classifier *SVM) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	extractorPath, classifierPath := ArtifactPaths(dir)
	stagedExtractor := filepath.Join(dir, ".staged-"+ExtractorFile)
	stagedClassifier := filepath.Join(dir, ".staged-"+ClassifierFile)
	previousExtractor := filepath.Join(dir, ".previous-"+ExtractorFile)
	defer os.Remove(stagedExtractor)
	defer os.Remove(stagedClassifier)

	if err := extractor.Save(stagedExtractor); err != nil {
		return "", "", fmt.Errorf("save extractor: %w", err)
	}
	if err := classifier.Save(stagedClassifier); err != nil {
		return "", "", fmt.Errorf("save classifier: %w", err)
	}

	hadPrevious := false
	if err := os.Rename(extractorPath, previousExtractor); err == nil {
		hadPrevious = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", "", err
	}
	if err := os.Rename(stagedExtractor, extractorPath); err != nil {
		if hadPrevious {
			os.Rename(previousExtractor, extractorPath)
		}
		return "", "", err
	}
	if err := os.Rename(stagedClassifier, classifierPath); err != nil {
		if hadPrevious {
			os.Rename(previousExtractor, extractorPath)
		} else {
			os.Remove(extractorPath)
		}
		return "", "", err
	}
	if hadPrevious {
		os.Remove(previousExtractor)
	}
	return extractorPath, classifierPath, nil
}
