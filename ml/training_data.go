package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// Sample is one corpus file and the class of the directory it was found in.
type Sample struct {
	Path  string
	Label ClassIndex
}

// SkippedFile records a corpus file that could not be used for training.
type SkippedFile struct {
	Path string
	Err  error
}

// ListCorpus walks root/<category>/ for every category in order. Files
// inside a category directory are returned sorted by name; hidden files
// and subdirectories are ignored.
func ListCorpus(root string, categories Categories) ([]Sample, error) {
	if root == "" {
		return nil, errors.New("corpus directory is required")
	}
	if err := categories.Validate(); err != nil {
		return nil, err
	}

	var samples []Sample
	for idx, name := range categories {
		dir := filepath.Join(root, name)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read category %q: %w", name, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			samples = append(samples, Sample{Path: filepath.Join(dir, entry.Name()), Label: ClassIndex(idx)})
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no files found under %s", root)
	}
	return samples, nil
}

// ShuffleSamples permutes samples in place so the class-ordered directory
// listing does not leak into training order.
func ShuffleSamples(samples []Sample, rng *rand.Rand) {
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
}

// Accuracy is the share of samples whose prediction matches the label.
func Accuracy(model Classifier, features []FeatureVector, labels []ClassIndex) (float64, error) {
	if len(features) == 0 {
		return 0, nil
	}
	if len(features) != len(labels) {
		return 0, errors.New("features and labels size mismatch")
	}
	var correct int
	for i, fv := range features {
		label, _, err := model.Classify(fv)
		if err != nil {
			return 0, err
		}
		if label == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features)), nil
}
