package ml

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NoTumorCategory is the category that resolves to a negative finding.
const NoTumorCategory = "notumor"

const noTumorLabel = "No Tumor Detected"

// ClassIndex is a position in the ordered category list of a trained classifier.
type ClassIndex int

// Categories is the ordered category list. The order is part of the classifier artifact.
type Categories []string

// Distribution holds one probability per category, aligned with ClassIndex.
type Distribution []float64

// PredictionResult is what callers of the inference path receive.
type PredictionResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DefaultCategories returns the category order used by the training corpus layout.
func DefaultCategories() Categories {
	return Categories{"glioma", "meningioma", NoTumorCategory, "pituitary"}
}

func (c Categories) Validate() error {
	if len(c) < 2 {
		return errors.New("at least two categories are required")
	}
	seen := make(map[string]bool, len(c))
	for _, name := range c {
		if name == "" {
			return errors.New("category name is empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate category %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Name returns the category at idx.
func (c Categories) Name(idx ClassIndex) (string, error) {
	if idx < 0 || int(idx) >= len(c) {
		return "", fmt.Errorf("%w: class index %d out of range [0,%d)", ErrInference, idx, len(c))
	}
	return c[idx], nil
}

func (c Categories) Index(name string) (ClassIndex, bool) {
	for i, n := range c {
		if n == name {
			return ClassIndex(i), true
		}
	}
	return -1, false
}

func (c Categories) Equal(other Categories) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Resolve maps a class index and its probability to the caller-facing label.
func Resolve(categories Categories, idx ClassIndex, confidence float64) (PredictionResult, error) {
	name, err := categories.Name(idx)
	if err != nil {
		return PredictionResult{}, err
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return PredictionResult{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrInference, confidence)
	}
	if name == NoTumorCategory {
		return PredictionResult{Label: noTumorLabel, Confidence: confidence}, nil
	}
	// Casers keep state between calls and cannot be shared across goroutines.
	title := cases.Title(language.English).String(name)
	return PredictionResult{Label: "Tumor Detected: " + title, Confidence: confidence}, nil
}
