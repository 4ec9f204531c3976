package ml

import (
	"errors"
	"math"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		idx   ClassIndex
		label string
	}{
		{0, "Tumor Detected: Glioma"},
		{1, "Tumor Detected: Meningioma"},
		{2, "No Tumor Detected"},
		{3, "Tumor Detected: Pituitary"},
	}
	for _, tt := range tests {
		got, err := Resolve(DefaultCategories(), tt.idx, 0.8)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Label != tt.label {
			t.Errorf("index %d: expected %q, got %q", tt.idx, tt.label, got.Label)
		}
		if got.Confidence != 0.8 {
			t.Errorf("index %d: confidence changed to %f", tt.idx, got.Confidence)
		}
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	categories := DefaultCategories()
	if _, err := Resolve(categories, 4, 0.5); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference for out-of-range index, got %v", err)
	}
	if _, err := Resolve(categories, -1, 0.5); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference for negative index, got %v", err)
	}
	for _, c := range []float64{-0.1, 1.01, math.NaN()} {
		if _, err := Resolve(categories, 0, c); !errors.Is(err, ErrInference) {
			t.Fatalf("expected ErrInference for confidence %v, got %v", c, err)
		}
	}
}

func TestCategoriesValidate(t *testing.T) {
	if err := DefaultCategories().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []Categories{nil, {"one"}, {"a", ""}, {"a", "a"}} {
		if err := bad.Validate(); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
	if idx, ok := DefaultCategories().Index(NoTumorCategory); !ok || idx != 2 {
		t.Fatalf("expected notumor at index 2, got %d %v", idx, ok)
	}
}
