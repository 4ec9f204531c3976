package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"neuroscan/ml"
)

func TestWritePrediction(t *testing.T) {
	prediction := ml.Prediction{
		PredictionResult: ml.PredictionResult{Label: "Tumor Detected: Glioma", Confidence: 0.8125},
		Index:            0,
		Category:         "glioma",
		Probabilities:    ml.Distribution{0.8125, 0.0625, 0.0625, 0.0625},
	}

	var text bytes.Buffer
	if err := writePrediction(&text, prediction, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := text.String(); got != "Tumor Detected: Glioma (confidence 0.8125)\n" {
		t.Fatalf("unexpected output %q", got)
	}

	var out bytes.Buffer
	if err := writePrediction(&out, prediction, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["category"] != "glioma" || decoded["label"] != "Tumor Detected: Glioma" {
		t.Fatalf("unexpected JSON %s", out.String())
	}
}

func TestPredictWithoutModel(t *testing.T) {
	var out bytes.Buffer
	err := predict(t.TempDir(), "scan.png", false, &out, zap.NewNop())
	if !errors.Is(err, ml.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}
