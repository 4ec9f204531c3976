package main

import (
	"testing"

	"neuroscan/config"
)

func TestTrainConfigOverrides(t *testing.T) {
	cfg := config.Default()

	tc := trainConfig(cfg, "", "", 0, 0, 0)
	if tc.DataDir != cfg.Training.DataDir || tc.ModelDir != cfg.Model.Dir || tc.Seed != 42 || tc.SVM.C != 1 {
		t.Fatalf("expected configured values, got %+v", tc)
	}

	tc = trainConfig(cfg, "/corpus", "/out", 7, 3, 0.5)
	if tc.DataDir != "/corpus" || tc.ModelDir != "/out" || tc.Seed != 7 || tc.Workers != 3 || tc.SVM.C != 0.5 {
		t.Fatalf("flag overrides not applied: %+v", tc)
	}
	if len(tc.Categories) != 4 {
		t.Fatalf("unexpected categories %v", tc.Categories)
	}
}
