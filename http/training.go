package http

import (
	"database/sql"
	"errors"
	"net/http"

	"neuroscan/db"
	"neuroscan/ml"
)

type modelInfo struct {
	Classifier  string          `json:"classifier"`
	Categories  ml.Categories   `json:"categories"`
	InputShape  []int           `json:"input_shape"`
	FeatureDim  int             `json:"feature_dim"`
	LastTrained *db.TrainingLog `json:"last_training,omitempty"`
}

// handleModelInfo describes the loaded artifacts and the most recent
// training run recorded by cmd/train_model.
func handleModelInfo(w http.ResponseWriter, r *http.Request) {
	svc := currentServices()
	if svc.Predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	kind := svc.ClassifierKind
	if kind == "" {
		kind = ml.KindLinearSVC
	}
	info := modelInfo{
		Classifier: kind,
		Categories: svc.Predictor.Categories(),
		InputShape: ml.InputShape(),
		FeatureDim: ml.FeatureDim,
	}
	if svc.Scans != nil {
		run, err := svc.Scans.LatestTrainingRun()
		switch {
		case err == nil:
			info.LastTrained = run
		case errors.Is(err, sql.ErrNoRows):
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, info)
}
