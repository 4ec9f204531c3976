package ml

import (
	"fmt"
	"path/filepath"
)

const (
	// KindLinearSVC is the only classifier kind written by the trainer.
	KindLinearSVC = "linear_svc"

	ExtractorFile  = "extractor.npz"
	ClassifierFile = "classifier.json"
)

// ArtifactPaths returns the extractor and classifier locations inside dir.
func ArtifactPaths(dir string) (extractor, classifier string) {
	return filepath.Join(dir, ExtractorFile), filepath.Join(dir, ClassifierFile)
}

func LoadClassifier(kind, path string) (Classifier, error) {
	switch kind {
	case "", KindLinearSVC:
		model, err := LoadSVM(path)
		if err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("%w: unsupported classifier type %q", ErrModelLoad, kind)
	}
}
