package ml

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// Prediction is a PredictionResult together with the values it was derived from.
type Prediction struct {
	PredictionResult
	Index         ClassIndex   `json:"index"`
	Category      string       `json:"category"`
	Probabilities Distribution `json:"probabilities"`
}

// Session owns a loaded extractor and classifier. It is built once per
// process and never modified afterwards, so it may be shared by any number
// of goroutines.
type Session struct {
	extractor  FeatureExtractor
	classifier Classifier
	categories Categories
}

// NewSession pairs an extractor with a classifier trained on its output.
func NewSession(extractor FeatureExtractor, classifier Classifier) (*Session, error) {
	if extractor == nil || classifier == nil {
		return nil, fmt.Errorf("%w: extractor and classifier are required", ErrModelLoad)
	}
	if extractor.FeatureDim() != classifier.FeatureDim() {
		return nil, fmt.Errorf("%w: extractor produces %d features, classifier expects %d",
			ErrModelLoad, extractor.FeatureDim(), classifier.FeatureDim())
	}
	categories := classifier.Categories()
	if err := categories.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	return &Session{extractor: extractor, classifier: classifier, categories: categories}, nil
}

// LoadSession reads both artifacts. Any failure is an ErrModelLoad.
func LoadSession(extractorPath, classifierPath string) (*Session, error) {
	extractor, err := LoadExtractor(extractorPath)
	if err != nil {
		return nil, err
	}
	classifier, err := LoadClassifier(KindLinearSVC, classifierPath)
	if err != nil {
		return nil, err
	}
	return NewSession(extractor, classifier)
}

func (s *Session) Categories() Categories {
	return append(Categories(nil), s.categories...)
}

// PredictTumor classifies the image at path and returns the label and confidence.
func (s *Session) PredictTumor(path string) (PredictionResult, error) {
	p, err := s.Predict(path)
	if err != nil {
		return PredictionResult{}, err
	}
	return p.PredictionResult, nil
}

func (s *Session) Predict(path string) (Prediction, error) {
	input, err := Preprocess(path)
	if err != nil {
		return Prediction{}, err
	}
	return s.PredictTensor(input)
}

func (s *Session) PredictReader(r io.Reader) (Prediction, error) {
	input, err := PreprocessReader(r)
	if err != nil {
		return Prediction{}, err
	}
	return s.PredictTensor(input)
}

func (s *Session) PredictTensor(input *tensor.Dense) (Prediction, error) {
	features, err := s.extractor.Extract(input)
	if err != nil {
		return Prediction{}, err
	}
	idx, dist, err := s.classifier.Classify(features)
	if err != nil {
		return Prediction{}, err
	}
	if int(idx) >= len(dist) || idx < 0 {
		return Prediction{}, fmt.Errorf("%w: class index %d outside distribution of %d", ErrInference, idx, len(dist))
	}
	if len(dist) != len(s.categories) {
		return Prediction{}, fmt.Errorf("%w: distribution has %d entries for %d categories", ErrInference, len(dist), len(s.categories))
	}
	// Confidence is the largest probability, even when the vote picked another class.
	result, err := Resolve(s.categories, idx, floats.Max(dist))
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{
		PredictionResult: result,
		Index:            idx,
		Category:         s.categories[idx],
		Probabilities:    dist,
	}, nil
}
