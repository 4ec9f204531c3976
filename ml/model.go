package ml

import "gorgonia.org/tensor"

// FeatureExtractor maps an image tensor to a fixed-length embedding.
type FeatureExtractor interface {
	Extract(input *tensor.Dense) (FeatureVector, error)
	FeatureDim() int
}

// Classifier predicts a category from an embedding.
type Classifier interface {
	Classify(features FeatureVector) (ClassIndex, Distribution, error)
	Categories() Categories
	FeatureDim() int
	Save(path string) error
}
