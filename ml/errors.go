package ml

import "errors"

var (
	// ErrImageDecode marks an input file that could not be read or decoded as an image.
	ErrImageDecode = errors.New("image decode error")
	// ErrModelLoad marks a missing, corrupt or mutually incompatible model artifact.
	ErrModelLoad = errors.New("model load error")
	// ErrInference marks a shape or dimension mismatch during a forward pass or classification.
	ErrInference = errors.New("inference error")
)
