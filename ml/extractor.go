package ml

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// FeatureDim is the length of every feature vector; it is fixed by the
// width of the last dense layer.
const FeatureDim = 128

const (
	extractorFormat  = "neuroscan-extractor"
	extractorVersion = 1
	manifestEntry    = "manifest.json"
	kernelSize       = 3
	conv1Filters     = 32
	conv2Filters     = 64
)

// FeatureVector is the embedding of one image tensor.
type FeatureVector []float64

// flattenDim is the dense layer's input width: 128 -conv-> 126 -pool-> 63 -conv-> 61 -pool-> 30.
var flattenDim = func() int {
	side := ((ImageSize-kernelSize+1)/2 - kernelSize + 1) / 2
	return side * side * conv2Filters
}()

type weightSpec struct {
	name  string
	shape tensor.Shape
	// fanIn and fanOut drive Glorot initialisation; zero for biases.
	fanIn, fanOut int
}

func weightSpecs() []weightSpec {
	k := kernelSize * kernelSize
	return []weightSpec{
		{"conv1_kernel", tensor.Shape{kernelSize, kernelSize, 1, conv1Filters}, k, k * conv1Filters},
		{"conv1_bias", tensor.Shape{conv1Filters}, 0, 0},
		{"conv2_kernel", tensor.Shape{kernelSize, kernelSize, conv1Filters, conv2Filters}, k * conv1Filters, k * conv2Filters},
		{"conv2_bias", tensor.Shape{conv2Filters}, 0, 0},
		{"feature_kernel", tensor.Shape{flattenDim, FeatureDim}, flattenDim, FeatureDim},
		{"feature_bias", tensor.Shape{FeatureDim}, 0, 0},
	}
}

type extractorManifest struct {
	Format     string   `json:"format"`
	Version    int      `json:"version"`
	InputShape []int    `json:"input_shape"`
	FeatureDim int      `json:"feature_dim"`
	Layers     []string `json:"layers"`
	Seed       int64    `json:"seed"`
}

func architectureSummary() []string {
	return []string{
		fmt.Sprintf("conv2d(%d,%dx%d,relu)", conv1Filters, kernelSize, kernelSize),
		"maxpool(2x2)",
		fmt.Sprintf("conv2d(%d,%dx%d,relu)", conv2Filters, kernelSize, kernelSize),
		"maxpool(2x2)",
		"flatten",
		fmt.Sprintf("dense(%d,relu)", FeatureDim),
	}
}

// Extractor is the convolutional feature network. Its weights are never
// written after construction, so one instance serves concurrent callers.
type Extractor struct {
	weights map[string]*tensor.Dense
	seed    int64
}

// NewExtractor builds the network with Glorot-uniform kernels and zero
// biases drawn from a source seeded with seed.
func NewExtractor(seed int64) *Extractor {
	rng := rand.New(rand.NewSource(seed))
	weights := make(map[string]*tensor.Dense)
	for _, spec := range weightSpecs() {
		data := make([]float32, spec.shape.TotalSize())
		if spec.fanIn > 0 {
			limit := float32(math.Sqrt(6 / float64(spec.fanIn+spec.fanOut)))
			for i := range data {
				data[i] = (rng.Float32()*2 - 1) * limit
			}
		}
		weights[spec.name] = tensor.New(tensor.WithShape(spec.shape...), tensor.WithBacking(data))
	}
	return &Extractor{weights: weights, seed: seed}
}

func (e *Extractor) FeatureDim() int {
	return FeatureDim
}

func (e *Extractor) param(name string) []float32 {
	return e.weights[name].Data().([]float32)
}

// Extract runs the forward pass for one (1,128,128,1) tensor.
func (e *Extractor) Extract(input *tensor.Dense) (FeatureVector, error) {
	pixels, err := tensorPixels(input)
	if err != nil {
		return nil, err
	}

	x := featureMap{h: ImageSize, w: ImageSize, c: 1, data: pixels}
	x = conv2D(x, e.param("conv1_kernel"), e.param("conv1_bias"), kernelSize, conv1Filters)
	relu(x.data)
	x = maxPool2(x)
	x = conv2D(x, e.param("conv2_kernel"), e.param("conv2_bias"), kernelSize, conv2Filters)
	relu(x.data)
	x = maxPool2(x)
	if len(x.data) != flattenDim {
		return nil, fmt.Errorf("%w: flattened width %d, expected %d", ErrInference, len(x.data), flattenDim)
	}

	hidden := dense(x.data, e.param("feature_kernel"), e.param("feature_bias"), FeatureDim)
	relu(hidden)

	features := make(FeatureVector, len(hidden))
	for i, v := range hidden {
		features[i] = float64(v)
	}
	return features, nil
}

// Save writes the weights as an .npz archive: one .npy entry per weight
// tensor plus a JSON manifest describing the architecture.
func (e *Extractor) Save(path string) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		zw := zip.NewWriter(w)

		manifest := extractorManifest{
			Format:     extractorFormat,
			Version:    extractorVersion,
			InputShape: InputShape(),
			FeatureDim: FeatureDim,
			Layers:     architectureSummary(),
			Seed:       e.seed,
		}
		entry, err := zw.CreateHeader(&zip.FileHeader{Name: manifestEntry, Method: zip.Deflate})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(entry)
		enc.SetIndent("", "  ")
		if err := enc.Encode(manifest); err != nil {
			return err
		}

		for _, spec := range weightSpecs() {
			entry, err := zw.CreateHeader(&zip.FileHeader{Name: spec.name + ".npy", Method: zip.Store})
			if err != nil {
				return err
			}
			if err := e.weights[spec.name].WriteNpy(entry); err != nil {
				return fmt.Errorf("write %s: %w", spec.name, err)
			}
		}
		return zw.Close()
	})
}

// LoadExtractor reads an archive written by Save, or one exported from the
// equivalent Keras model with numpy.savez using the same entry names.
func LoadExtractor(path string) (*Extractor, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open extractor %s: %v", ErrModelLoad, path, err)
	}
	defer archive.Close()

	entries := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		entries[f.Name] = f
	}

	e := &Extractor{weights: make(map[string]*tensor.Dense)}
	if f, ok := entries[manifestEntry]; ok {
		raw, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: read manifest: %v", ErrModelLoad, err)
		}
		var manifest extractorManifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			return nil, fmt.Errorf("%w: parse manifest: %v", ErrModelLoad, err)
		}
		if manifest.Format != extractorFormat || manifest.Version != extractorVersion {
			return nil, fmt.Errorf("%w: unsupported extractor format %q v%d", ErrModelLoad, manifest.Format, manifest.Version)
		}
		if manifest.FeatureDim != FeatureDim || !tensor.Shape(manifest.InputShape).Eq(InputShape()) {
			return nil, fmt.Errorf("%w: extractor built for input %v and %d features", ErrModelLoad, manifest.InputShape, manifest.FeatureDim)
		}
		e.seed = manifest.Seed
	}

	for _, spec := range weightSpecs() {
		f, ok := entries[spec.name+".npy"]
		if !ok {
			return nil, fmt.Errorf("%w: extractor is missing %s", ErrModelLoad, spec.name)
		}
		raw, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrModelLoad, spec.name, err)
		}
		t := new(tensor.Dense)
		if err := t.ReadNpy(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrModelLoad, spec.name, err)
		}
		if t.Dtype() != tensor.Float32 {
			return nil, fmt.Errorf("%w: %s has dtype %v, expected float32", ErrModelLoad, spec.name, t.Dtype())
		}
		if !t.Shape().Eq(spec.shape) {
			return nil, fmt.Errorf("%w: %s has shape %v, expected %v", ErrModelLoad, spec.name, t.Shape(), spec.shape)
		}
		e.weights[spec.name] = t
	}
	return e, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
