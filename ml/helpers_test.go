package ml

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

const scanSide = 96

// syntheticScan draws a noisy RGBA image whose bright region depends on the category.
func syntheticScan(category string, rng *rand.Rand) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, scanSide, scanSide))
	for y := 0; y < scanSide; y++ {
		for x := 0; x < scanSide; x++ {
			base := 20
			switch category {
			case "glioma":
				if x < scanSide/2 {
					base = 220
				}
			case "meningioma":
				if y < scanSide/2 {
					base = 220
				}
			case NoTumorCategory:
				base = 80
			case "pituitary":
				if x > scanSide/4 && x < 3*scanSide/4 && y > scanSide/4 && y < 3*scanSide/4 {
					base = 220
				}
			}
			v := uint8(clampByte(base + rng.Intn(25) - 12))
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// writeCorpus lays out perCategory synthetic scans per category plus one
// corrupt file in the first category, and returns the root directory.
func writeCorpus(t *testing.T, perCategory int) string {
	t.Helper()
	root := t.TempDir()
	rng := rand.New(rand.NewSource(1))
	for _, category := range DefaultCategories() {
		for i := 0; i < perCategory; i++ {
			writePNG(t, filepath.Join(root, category, scanName(i)), syntheticScan(category, rng))
		}
	}
	broken := filepath.Join(root, DefaultCategories()[0], "broken.jpg")
	if err := os.WriteFile(broken, []byte("this is not an image"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return root
}

func scanName(i int) string {
	return "scan_" + string(rune('a'+i)) + ".png"
}

func syntheticTensor(t *testing.T, category string, seed int64) *tensor.Dense {
	t.Helper()
	input, err := PreprocessImage(syntheticScan(category, rand.New(rand.NewSource(seed))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return input
}

func newTestRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
