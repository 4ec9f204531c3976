package ml

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"
)

// ImageSize is the height and width every scan is resized to.
const ImageSize = 128

// InputShape is the (batch, height, width, channels) shape of an image tensor.
func InputShape() tensor.Shape {
	return tensor.Shape{1, ImageSize, ImageSize, 1}
}

// Preprocess decodes the image at path into a (1,128,128,1) tensor scaled to [0,1].
func Preprocess(path string) (*tensor.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	defer file.Close()

	t, err := PreprocessReader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func PreprocessReader(r io.Reader) (*tensor.Dense, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return PreprocessImage(img)
}

// PreprocessImage converts to grayscale, resizes with a bilinear filter and
// divides every 8-bit intensity by 255.
func PreprocessImage(img image.Image) (*tensor.Dense, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrImageDecode)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image dimensions %dx%d", ErrImageDecode, bounds.Dx(), bounds.Dy())
	}

	resized := resize.Resize(ImageSize, ImageSize, toGray(img), resize.Bilinear)
	rb := resized.Bounds()
	if rb.Dx() != ImageSize || rb.Dy() != ImageSize {
		return nil, fmt.Errorf("%w: resize produced %dx%d", ErrImageDecode, rb.Dx(), rb.Dy())
	}

	data := make([]float32, ImageSize*ImageSize)
	if g, ok := resized.(*image.Gray); ok {
		for y := 0; y < ImageSize; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+ImageSize]
			for x, v := range row {
				data[y*ImageSize+x] = float32(v) / 255
			}
		}
	} else {
		for y := 0; y < ImageSize; y++ {
			for x := 0; x < ImageSize; x++ {
				v := color.GrayModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.Gray).Y
				data[y*ImageSize+x] = float32(v) / 255
			}
		}
	}

	return tensor.New(tensor.WithShape(InputShape()...), tensor.WithBacking(data)), nil
}

// toGray uses the ITU-R 601 luma weights of color.GrayModel, the same weights
// OpenCV applies when reading a file as grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// tensorPixels checks that t is an image tensor and returns its backing data.
func tensorPixels(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil input tensor", ErrInference)
	}
	if !t.Shape().Eq(InputShape()) {
		return nil, fmt.Errorf("%w: input shape %v, expected %v", ErrInference, t.Shape(), InputShape())
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: input dtype %v, expected float32", ErrInference, t.Dtype())
	}
	return data, nil
}
