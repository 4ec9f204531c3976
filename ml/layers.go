package ml

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// featureMap is an activation volume stored row-major with channels last.
type featureMap struct {
	h, w, c int
	data    []float32
}

// conv2D is a stride-1 "valid" convolution. The kernel is laid out
// (kh, kw, in, out) so each output pixel is one GEMV over its input patch.
func conv2D(in featureMap, kernel, bias []float32, k, filters int) featureMap {
	oh, ow := in.h-k+1, in.w-k+1
	out := featureMap{h: oh, w: ow, c: filters, data: make([]float32, oh*ow*filters)}

	rows := k * k * in.c
	weights := blas32.General{Rows: rows, Cols: filters, Stride: filters, Data: kernel}
	patch := make([]float32, rows)
	span := k * in.c

	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			p := 0
			for ky := 0; ky < k; ky++ {
				start := ((y+ky)*in.w + x) * in.c
				p += copy(patch[p:], in.data[start:start+span])
			}
			o := out.data[(y*ow+x)*filters : (y*ow+x+1)*filters]
			copy(o, bias)
			blas32.Gemv(blas.Trans, 1, weights,
				blas32.Vector{N: rows, Inc: 1, Data: patch}, 1,
				blas32.Vector{N: filters, Inc: 1, Data: o})
		}
	}
	return out
}

// maxPool2 is a 2x2 pool with stride 2; odd trailing rows and columns are dropped.
func maxPool2(in featureMap) featureMap {
	oh, ow := in.h/2, in.w/2
	out := featureMap{h: oh, w: ow, c: in.c, data: make([]float32, oh*ow*in.c)}
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			a := ((2*y)*in.w + 2*x) * in.c
			b := a + in.c
			c := a + in.w*in.c
			d := c + in.c
			o := (y*ow + x) * in.c
			for ch := 0; ch < in.c; ch++ {
				m := in.data[a+ch]
				if v := in.data[b+ch]; v > m {
					m = v
				}
				if v := in.data[c+ch]; v > m {
					m = v
				}
				if v := in.data[d+ch]; v > m {
					m = v
				}
				out.data[o+ch] = m
			}
		}
	}
	return out
}

// dense computes bias + xᵀW with W laid out (in, units).
func dense(x, kernel, bias []float32, units int) []float32 {
	out := make([]float32, units)
	copy(out, bias)
	blas32.Gemv(blas.Trans, 1,
		blas32.General{Rows: len(x), Cols: units, Stride: units, Data: kernel},
		blas32.Vector{N: len(x), Inc: 1, Data: x}, 1,
		blas32.Vector{N: units, Inc: 1, Data: out})
	return out
}

func relu(values []float32) {
	for i, v := range values {
		if v < 0 {
			values[i] = 0
		}
	}
}
