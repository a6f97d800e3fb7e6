// Package tensor converts letterboxed images to the planar model input and
// exposes read-only access to the dense [1, N, 5+C] detector output.
package tensor

import (
	"errors"
	"fmt"
	"image"
)

// Channels is the number of colour planes in the model input.
const Channels = 3

// ErrDecode is returned for output tensors that do not match the expected layout.
var ErrDecode = errors.New("tensor: decode error")

// Input is a [1, 3, S, S] float tensor in channel-major order.
type Input struct {
	Data []float32
	Size int
}

// Shape returns the tensor shape as expected by inference engines.
func (in *Input) Shape() []int64 {
	return []int64{1, Channels, int64(in.Size), int64(in.Size)}
}

// Plane returns the S*S values for channel c (0=R, 1=G, 2=B).
func (in *Input) Plane(c int) []float32 {
	n := in.Size * in.Size
	return in.Data[c*n : (c+1)*n]
}

// Encode packs a square image into planar RGB floats in [0,1].
// All red values come first, then green, then blue, each plane row-major.
// Alpha is dropped.
func Encode(img image.Image) (*Input, error) {
	if img == nil {
		return nil, fmt.Errorf("tensor: nil image")
	}
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() <= 0 {
		return nil, fmt.Errorf("tensor: input must be square, got %dx%d", b.Dx(), b.Dy())
	}

	size := b.Dx()
	plane := size * size
	data := make([]float32, Channels*plane)

	switch src := img.(type) {
	case *image.NRGBA:
		fillFromPix(data, src.Pix, src.Stride, src.Rect.Min, b, plane)
	case *image.RGBA:
		fillFromPix(data, src.Pix, src.Stride, src.Rect.Min, b, plane)
	default:
		for y := 0; y < size; y++ {
			offset := y * size
			for x := 0; x < size; x++ {
				i := offset + x
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				data[i] = float32(r>>8) / 255.0
				data[plane+i] = float32(g>>8) / 255.0
				data[2*plane+i] = float32(bl>>8) / 255.0
			}
		}
	}

	return &Input{Data: data, Size: size}, nil
}

// fillFromPix reads 4-byte pixels directly. For *image.RGBA the values are
// alpha-premultiplied, which matches At() for the opaque frames produced by
// the letterbox.
func fillFromPix(data []float32, pix []uint8, stride int, origin image.Point, b image.Rectangle, plane int) {
	size := b.Dx()
	for y := 0; y < size; y++ {
		row := (b.Min.Y-origin.Y+y)*stride + (b.Min.X-origin.X)*4
		offset := y * size
		for x := 0; x < size; x++ {
			p := pix[row+x*4 : row+x*4+4 : row+x*4+4]
			i := offset + x
			data[i] = float32(p[0]) / 255.0
			data[plane+i] = float32(p[1]) / 255.0
			data[2*plane+i] = float32(p[2]) / 255.0
		}
	}
}
