// Package letterbox maps frames of any size onto the fixed square model
// input while preserving aspect ratio, and inverts that mapping for boxes.
package letterbox

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultSize is the square model input edge in pixels.
const DefaultSize = 640

// Fill is the neutral background used for the padded borders.
var Fill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// ErrInvalidFrame is returned for zero-area inputs.
var ErrInvalidFrame = errors.New("letterbox: invalid frame")

// Info records how a source frame was placed in the model input.
type Info struct {
	Scale     float64 // min(InputSize/w, InputSize/h)
	OffsetX   float64 // left padding in input pixels
	OffsetY   float64 // top padding in input pixels
	InputSize int

	// ScaledW and ScaledH are the integer size of the scaled content.
	ScaledW, ScaledH int
}

// Compute derives the letterbox placement for a w x h frame in a size x size input.
func Compute(w, h, size int) (Info, error) {
	if w <= 0 || h <= 0 {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrInvalidFrame, w, h)
	}
	if size <= 0 {
		return Info{}, fmt.Errorf("%w: input size %d", ErrInvalidFrame, size)
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := clampInt(int(math.Round(float64(w)*scale)), 1, size)
	nh := clampInt(int(math.Round(float64(h)*scale)), 1, size)

	return Info{
		Scale:     scale,
		OffsetX:   float64((size - nw) / 2),
		OffsetY:   float64((size - nh) / 2),
		InputSize: size,
		ScaledW:   nw,
		ScaledH:   nh,
	}, nil
}

// Apply scales img into a size x size canvas filled with Fill.
// The result depends only on the inputs.
func Apply(img image.Image, size int) (*image.NRGBA, Info, error) {
	if img == nil {
		return nil, Info{}, fmt.Errorf("%w: nil image", ErrInvalidFrame)
	}
	b := img.Bounds()
	info, err := Compute(b.Dx(), b.Dy(), size)
	if err != nil {
		return nil, Info{}, err
	}

	canvas := imaging.New(size, size, Fill)
	scaled := imaging.Resize(img, info.ScaledW, info.ScaledH, imaging.Linear)
	out := imaging.Paste(canvas, scaled, image.Pt(int(info.OffsetX), int(info.OffsetY)))
	return out, info, nil
}

// ToInput maps a source-image point into model-input space.
func (i Info) ToInput(x, y float64) (float64, float64) {
	return x*i.Scale + i.OffsetX, y*i.Scale + i.OffsetY
}

// ToSource maps a model-input point back into source-image space.
func (i Info) ToSource(x, y float64) (float64, float64) {
	return (x - i.OffsetX) / i.Scale, (y - i.OffsetY) / i.Scale
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
