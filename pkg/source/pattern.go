// Package source provides frame sources for the scheduler.
package source

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-detect/pkg/frame"
)

// ErrClosed is returned by Capture after Close.
var ErrClosed = errors.New("source: closed")

var (
	_ frame.Source = (*Pattern)(nil)
	_ frame.Source = (*Directory)(nil)
)

// Pattern renders a square that moves across a gray background, one step
// per capture. It needs no hardware.
type Pattern struct {
	width, height int
	side          int
	step          int

	mu     sync.Mutex
	n      int
	closed bool
}

// NewPattern creates a pattern source of the given size. Non-positive
// dimensions default to 640x480.
func NewPattern(width, height int) *Pattern {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	side := min(width, height) / 4
	return &Pattern{
		width:  width,
		height: height,
		side:   max(side, 1),
		step:   max(width/32, 1),
	}
}

// Capture implements frame.Source.
func (p *Pattern) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	n := p.n
	p.n++
	p.mu.Unlock()

	img := imaging.New(p.width, p.height, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	square := imaging.New(p.side, p.side, color.NRGBA{R: 220, G: 60, B: 40, A: 255})
	return imaging.Paste(img, square, p.Position(n)), nil
}

// Position returns the top-left corner of the square in capture n
// (zero-based).
func (p *Pattern) Position(n int) image.Point {
	span := max(p.width-p.side, 1)
	return image.Pt((n*p.step)%span, (p.height-p.side)/2)
}

// Close implements frame.Source.
func (p *Pattern) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
