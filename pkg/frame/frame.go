// Package frame defines the captured frame handed from a source to the
// detection pipeline for one scheduler cycle.
package frame

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used when a frame is encoded for a remote backend.
const DefaultJPEGQuality = 80

// Frame is one captured image. It is owned by a single scheduler cycle and
// must not be retained once that cycle completes.
type Frame struct {
	// ID is assigned by the scheduler and increases monotonically per session.
	ID uint64

	// Image holds the pixels (RGBA, NRGBA or any image.Image).
	Image image.Image

	// CapturedAt is when the source produced the frame.
	CapturedAt time.Time

	jpegOnce sync.Once
	jpeg     []byte
	jpegErr  error
}

// New wraps img as a frame captured now.
func New(id uint64, img image.Image) *Frame {
	return &Frame{ID: id, Image: img, CapturedAt: time.Now()}
}

// Size returns the frame width and height in pixels.
func (f *Frame) Size() (w, h int) {
	if f == nil || f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	w, h := f.Size()
	return w <= 0 || h <= 0
}

// JPEG encodes the frame once and returns the cached bytes on later calls.
// The first quality wins.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	f.jpegOnce.Do(func() {
		if f.Empty() {
			f.jpegErr = fmt.Errorf("frame %d: no pixels to encode", f.ID)
			return
		}
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, f.Image, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			f.jpegErr = fmt.Errorf("encode frame %d: %w", f.ID, err)
			return
		}
		f.jpeg = buf.Bytes()
	})
	return f.jpeg, f.jpegErr
}

// Source produces frames for the scheduler.
type Source interface {
	// Capture returns the current image. It may block until one is available.
	Capture(ctx context.Context) (image.Image, error)

	// Close releases the underlying device or files.
	Close() error
}
