package source

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Directory cycles through the JPEG and PNG files in a directory in name
// order.
type Directory struct {
	files []string

	mu     sync.Mutex
	next   int
	closed bool
}

// NewDirectory lists dir. It fails when dir holds no images.
func NewDirectory(dir string) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("source dir %s: no jpeg or png files", dir)
	}
	slices.Sort(files)
	return &Directory{files: files}, nil
}

// Len returns the number of images in the cycle.
func (d *Directory) Len() int { return len(d.files) }

// Capture implements frame.Source. An unreadable file fails that capture
// only; the next call moves on.
func (d *Directory) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Close implements frame.Source.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
