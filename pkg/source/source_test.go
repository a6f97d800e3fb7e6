package source

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestPattern_Moves(t *testing.T) {
	p := NewPattern(320, 240)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		img, err := p.Capture(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
			t.Fatalf("bounds = %v", b)
		}
		pos := p.Position(n)
		r, _, _, _ := img.At(pos.X+1, pos.Y+1).RGBA()
		if r>>8 != 220 {
			t.Errorf("capture %d: square not at %v", n, pos)
		}
	}
	if p.Position(0) == p.Position(1) {
		t.Error("square did not move")
	}
}

func TestPattern_DefaultsAndClose(t *testing.T) {
	p := NewPattern(0, -1)
	img, err := p.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("bounds = %v, want 640x480", b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled capture = %v", err)
	}

	p.Close()
	if _, err := p.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("capture after close = %v, want ErrClosed", err)
	}
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
}

func TestDirectory_Cycles(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "b.png"), 20, 10)
	writeImage(t, filepath.Join(dir, "a.jpg"), 30, 10)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.png"), 0o755)

	d, err := NewDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}

	widths := []int{30, 20, 30}
	for i, want := range widths {
		img, err := d.Capture(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got := img.Bounds().Dx(); got != want {
			t.Errorf("capture %d width = %d, want %d", i, got, want)
		}
	}
}

func TestDirectory_Errors(t *testing.T) {
	if _, err := NewDirectory(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing dir should fail")
	}
	if _, err := NewDirectory(t.TempDir()); err == nil {
		t.Error("empty dir should fail")
	}

	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0o644)
	writeImage(t, filepath.Join(dir, "ok.png"), 8, 8)
	d, err := NewDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Capture(context.Background()); err == nil {
		t.Error("broken file should fail its capture")
	}
	img, err := d.Capture(context.Background())
	if err != nil || img.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Errorf("next capture = %v, %v", img, err)
	}

	d.Close()
	if _, err := d.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("capture after close = %v", err)
	}
}
