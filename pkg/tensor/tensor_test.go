package tensor

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func fill(img interface {
	Set(x, y int, c color.Color)
	Bounds() image.Rectangle
}, c color.Color) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestEncode_PlaneOrdering(t *testing.T) {
	c := color.NRGBA{R: 255, G: 51, B: 0, A: 255}
	want := [3]float32{1.0, 0.2, 0.0}

	images := map[string]image.Image{}

	nrgba := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	fill(nrgba, c)
	images["nrgba"] = nrgba

	rgba := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fill(rgba, c)
	images["rgba"] = rgba

	// Sub-image exercises non-zero origins through the fast path.
	big := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	fill(big, color.NRGBA{A: 255})
	sub := big.SubImage(image.Rect(4, 4, 12, 12)).(*image.NRGBA)
	fill(sub, c)
	images["subimage"] = sub

	ycc := image.NewYCbCr(image.Rect(0, 0, 8, 8), image.YCbCrSubsampleRatio444)
	images["generic"] = ycc

	for name, img := range images {
		t.Run(name, func(t *testing.T) {
			in, err := Encode(img)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if len(in.Data) != 3*8*8 {
				t.Fatalf("len = %d, want %d", len(in.Data), 3*8*8)
			}
			if name == "generic" {
				// An all-zero YCbCr image decodes to a constant colour per plane.
				for p := 0; p < 3; p++ {
					plane := in.Plane(p)
					for _, v := range plane {
						if v != plane[0] {
							t.Fatalf("plane %d not constant", p)
						}
					}
				}
				return
			}
			for p := 0; p < 3; p++ {
				for i, v := range in.Plane(p) {
					if !near(v, want[p]) {
						t.Fatalf("plane %d[%d] = %v, want %v", p, i, v, want[p])
					}
				}
			}
		})
	}
}

func TestEncode_RowMajorAndAlphaDropped(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 128})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})

	in, err := Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{
		1, 0, 0, 0, // R plane
		0, 1, 0, 0, // G plane
		0, 0, 1, 0, // B plane
	}
	for i := range want {
		if !near(in.Data[i], want[i]) {
			t.Errorf("Data[%d] = %v, want %v", i, in.Data[i], want[i])
		}
	}

	shape := in.Shape()
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 3 || shape[2] != 2 || shape[3] != 2 {
		t.Errorf("Shape() = %v, want [1 3 2 2]", shape)
	}
}

func TestEncode_RejectsNonSquare(t *testing.T) {
	if _, err := Encode(image.NewNRGBA(image.Rect(0, 0, 4, 2))); err == nil {
		t.Error("expected error for non-square image")
	}
	if _, err := Encode(nil); err == nil {
		t.Error("expected error for nil image")
	}
}

func TestNewOutput_Validation(t *testing.T) {
	tests := []struct {
		name  string
		data  []float32
		shape []int64
		ok    bool
	}{
		{"valid", make([]float32, 2*7), []int64{1, 2, 7}, true},
		{"empty anchors", nil, []int64{1, 0, 85}, true},
		{"rank 2", make([]float32, 14), []int64{2, 7}, false},
		{"batch 2", make([]float32, 28), []int64{2, 2, 7}, false},
		{"no classes", make([]float32, 10), []int64{1, 2, 5}, false},
		{"short data", make([]float32, 13), []int64{1, 2, 7}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOutput(tt.data, tt.shape)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrDecode) {
				t.Errorf("error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestOutput_Accessors(t *testing.T) {
	data := []float32{
		320, 320, 100, 100, 0.9, 0.1, 0.9,
		10, 20, 30, 40, 0.5, 0.7, 0.3,
	}
	out, err := NewOutput(data, []int64{1, 2, 7})
	if err != nil {
		t.Fatal(err)
	}
	if out.Anchors() != 2 || out.Classes() != 2 {
		t.Fatalf("anchors/classes = %d/%d, want 2/2", out.Anchors(), out.Classes())
	}

	cx, cy, w, h := out.Box(1)
	if cx != 10 || cy != 20 || w != 30 || h != 40 {
		t.Errorf("Box(1) = %v %v %v %v", cx, cy, w, h)
	}
	if out.Objectness(0) != 0.9 {
		t.Errorf("Objectness(0) = %v", out.Objectness(0))
	}
	if out.ClassScore(0, 1) != 0.9 || out.ClassScore(1, 0) != 0.7 {
		t.Errorf("ClassScore mismatch")
	}
	if s := out.ClassScores(1); len(s) != 2 || s[1] != 0.3 {
		t.Errorf("ClassScores(1) = %v", s)
	}
}
