package letterbox

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		w, h, size int
		scale      float64
		offX, offY float64
	}{
		{"square identity", 640, 640, 640, 1, 0, 0},
		{"landscape", 1280, 720, 640, 0.5, 0, 140},
		{"portrait", 480, 640, 640, 1, 80, 0},
		{"upscale", 320, 160, 640, 2, 0, 160},
		{"tiny", 1, 1, 640, 640, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Compute(tt.w, tt.h, tt.size)
			if err != nil {
				t.Fatalf("Compute error: %v", err)
			}
			if math.Abs(info.Scale-tt.scale) > 1e-9 {
				t.Errorf("Scale = %v, want %v", info.Scale, tt.scale)
			}
			if info.OffsetX != tt.offX || info.OffsetY != tt.offY {
				t.Errorf("offset = (%v,%v), want (%v,%v)", info.OffsetX, info.OffsetY, tt.offX, tt.offY)
			}
			if info.InputSize != tt.size {
				t.Errorf("InputSize = %d, want %d", info.InputSize, tt.size)
			}
		})
	}
}

func TestCompute_InvalidFrame(t *testing.T) {
	cases := [][3]int{{0, 480, 640}, {640, 0, 640}, {-1, 10, 640}, {10, 10, 0}}
	for _, c := range cases {
		if _, err := Compute(c[0], c[1], c[2]); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("Compute(%v) error = %v, want ErrInvalidFrame", c, err)
		}
	}
	if _, _, err := Apply(image.NewNRGBA(image.Rect(0, 0, 0, 0)), 640); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Apply(empty) error = %v, want ErrInvalidFrame", err)
	}
	if _, _, err := Apply(nil, 640); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Apply(nil) error = %v, want ErrInvalidFrame", err)
	}
}

func TestInfo_Invertible(t *testing.T) {
	sizes := []int{32, 320, 640, 1280}
	dims := [][2]int{{1, 1}, {640, 480}, {480, 640}, {1920, 1080}, {7, 1333}, {333, 17}, {640, 640}}
	points := [][2]float64{{0, 0}, {0.5, 0.25}, {0.999, 0.001}, {0.37, 0.81}}

	for _, s := range sizes {
		for _, d := range dims {
			info, err := Compute(d[0], d[1], s)
			if err != nil {
				t.Fatalf("Compute(%v, %d) error: %v", d, s, err)
			}
			for _, p := range points {
				x, y := p[0]*float64(d[0]), p[1]*float64(d[1])
				ix, iy := info.ToInput(x, y)
				sx, sy := info.ToSource(ix, iy)
				if math.Abs(sx-x) > 1e-6 || math.Abs(sy-y) > 1e-6 {
					t.Errorf("size %d dims %v: (%v,%v) -> (%v,%v)", s, d, x, y, sx, sy)
				}
			}
		}
	}
}

func TestApply_PlacesContentOnGray(t *testing.T) {
	red := color.NRGBA{R: 200, G: 20, B: 20, A: 255}
	out, info, err := Apply(solid(640, 320, red), 640)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if out.Bounds().Dx() != 640 || out.Bounds().Dy() != 640 {
		t.Fatalf("output size = %v, want 640x640", out.Bounds())
	}
	if info.OffsetY != 160 || info.OffsetX != 0 {
		t.Fatalf("offset = (%v,%v), want (0,160)", info.OffsetX, info.OffsetY)
	}

	if got := out.NRGBAAt(10, 10); got != Fill {
		t.Errorf("top border = %v, want fill %v", got, Fill)
	}
	if got := out.NRGBAAt(10, 639); got != Fill {
		t.Errorf("bottom border = %v, want fill %v", got, Fill)
	}
	if got := out.NRGBAAt(320, 320); got != red {
		t.Errorf("content = %v, want %v", got, red)
	}
}

func TestApply_Downscale(t *testing.T) {
	blue := color.NRGBA{R: 10, G: 20, B: 230, A: 255}
	out, info, err := Apply(solid(1280, 960, blue), 640)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if info.ScaledW != 640 || info.ScaledH != 480 {
		t.Fatalf("scaled = %dx%d, want 640x480", info.ScaledW, info.ScaledH)
	}
	c := out.NRGBAAt(320, 320)
	if c.B < 220 || c.R > 20 {
		t.Errorf("content pixel = %v, want near %v", c, blue)
	}
	if got := out.NRGBAAt(320, 20); got != Fill {
		t.Errorf("padding = %v, want fill", got)
	}
}

func TestApply_Reproducible(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 97, 53))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 31)
	}
	a, _, err := Apply(src, 128)
	if err != nil {
		t.Fatal(err)
	}
	b, _, _ := Apply(src, 128)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("Apply is not reproducible for identical input")
	}
}
