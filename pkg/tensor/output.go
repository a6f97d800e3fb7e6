package tensor

import "fmt"

// Field offsets within one anchor row.
const (
	fieldCX = iota
	fieldCY
	fieldW
	fieldH
	fieldObjectness
	fieldClasses // first class score
)

// Output is a read-only view over a [1, N, 5+C] detector output.
// Box fields are centre-size in model-input pixels.
type Output struct {
	data    []float32
	anchors int
	stride  int
}

// NewOutput validates shape against data and wraps it without copying.
func NewOutput(data []float32, shape []int64) (*Output, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: want rank 3 [1,N,5+C], got shape %v", ErrDecode, shape)
	}
	if shape[0] != 1 {
		return nil, fmt.Errorf("%w: batch dimension %d, want 1", ErrDecode, shape[0])
	}
	if shape[1] < 0 || shape[2] <= fieldClasses {
		return nil, fmt.Errorf("%w: shape %v has no class scores", ErrDecode, shape)
	}
	n, stride := int(shape[1]), int(shape[2])
	if len(data) != n*stride {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrDecode, len(data), shape)
	}
	return &Output{data: data, anchors: n, stride: stride}, nil
}

// Anchors returns N.
func (o *Output) Anchors() int { return o.anchors }

// Classes returns C.
func (o *Output) Classes() int { return o.stride - fieldClasses }

// Shape returns [1, N, 5+C].
func (o *Output) Shape() []int64 {
	return []int64{1, int64(o.anchors), int64(o.stride)}
}

// Box returns the centre-size box of anchor i.
func (o *Output) Box(i int) (cx, cy, w, h float32) {
	row := o.data[i*o.stride : i*o.stride+fieldObjectness]
	return row[fieldCX], row[fieldCY], row[fieldW], row[fieldH]
}

// Objectness returns the object probability of anchor i.
func (o *Output) Objectness(i int) float32 {
	return o.data[i*o.stride+fieldObjectness]
}

// ClassScore returns class j's score for anchor i.
func (o *Output) ClassScore(i, j int) float32 {
	return o.data[i*o.stride+fieldClasses+j]
}

// ClassScores returns anchor i's class scores as a slice sharing the
// underlying buffer. Callers must not modify it.
func (o *Output) ClassScores(i int) []float32 {
	start := i*o.stride + fieldClasses
	return o.data[start : start+o.Classes() : start+o.Classes()]
}
