package detection

import (
	"time"

	"github.com/teslashibe/go-detect/pkg/letterbox"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

// DefaultFloor is the default confidence floor.
const DefaultFloor = 0.25

// Meta carries the timing known before decoding starts.
type Meta struct {
	FrameID   uint64
	CaptureTS int64 // Unix ms, set at frame acquisition
	RecvTS    int64 // Unix ms, set when the backend result arrived
}

// Extractor filters and corrects raw anchors into detections.
type Extractor struct {
	// Floor applies to both objectness and final confidence.
	Floor  float64
	Labels Labels

	// Now stamps InferenceTS. Defaults to time.Now.
	Now func() time.Time
}

// NewExtractor returns an extractor with the given floor and labels.
// A non-positive floor selects DefaultFloor; nil labels select COCO.
func NewExtractor(floor float64, labels Labels) *Extractor {
	if floor <= 0 {
		floor = DefaultFloor
	}
	if labels == nil {
		labels = COCO
	}
	return &Extractor{Floor: floor, Labels: labels}
}

// Extract decodes every anchor of out in index order. srcW and srcH are the
// original frame size used for normalization. Overlapping boxes are kept.
//
// A class index outside the label table fails the whole frame with
// tensor.ErrDecode.
func (e *Extractor) Extract(out *tensor.Output, info letterbox.Info, srcW, srcH int, meta Meta) ([]Detection, error) {
	if srcW <= 0 || srcH <= 0 {
		return nil, letterbox.ErrInvalidFrame
	}
	floor := e.Floor
	sw, sh := float64(srcW), float64(srcH)

	var dets []Detection
	for i := 0; i < out.Anchors(); i++ {
		obj := float64(out.Objectness(i))
		if !(obj >= floor) {
			continue
		}

		cls, best := argmax(out.ClassScores(i))
		conf := obj * float64(best)
		if !(conf >= floor) {
			continue
		}

		cx, cy, w, h := out.Box(i)
		x1, y1 := info.ToSource(float64(cx-w/2), float64(cy-h/2))
		x2, y2 := info.ToSource(float64(cx+w/2), float64(cy+h/2))

		d := Detection{
			Score:     clamp01(conf),
			XMin:      clamp01(x1 / sw),
			YMin:      clamp01(y1 / sh),
			XMax:      clamp01(x2 / sw),
			YMax:      clamp01(y2 / sh),
			FrameID:   meta.FrameID,
			CaptureTS: meta.CaptureTS,
			RecvTS:    meta.RecvTS,
		}
		if !(d.XMax > d.XMin) || !(d.YMax > d.YMin) {
			continue
		}

		label, err := e.Labels.Lookup(cls)
		if err != nil {
			return nil, err
		}
		d.Label = label
		dets = append(dets, d)
	}

	done := Millis(e.now())
	for i := range dets {
		dets[i].InferenceTS = done
	}
	return dets, nil
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// argmax returns the index and value of the largest score. Ties keep the
// lowest index.
func argmax(scores []float32) (int, float32) {
	idx, best := 0, scores[0]
	for j := 1; j < len(scores); j++ {
		if scores[j] > best {
			idx, best = j, scores[j]
		}
	}
	return idx, best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
