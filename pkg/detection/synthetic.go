package detection

import "math/rand/v2"

type template struct {
	label        string
	score        float64
	cx, cy       float64
	halfW, halfH float64
}

// Fixed schema for demo output: the same labels every frame, positions and
// scores jittered.
var templates = []template{
	{label: "person", score: 0.86, cx: 0.30, cy: 0.55, halfW: 0.12, halfH: 0.30},
	{label: "cup", score: 0.64, cx: 0.68, cy: 0.70, halfW: 0.05, halfH: 0.07},
	{label: "laptop", score: 0.71, cx: 0.62, cy: 0.48, halfW: 0.16, halfH: 0.10},
}

const (
	jitterPos   = 0.02
	jitterScore = 0.05
)

// SyntheticLen is the number of detections in every synthetic batch.
var SyntheticLen = len(templates)

// Synthesize returns a fixed-shape batch of plausible detections with random
// jitter. Every box is valid. A nil rng uses the global source.
func Synthesize(rng *rand.Rand, frameID uint64, captureTS, now int64) []Detection {
	f := rand.Float64
	if rng != nil {
		f = rng.Float64
	}
	jitter := func(amount float64) float64 { return (f()*2 - 1) * amount }

	dets := make([]Detection, 0, len(templates))
	for _, t := range templates {
		cx := t.cx + jitter(jitterPos)
		cy := t.cy + jitter(jitterPos)
		dets = append(dets, Detection{
			Label:       t.label,
			Score:       clamp01(t.score + jitter(jitterScore)),
			XMin:        clamp01(cx - t.halfW),
			YMin:        clamp01(cy - t.halfH),
			XMax:        clamp01(cx + t.halfW),
			YMax:        clamp01(cy + t.halfH),
			FrameID:     frameID,
			CaptureTS:   captureTS,
			RecvTS:      now,
			InferenceTS: now,
		})
	}
	return dets
}
