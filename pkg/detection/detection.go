// Package detection turns decoded model output into normalized,
// coordinate-corrected detections and defines the published batch.
package detection

import "time"

// Detection is one labelled box in normalized source-image coordinates.
// Timestamps are Unix milliseconds.
type Detection struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`

	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`

	FrameID     uint64 `json:"frame_id"`
	CaptureTS   int64  `json:"capture_ts"`
	RecvTS      int64  `json:"recv_ts"`
	InferenceTS int64  `json:"inference_ts"`
}

// Width returns the normalized box width.
func (d Detection) Width() float64 { return d.XMax - d.XMin }

// Height returns the normalized box height.
func (d Detection) Height() float64 { return d.YMax - d.YMin }

// Valid reports whether the box lies inside the unit square with positive extent.
func (d Detection) Valid() bool {
	return d.XMin >= 0 && d.YMin >= 0 &&
		d.XMax <= 1 && d.YMax <= 1 &&
		d.XMin < d.XMax && d.YMin < d.YMax
}

// Batch is every detection for one frame. A published batch fully replaces
// the previous one.
type Batch struct {
	FrameID    uint64      `json:"frame_id"`
	Backend    string      `json:"backend"`
	Synthetic  bool        `json:"synthetic"`
	Detections []Detection `json:"detections"`

	// Error carries a failure reported by the remote service for this frame.
	Error string `json:"-"`
}

// Len returns the number of detections.
func (b Batch) Len() int { return len(b.Detections) }

// Response is the JSON body exchanged with the remote detection service.
type Response struct {
	Detections []Detection `json:"detections"`
	// Error is set by the service when a frame could not be processed. The
	// reply still carries an empty detection list.
	Error string `json:"error,omitempty"`
}

// Millis converts t to Unix milliseconds; the zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
