package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/teslashibe/go-detect/internal/httpc"
	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/frame"
)

// DetectPath is the one-shot endpoint relative to the service base address.
const DetectPath = "/detect"

// OneShot posts a single JPEG frame and waits for the JSON reply.
type OneShot struct {
	cfg    Config
	client *resty.Client
}

var _ Detector = (*OneShot)(nil)

// NewOneShot creates a one-shot client for the service at endpoint.
func NewOneShot(endpoint string, opts ...Option) *OneShot {
	cfg := newConfig(endpoint, opts)
	cfg.Logger = cfg.Logger.With("component", "backend.oneshot")
	return &OneShot{
		cfg:    cfg,
		client: httpc.NewResty(endpoint, cfg.Timeout),
	}
}

// Name implements Detector.
func (o *OneShot) Name() string { return NameOneShot }

// Detect implements Detector. Any transport failure or non-2xx status is
// reported as ErrBackendCall.
func (o *OneShot) Detect(ctx context.Context, f *frame.Frame) ([]detection.Detection, error) {
	jpeg, err := f.JPEG(o.cfg.JPEGQuality)
	if err != nil {
		return nil, WrapError(NameOneShot, fmt.Errorf("%w: %w", ErrBackendCall, err))
	}

	captureTS := detection.Millis(f.CapturedAt)
	resp, err := o.client.R().
		SetContext(ctx).
		SetFileReader("frame", fmt.Sprintf("frame-%d.jpg", f.ID), bytes.NewReader(jpeg)).
		SetFormData(map[string]string{
			"ts":       strconv.FormatInt(captureTS, 10),
			"frame_id": strconv.FormatUint(f.ID, 10),
		}).
		Post(DetectPath)
	if err != nil {
		return nil, WrapError(NameOneShot, fmt.Errorf("%w: %w", ErrBackendCall, err))
	}
	if !resp.IsSuccess() {
		return nil, &APIError{
			StatusCode: resp.StatusCode(),
			Message:    truncate(resp.String(), 200),
			Backend:    NameOneShot,
		}
	}

	var body detection.Response
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, WrapError(NameOneShot, fmt.Errorf("%w: decode response: %w", ErrBackendCall, err))
	}

	recv := detection.Millis(o.cfg.Now())
	stamp(body.Detections, f.ID, captureTS, recv)
	return body.Detections, nil
}

// Close releases idle connections.
func (o *OneShot) Close() error {
	o.client.GetClient().CloseIdleConnections()
	return nil
}

// stamp fills timing fields the service left unset.
func stamp(dets []detection.Detection, frameID uint64, captureTS, recvTS int64) {
	for i := range dets {
		d := &dets[i]
		if d.FrameID == 0 {
			d.FrameID = frameID
		}
		if d.CaptureTS == 0 {
			d.CaptureTS = captureTS
		}
		if d.RecvTS == 0 {
			d.RecvTS = recvTS
		}
	}
}
