package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/engine"
	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/letterbox"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

// Local runs the full on-device path: letterbox, encode, engine, extract.
type Local struct {
	engine    engine.Engine
	extractor *detection.Extractor
	inputSize int
	now       func() time.Time
	logger    *slog.Logger
}

var _ Detector = (*Local)(nil)

// NewLocal wraps an engine. inputSize is S for the [1,3,S,S] input.
func NewLocal(eng engine.Engine, ex *detection.Extractor, inputSize int) *Local {
	if inputSize <= 0 {
		inputSize = letterbox.DefaultSize
	}
	if ex == nil {
		ex = detection.NewExtractor(detection.DefaultFloor, detection.COCO)
	}
	return &Local{
		engine:    eng,
		extractor: ex,
		inputSize: inputSize,
		now:       time.Now,
		logger:    slog.Default().With("component", "backend.local"),
	}
}

// NewLocalFrom builds the engine with open and wraps it. Open failures are
// reported as ErrBackendInit.
func NewLocalFrom(open func() (engine.Engine, error), ex *detection.Extractor, inputSize int) (*Local, error) {
	eng, err := open()
	if err != nil {
		return nil, WrapError(NameLocal, fmt.Errorf("%w: %w", ErrBackendInit, err))
	}
	return NewLocal(eng, ex, inputSize), nil
}

// Name implements Detector.
func (l *Local) Name() string { return NameLocal }

// InputSize returns S.
func (l *Local) InputSize() int { return l.inputSize }

// Detect implements Detector. Zero-area frames return letterbox.ErrInvalidFrame,
// malformed output returns tensor.ErrDecode and engine failures ErrBackendCall.
func (l *Local) Detect(ctx context.Context, f *frame.Frame) ([]detection.Detection, error) {
	w, h := f.Size()
	boxed, info, err := letterbox.Apply(f.Image, l.inputSize)
	if err != nil {
		return nil, err
	}
	in, err := tensor.Encode(boxed)
	if err != nil {
		return nil, err
	}

	out, err := l.engine.Run(ctx, in)
	if err != nil {
		if errors.Is(err, tensor.ErrDecode) {
			return nil, WrapError(NameLocal, err)
		}
		return nil, WrapError(NameLocal, fmt.Errorf("%w: %w", ErrBackendCall, err))
	}

	meta := detection.Meta{
		FrameID:   f.ID,
		CaptureTS: detection.Millis(f.CapturedAt),
		RecvTS:    detection.Millis(l.now()),
	}
	dets, err := l.extractor.Extract(out, info, w, h, meta)
	if err != nil {
		return nil, WrapError(NameLocal, err)
	}

	l.logger.Debug("local inference complete",
		"frame_id", f.ID,
		"detections", len(dets),
	)
	return dets, nil
}

// Close releases the engine.
func (l *Local) Close() error {
	return l.engine.Close()
}
