// Package opencv runs ONNX detection models through the OpenCV DNN module.
package opencv

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-detect/pkg/engine"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

// Config holds engine configuration.
type Config struct {
	ModelPath string
	InputSize int
	Backend   gocv.NetBackendType
	Target    gocv.NetTargetType
}

// DefaultConfig returns CPU defaults for a 640px model.
func DefaultConfig() Config {
	return Config{
		ModelPath: "models/yolov5s.onnx",
		InputSize: 640,
		Backend:   gocv.NetBackendDefault,
		Target:    gocv.NetTargetCPU,
	}
}

// Engine wraps a gocv.Net. OpenCV nets are not reentrant, so calls are serialised.
type Engine struct {
	cfg    Config
	mu     sync.Mutex
	net    gocv.Net
	closed bool
}

var _ engine.Engine = (*Engine)(nil)

// New loads the ONNX model into an OpenCV net.
func New(cfg Config) (*Engine, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(cfg.Backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(cfg.Target); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	return &Engine{cfg: cfg, net: net}, nil
}

// Run implements engine.Engine. The planar tensor is copied into an NCHW
// blob, and the [1,N,5+C] result is copied out before the Mat is released.
func (e *Engine) Run(ctx context.Context, in *tensor.Input) (*tensor.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrClosed
	}

	blob := gocv.NewMatWithSizes([]int{1, tensor.Channels, in.Size, in.Size}, gocv.MatTypeCV32F)
	defer blob.Close()

	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("blob data: %w", err)
	}
	copy(dst, in.Data)

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("%w: output rank %d", tensor.ErrDecode, len(dims))
	}
	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("output data: %w", err)
	}
	data := make([]float32, len(raw))
	copy(data, raw)

	return tensor.NewOutput(data, []int64{int64(dims[0]), int64(dims[1]), int64(dims[2])})
}

// Close releases the net.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.net.Close()
}
