// Package onnx runs detection models through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/teslashibe/go-detect/pkg/engine"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

// Config describes the model and its fixed tensor shapes.
type Config struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the system default

	InputSize int // S in [1,3,S,S]
	Anchors   int // N in [1,N,5+C]
	Classes   int // C in [1,N,5+C]

	InputName  string
	OutputName string

	Threads int // intra-op threads, 0 = NumCPU
}

// DefaultConfig returns shapes for a 640px YOLOv5-style COCO model.
func DefaultConfig() Config {
	return Config{
		ModelPath:  "models/yolov5s.onnx",
		InputSize:  640,
		Anchors:    25200,
		Classes:    80,
		InputName:  "images",
		OutputName: "output0",
	}
}

// envMu guards the process-wide onnxruntime environment.
var envMu sync.Mutex

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}

// Engine is a single AdvancedSession with preallocated tensors. Calls are
// serialised; results are copied out so no buffer outlives its call.
type Engine struct {
	cfg         Config
	mu          sync.Mutex
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	outputShape []int64
	closed      bool
}

var _ engine.Engine = (*Engine)(nil)

// New loads the model. The onnxruntime environment is initialised on first use.
func New(cfg Config) (*Engine, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if cfg.InputSize <= 0 || cfg.Anchors <= 0 || cfg.Classes <= 0 {
		return nil, fmt.Errorf("invalid shape: size=%d anchors=%d classes=%d", cfg.InputSize, cfg.Anchors, cfg.Classes)
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("set threads: %w", err)
	}

	s := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, tensor.Channels, s, s))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	outShape := []int64{1, int64(cfg.Anchors), int64(5 + cfg.Classes)}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Engine{
		cfg:         cfg,
		session:     session,
		input:       input,
		output:      output,
		outputShape: outShape,
	}, nil
}

// Run implements engine.Engine.
func (e *Engine) Run(ctx context.Context, in *tensor.Input) (*tensor.Output, error) {
	if in.Size != e.cfg.InputSize {
		return nil, fmt.Errorf("input size %d, model expects %d", in.Size, e.cfg.InputSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, engine.ErrClosed
	}

	copy(e.input.GetData(), in.Data)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	raw := e.output.GetData()
	data := make([]float32, len(raw))
	copy(data, raw)
	return tensor.NewOutput(data, e.outputShape)
}

// Close destroys the session and its tensors.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.session.Destroy()
	e.input.Destroy()
	e.output.Destroy()
	return err
}
