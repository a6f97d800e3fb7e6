// Package native opens the cgo-backed pieces of the pipeline: the onnxruntime
// and OpenCV engines and the OpenCV camera.
package native

import (
	"fmt"

	"github.com/teslashibe/go-detect/internal/config"
	"github.com/teslashibe/go-detect/pkg/engine"
	"github.com/teslashibe/go-detect/pkg/engine/onnx"
	"github.com/teslashibe/go-detect/pkg/engine/opencv"
	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/source/camera"
)

// OpenEngine loads the engine named by cfg.Kind.
func OpenEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Kind {
	case config.EngineONNX, "":
		oc := onnx.DefaultConfig()
		oc.ModelPath = cfg.Model
		oc.LibraryPath = cfg.LibraryPath
		oc.Threads = cfg.Threads
		if cfg.InputSize > 0 {
			oc.InputSize = cfg.InputSize
		}
		if cfg.Anchors > 0 {
			oc.Anchors = cfg.Anchors
		}
		if cfg.Classes > 0 {
			oc.Classes = cfg.Classes
		}
		eng, err := onnx.New(oc)
		if err != nil {
			return nil, err
		}
		return eng, nil
	case config.EngineOpenCV:
		cc := opencv.DefaultConfig()
		cc.ModelPath = cfg.Model
		if cfg.InputSize > 0 {
			cc.InputSize = cfg.InputSize
		}
		eng, err := opencv.New(cc)
		if err != nil {
			return nil, err
		}
		return eng, nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// OpenCamera opens the capture device described by cfg.
func OpenCamera(cfg config.SourceConfig) (frame.Source, error) {
	cc := camera.DefaultConfig()
	cc.Device = cfg.Device
	if cfg.Width > 0 && cfg.Height > 0 {
		cc.Width, cc.Height = cfg.Width, cfg.Height
	}
	if cfg.Framerate > 0 {
		cc.Framerate = cfg.Framerate
	}
	cam, err := camera.Open(cc)
	if err != nil {
		return nil, err
	}
	return cam, nil
}
