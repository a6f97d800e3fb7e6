// Package pipeline assembles sessions (source, backends, orchestrator and
// scheduler) from configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-detect/internal/config"
	"github.com/teslashibe/go-detect/pkg/backend"
	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/engine"
	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/metrics"
	"github.com/teslashibe/go-detect/pkg/orchestrator"
	"github.com/teslashibe/go-detect/pkg/scheduler"
	"github.com/teslashibe/go-detect/pkg/source"
)

// Builder creates sessions from a validated configuration.
type Builder struct {
	Config  config.Config
	Store   *orchestrator.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// OpenEngine loads the local model. Required for local mode.
	OpenEngine func(config.EngineConfig) (engine.Engine, error)

	// OpenCamera opens a capture device. Required for camera sources.
	OpenCamera func(config.SourceConfig) (frame.Source, error)
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Extractor builds the detection extractor, loading the label file if one
// is configured.
func (b *Builder) Extractor() (*detection.Extractor, error) {
	labels := detection.COCO
	if path := b.Config.Engine.Labels; path != "" {
		l, err := detection.LoadLabels(path)
		if err != nil {
			return nil, err
		}
		labels = l
	}
	return detection.NewExtractor(b.Config.Confidence, labels), nil
}

// LocalFactory returns the deferred local backend constructor. Engine load
// failures surface as backend.ErrBackendInit when the session starts.
func (b *Builder) LocalFactory() orchestrator.LocalFactory {
	cfg := b.Config.Engine
	return func(ctx context.Context) (backend.Detector, error) {
		if b.OpenEngine == nil {
			return nil, fmt.Errorf("%w: no engine loader configured", backend.ErrBackendInit)
		}
		ex, err := b.Extractor()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", backend.ErrBackendInit, err)
		}
		local, err := backend.NewLocalFrom(func() (engine.Engine, error) {
			return b.OpenEngine(cfg)
		}, ex, cfg.InputSize)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

// Backends builds a fresh backend set for mode. Streams cannot be reopened
// once closed, so every session gets its own.
func (b *Builder) Backends(mode orchestrator.Mode) (orchestrator.Backends, error) {
	var set orchestrator.Backends
	switch mode {
	case orchestrator.ModeLocal:
		set.Local = b.LocalFactory()
	case orchestrator.ModeRemote:
		opts := []backend.Option{
			backend.WithTimeout(b.Config.Remote.Timeout),
			backend.WithJPEGQuality(b.Config.Remote.JPEGQuality),
			backend.WithLogger(b.logger()),
		}
		stream, err := backend.NewStream(b.Config.Remote.Endpoint, opts...)
		if err != nil {
			return set, err
		}
		set.Stream = stream
		set.OneShot = backend.NewOneShot(b.Config.Remote.Endpoint, opts...)
	case orchestrator.ModeSynthetic:
	default:
		return set, fmt.Errorf("unknown mode %q", mode)
	}
	set.Synthetic = backend.NewSynthetic(nil)
	return set, nil
}

// Source opens the configured frame source.
func (b *Builder) Source() (frame.Source, error) {
	sc := b.Config.Source
	switch sc.Kind {
	case config.SourcePattern, "":
		return source.NewPattern(sc.Width, sc.Height), nil
	case config.SourceDirectory:
		dir, err := source.NewDirectory(sc.Dir)
		if err != nil {
			return nil, err
		}
		return dir, nil
	case config.SourceCamera:
		if b.OpenCamera == nil {
			return nil, errors.New("camera source not available in this build")
		}
		return b.OpenCamera(sc)
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}

// NewSession builds an unstarted session. It satisfies web.SessionFactory.
func (b *Builder) NewSession(ctx context.Context) (*scheduler.Scheduler, error) {
	mode, err := orchestrator.ParseMode(b.Config.Mode)
	if err != nil {
		return nil, err
	}
	backends, err := b.Backends(mode)
	if err != nil {
		return nil, err
	}
	src, err := b.Source()
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Config{
		Mode:            mode,
		DispatchTimeout: b.Config.DispatchTimeout,
		Logger:          b.logger(),
		Metrics:         b.Metrics,
	}, backends, b.Store)

	return scheduler.New(scheduler.Config{
		Interval: scheduler.IntervalFor(b.Config.FPS),
		Logger:   b.logger(),
		Metrics:  b.Metrics,
	}, src, orch, nil), nil
}
