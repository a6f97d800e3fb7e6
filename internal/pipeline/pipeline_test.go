package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-detect/internal/config"
	"github.com/teslashibe/go-detect/pkg/backend"
	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/engine"
	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/orchestrator"
	"github.com/teslashibe/go-detect/pkg/source"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

func testConfig(mode string) config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.FPS = 200
	cfg.Source = config.SourceConfig{Kind: config.SourcePattern, Width: 64, Height: 48}
	cfg.Engine.InputSize = 64
	return cfg
}

func waitBatch(t *testing.T, store *orchestrator.Store, ok func(b detection.Batch) bool) detection.Batch {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if b, have := store.Latest(); have && ok(b) {
			return b
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for batch")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewSession_Synthetic(t *testing.T) {
	store := orchestrator.NewStore()
	b := &Builder{Config: testConfig("synthetic"), Store: store}

	sess, err := b.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sess.Stop()

	got := waitBatch(t, store, func(b detection.Batch) bool { return b.Synthetic })
	if got.Backend != backend.NameSynthetic || len(got.Detections) == 0 {
		t.Errorf("batch = %+v", got)
	}
}

func TestNewSession_LocalEngine(t *testing.T) {
	out, err := tensor.NewOutput([]float32{32, 32, 16, 16, 0.9, 0.9}, []int64{1, 1, 6})
	if err != nil {
		t.Fatal(err)
	}
	store := orchestrator.NewStore()
	var opened config.EngineConfig
	b := &Builder{
		Config: testConfig("local"),
		Store:  store,
		OpenEngine: func(cfg config.EngineConfig) (engine.Engine, error) {
			opened = cfg
			return engine.NewMock(out), nil
		},
	}

	sess, err := b.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sess.Stop()

	got := waitBatch(t, store, func(b detection.Batch) bool { return b.Backend == backend.NameLocal })
	if len(got.Detections) != 1 || got.Detections[0].Label != "person" {
		t.Errorf("batch = %+v", got)
	}
	if opened.InputSize != 64 || sess.Orchestrator().State() != orchestrator.LocalReady {
		t.Errorf("engine cfg = %+v state = %v", opened, sess.Orchestrator().State())
	}
}

func TestNewSession_EngineLoadFails(t *testing.T) {
	store := orchestrator.NewStore()
	b := &Builder{
		Config: testConfig("local"),
		Store:  store,
		OpenEngine: func(config.EngineConfig) (engine.Engine, error) {
			return nil, errors.New("model file not found")
		},
	}
	sess, err := b.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sess.Stop()

	waitBatch(t, store, func(b detection.Batch) bool { return b.Synthetic })
	if st := sess.Orchestrator().State(); st != orchestrator.LocalFailed {
		t.Errorf("state = %v, want local_failed", st)
	}
}

func TestLocalFactory_BadLabels(t *testing.T) {
	cfg := testConfig("local")
	cfg.Engine.Labels = filepath.Join(t.TempDir(), "missing.txt")
	b := &Builder{Config: cfg, OpenEngine: func(config.EngineConfig) (engine.Engine, error) {
		t.Error("engine opened despite bad labels")
		return nil, nil
	}}
	if _, err := b.LocalFactory()(context.Background()); !errors.Is(err, backend.ErrBackendInit) {
		t.Errorf("err = %v, want ErrBackendInit", err)
	}
}

func TestBackends_Remote(t *testing.T) {
	cfg := testConfig("remote")
	cfg.Remote.Endpoint = "https://detect.example"
	b := &Builder{Config: cfg}

	set, err := b.Backends(orchestrator.ModeRemote)
	if err != nil {
		t.Fatal(err)
	}
	stream, ok := set.Stream.(*backend.Stream)
	if !ok || stream.URL() != "wss://detect.example/ws/detect" {
		t.Errorf("stream = %#v", set.Stream)
	}
	if set.OneShot == nil || set.Synthetic == nil || set.Local != nil {
		t.Errorf("backends = %+v", set)
	}

	cfg.Remote.Endpoint = "ftp://detect.example"
	b.Config = cfg
	if _, err := b.Backends(orchestrator.ModeRemote); err == nil {
		t.Error("ftp endpoint should fail")
	}
}

type fakeCamera struct{}

func (fakeCamera) Capture(context.Context) (image.Image, error) { return nil, nil }
func (fakeCamera) Close() error { return nil }

func TestSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := os.Create(filepath.Join(dir, "empty.txt")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		sc      config.SourceConfig
		camera  bool
		wantErr bool
		check   func(frame.Source) bool
	}{
		{"pattern", config.SourceConfig{Kind: "pattern"}, false, false, func(s frame.Source) bool { _, ok := s.(*source.Pattern); return ok }},
		{"directory without images", config.SourceConfig{Kind: "directory", Dir: dir}, false, true, nil},
		{"camera unavailable", config.SourceConfig{Kind: "camera"}, false, true, nil},
		{"camera", config.SourceConfig{Kind: "camera"}, true, false, func(s frame.Source) bool { _, ok := s.(fakeCamera); return ok }},
		{"unknown", config.SourceConfig{Kind: "rtsp"}, false, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Source = tt.sc
			b := &Builder{Config: cfg}
			if tt.camera {
				b.OpenCamera = func(config.SourceConfig) (frame.Source, error) { return fakeCamera{}, nil }
			}
			src, err := b.Source()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !tt.check(src) {
				t.Errorf("source = %T", src)
			}
		})
	}
}
