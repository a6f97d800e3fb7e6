package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Confidence != 0.25 || cfg.Engine.InputSize != 640 || cfg.FPS != 10 || cfg.DropStale {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detect.yaml")
	data := `
mode: remote
confidence: 0.4
drop_stale: true
dispatch_timeout: 2s
remote:
  endpoint: http://gpu-box:9090
source:
  kind: directory
  dir: /frames
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Mode != "remote" || cfg.Confidence != 0.4 || !cfg.DropStale || cfg.DispatchTimeout != 2*time.Second {
		t.Errorf("loaded = %+v", cfg)
	}
	if cfg.Remote.Endpoint != "http://gpu-box:9090" || cfg.Source.Dir != "/frames" {
		t.Errorf("nested fields = %+v %+v", cfg.Remote, cfg.Source)
	}
	// Untouched keys keep their defaults.
	if cfg.Engine.InputSize != 640 || cfg.Remote.JPEGQuality != 80 {
		t.Errorf("defaults lost: %+v", cfg.Engine)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if cfg, err := Load(""); err != nil || cfg.Mode != "local" {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("mode: [unterminated"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("bad yaml should fail")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DETECT_MODE", "synthetic")
	t.Setenv("DETECT_ENDPOINT", "https://detect.example")
	t.Setenv("DETECT_CONFIDENCE", "0.5")
	t.Setenv("DETECT_INPUT_SIZE", "320")
	t.Setenv("DETECT_FPS", "2")
	t.Setenv("DETECT_MODEL", "/models/tiny.onnx")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "synthetic" || cfg.Remote.Endpoint != "https://detect.example" || cfg.Confidence != 0.5 ||
		cfg.Engine.InputSize != 320 || cfg.FPS != 2 || cfg.Engine.Model != "/models/tiny.onnx" || cfg.Log.Level != "debug" {
		t.Errorf("after env = %+v", cfg)
	}
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	t.Setenv("DETECT_CONFIDENCE", "high")
	t.Setenv("DETECT_FPS", "fast")

	cfg := Default()
	err := cfg.ApplyEnv()
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("errors = %v, want 2", err)
	}
	if cfg.Confidence != 0.25 || cfg.FPS != 10 {
		t.Error("invalid values were applied")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "gpu" }, "mode"},
		{"confidence", func(c *Config) { c.Confidence = 0 }, "confidence"},
		{"fps", func(c *Config) { c.FPS = -1 }, "fps"},
		{"engine kind", func(c *Config) { c.Engine.Kind = "tflite" }, "engine.kind"},
		{"model", func(c *Config) { c.Engine.Model = "" }, "engine.model"},
		{"endpoint", func(c *Config) { c.Mode = "remote" }, "remote.endpoint"},
		{"source", func(c *Config) { c.Source.Kind = "rtsp" }, "source.kind"},
		{"source dir", func(c *Config) { c.Source.Kind = SourceDirectory }, "source.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	// Model is only required for the local engine.
	cfg := Default()
	cfg.Mode = "synthetic"
	cfg.Engine.Model = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("synthetic without model = %v", err)
	}
}
