// Package config loads go-detect configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-detect/pkg/orchestrator"
)

// Engine kinds.
const (
	EngineONNX   = "onnx"
	EngineOpenCV = "opencv"
)

// Source kinds.
const (
	SourcePattern   = "pattern"
	SourceDirectory = "directory"
	SourceCamera    = "camera"
)

// Config is the complete pipeline configuration.
type Config struct {
	Mode            string        `yaml:"mode"`             // local, remote, synthetic
	Confidence      float64       `yaml:"confidence"`       // extractor floor
	FPS             float64       `yaml:"fps"`              // capture rate
	DropStale       bool          `yaml:"drop_stale"`       // ignore batches older than the newest published
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"` // per-frame backend deadline

	Engine EngineConfig `yaml:"engine"`
	Remote RemoteConfig `yaml:"remote"`
	Source SourceConfig `yaml:"source"`
	Web    WebConfig    `yaml:"web"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// EngineConfig selects and sizes the on-device model.
type EngineConfig struct {
	Kind        string `yaml:"kind"`         // onnx or opencv
	Model       string `yaml:"model"`        // model file path
	LibraryPath string `yaml:"library_path"` // onnxruntime shared library
	InputSize   int    `yaml:"input_size"`   // S for [1,3,S,S]
	Anchors     int    `yaml:"anchors"`      // N in [1,N,5+C]
	Classes     int    `yaml:"classes"`      // C in [1,N,5+C]
	Labels      string `yaml:"labels"`       // optional label file, one per line
	Threads     int    `yaml:"threads"`
}

// RemoteConfig points at the remote detection service.
type RemoteConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	JPEGQuality int           `yaml:"jpeg_quality"`
}

// SourceConfig selects where frames come from.
type SourceConfig struct {
	Kind      string `yaml:"kind"` // pattern, directory, camera
	Dir       string `yaml:"dir"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Device    int    `yaml:"device"`
	Framerate int    `yaml:"framerate"`
}

// WebConfig is the dashboard and API listener.
type WebConfig struct {
	Addr            string        `yaml:"addr"`
	StaticDir       string        `yaml:"static_dir"`
	MonitorInterval time.Duration `yaml:"monitor_interval"` // process gauge refresh
}

// ServerConfig is the remote detection service listener.
type ServerConfig struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:            string(orchestrator.ModeLocal),
		Confidence:      0.25,
		FPS:             10,
		DispatchTimeout: 5 * time.Second,
		Engine: EngineConfig{
			Kind:      EngineONNX,
			Model:     "models/yolov5s.onnx",
			InputSize: 640,
			Anchors:   25200,
			Classes:   80,
		},
		Remote: RemoteConfig{
			Timeout:     5 * time.Second,
			JPEGQuality: 80,
		},
		Source: SourceConfig{
			Kind:      SourcePattern,
			Width:     1280,
			Height:    720,
			Framerate: 30,
		},
		Web: WebConfig{
			Addr:            ":8080",
			MonitorInterval: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr:    ":9090",
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() error {
	var err error
	if v, ok := lookup("DETECT_MODE"); ok {
		c.Mode = v
	}
	if v, ok := lookup("DETECT_ENDPOINT"); ok {
		c.Remote.Endpoint = v
	}
	if v, ok := lookup("DETECT_CONFIDENCE"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("DETECT_CONFIDENCE: %w", perr))
		} else {
			c.Confidence = f
		}
	}
	if v, ok := lookup("DETECT_INPUT_SIZE"); ok {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("DETECT_INPUT_SIZE: %w", perr))
		} else {
			c.Engine.InputSize = n
		}
	}
	if v, ok := lookup("DETECT_FPS"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("DETECT_FPS: %w", perr))
		} else {
			c.FPS = f
		}
	}
	if v, ok := lookup("DETECT_MODEL"); ok {
		c.Engine.Model = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	return err
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	mode, merr := orchestrator.ParseMode(c.Mode)
	if merr != nil {
		err = multierr.Append(err, merr)
	}
	if c.Confidence <= 0 || c.Confidence > 1 {
		err = multierr.Append(err, fmt.Errorf("confidence must be in (0,1], got %v", c.Confidence))
	}
	if c.FPS <= 0 {
		err = multierr.Append(err, fmt.Errorf("fps must be positive, got %v", c.FPS))
	}
	if c.Engine.InputSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("engine.input_size must be positive, got %d", c.Engine.InputSize))
	}
	if mode == orchestrator.ModeLocal {
		if c.Engine.Kind != EngineONNX && c.Engine.Kind != EngineOpenCV {
			err = multierr.Append(err, fmt.Errorf("engine.kind must be 'onnx' or 'opencv', got '%s'", c.Engine.Kind))
		}
		if c.Engine.Model == "" {
			err = multierr.Append(err, errors.New("engine.model is required in local mode"))
		}
	}
	if mode == orchestrator.ModeRemote && c.Remote.Endpoint == "" {
		err = multierr.Append(err, errors.New("remote.endpoint is required in remote mode"))
	}
	switch c.Source.Kind {
	case SourcePattern, SourceCamera:
	case SourceDirectory:
		if c.Source.Dir == "" {
			err = multierr.Append(err, errors.New("source.dir is required for a directory source"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("source.kind must be pattern, directory or camera, got '%s'", c.Source.Kind))
	}
	return err
}
