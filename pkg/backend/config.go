package backend

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-detect/pkg/frame"
)

// Config holds remote backend configuration.
type Config struct {
	// Endpoint is the detection service base address, e.g. "http://host:8090".
	Endpoint string

	// Timeouts
	Timeout          time.Duration // one-shot request
	HandshakeTimeout time.Duration // streaming open
	WriteTimeout     time.Duration // streaming send

	// JPEGQuality for uploaded frames.
	JPEGQuality int

	// ResultBuffer is the capacity of the streaming results channel.
	ResultBuffer int

	// Observability
	Logger *slog.Logger

	// Now stamps recv_ts; defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     2 * time.Second,
		JPEGQuality:      frame.DefaultJPEGQuality,
		ResultBuffer:     16,
	}
}

// Option is a functional option for configuring remote backends.
type Option func(*Config)

// WithTimeout sets the one-shot request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHandshakeTimeout sets the streaming handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithWriteTimeout sets the per-frame streaming write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.WriteTimeout = d }
}

// WithJPEGQuality sets the upload quality.
func WithJPEGQuality(q int) Option {
	return func(c *Config) { c.JPEGQuality = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock sets the time source used for recv_ts.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

func newConfig(endpoint string, opts []Option) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 1
	}
	return cfg
}
