// Package backend provides the detection strategies the orchestrator
// switches between: on-device inference, a remote streaming channel, a
// one-shot remote request and synthetic output.
package backend

import (
	"context"

	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/frame"
)

// Backend names reported in batches, logs and metrics.
const (
	NameLocal     = "local"
	NameStream    = "remote-stream"
	NameOneShot   = "remote-oneshot"
	NameSynthetic = "synthetic"
)

// Detector produces a detection batch for one frame and returns when it is ready.
type Detector interface {
	// Name identifies the backend.
	Name() string

	// Detect runs one frame to completion.
	Detect(ctx context.Context, f *frame.Frame) ([]detection.Detection, error)

	// Close releases resources.
	Close() error
}

// Streamer submits frames without waiting; replies arrive on Results in
// whatever order the service produces them.
type Streamer interface {
	// Open performs the handshake.
	Open(ctx context.Context) error

	// Send submits a frame and returns once it is written.
	Send(ctx context.Context, f *frame.Frame) error

	// Results delivers reply batches. It is closed when the channel ends.
	Results() <-chan detection.Batch

	// Done is closed when the channel disconnects or is closed.
	Done() <-chan struct{}

	// Close tears down the channel. A closed Streamer never reopens.
	Close() error
}
