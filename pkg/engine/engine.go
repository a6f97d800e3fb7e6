// Package engine defines the opaque inference boundary: a tensor goes in, a
// tensor comes out.
package engine

import (
	"context"
	"errors"

	"github.com/teslashibe/go-detect/pkg/tensor"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("engine: closed")

// Engine runs one forward pass. Implementations must be safe for concurrent
// use and must not alias buffers across calls.
type Engine interface {
	// Run executes the model on a [1,3,S,S] input and returns a [1,N,5+C] output.
	Run(ctx context.Context, in *tensor.Input) (*tensor.Output, error)

	// Close releases resources.
	Close() error
}
