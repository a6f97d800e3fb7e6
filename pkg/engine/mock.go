package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-detect/pkg/tensor"
)

// Mock implements Engine for testing.
type Mock struct {
	// RunFunc is called when Run is invoked.
	RunFunc func(ctx context.Context, in *tensor.Input) (*tensor.Output, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	calls  atomic.Int64
	closed atomic.Bool
	mu     sync.Mutex
	last   *tensor.Input
}

// NewMock returns a mock whose Run yields out for every call.
func NewMock(out *tensor.Output) *Mock {
	return &Mock{
		RunFunc: func(ctx context.Context, in *tensor.Input) (*tensor.Output, error) {
			return out, nil
		},
	}
}

// Run implements Engine.
func (m *Mock) Run(ctx context.Context, in *tensor.Input) (*tensor.Output, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.calls.Add(1)
	m.mu.Lock()
	m.last = in
	m.mu.Unlock()

	if m.RunFunc == nil {
		return tensor.NewOutput(nil, []int64{1, 0, 85})
	}
	return m.RunFunc(ctx, in)
}

// Close implements Engine.
func (m *Mock) Close() error {
	m.closed.Store(true)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns how many times Run was invoked.
func (m *Mock) Calls() int { return int(m.calls.Load()) }

// Closed reports whether Close was called.
func (m *Mock) Closed() bool { return m.closed.Load() }

// LastInput returns the input of the most recent Run call.
func (m *Mock) LastInput() *tensor.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
