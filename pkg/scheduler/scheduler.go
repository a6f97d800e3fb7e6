// Package scheduler samples frames at a fixed rate and hands each one to the
// orchestrator without waiting for inference to finish.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/metrics"
	"github.com/teslashibe/go-detect/pkg/orchestrator"
)

// Default cadences.
const (
	DefaultRate = 10.0 // Hz, local and remote modes
	HeavyRate   = 2.0  // Hz, heavier local engines
)

// ErrRunning is returned by Start on a scheduler that was already started.
var ErrRunning = errors.New("scheduler: already started")

// IntervalFor converts a rate in Hz to a tick interval. Non-positive rates
// select DefaultRate.
func IntervalFor(hz float64) time.Duration {
	if hz <= 0 {
		hz = DefaultRate
	}
	return time.Duration(float64(time.Second) / hz)
}

// Config holds scheduler configuration.
type Config struct {
	// Interval between captures.
	Interval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	SessionID     string    `json:"session_id"`
	Running       bool      `json:"running"`
	StartedAt     time.Time `json:"started_at"`
	Frames        uint64    `json:"frames"`
	CaptureErrors uint64    `json:"capture_errors"`
}

// Scheduler owns one capture session.
type Scheduler struct {
	cfg    Config
	source frame.Source
	orch   *orchestrator.Orchestrator
	clock  clock.Clock
	logger *slog.Logger

	// lifecycle serializes Start and Stop. mu only guards the fields below,
	// so readers never wait on a remote handshake.
	lifecycle sync.Mutex

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	running   bool
	started   bool
	cancel    context.CancelFunc
	ticker    *clock.Ticker
	done      chan struct{}

	nextID        atomic.Uint64
	frames        atomic.Uint64
	captureErrors atomic.Uint64

	dispatches sync.WaitGroup
}

// New creates a stopped scheduler. A nil clk uses the wall clock.
func New(cfg Config, src frame.Source, orch *orchestrator.Orchestrator, clk clock.Clock) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = IntervalFor(DefaultRate)
	}
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		source: src,
		orch:   orch,
		clock:  clk,
		logger: logger.With("component", "scheduler"),
	}
}

// Start starts the orchestrator (opening the stream in remote mode), arms
// the ticker and begins sampling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return ErrRunning
	}
	if err := s.orch.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.running = true
	s.sessionID = uuid.NewString()
	s.startedAt = s.clock.Now()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.ticker = s.clock.Ticker(s.cfg.Interval)
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.ticker, s.done)

	s.logger.Info("session started",
		"session_id", s.sessionID,
		"mode", string(s.orch.Mode()),
		"interval", s.cfg.Interval,
		"state", s.orch.State().String(),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle captures one frame and dispatches it in the background. The next
// tick proceeds whether or not this dispatch has finished.
func (s *Scheduler) cycle(ctx context.Context) {
	img, err := s.source.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.captureErrors.Add(1)
		s.cfg.Metrics.CaptureFailed()
		s.logger.Warn("capture failed, skipping cycle", "error", err)
		return
	}

	f := &frame.Frame{
		ID:         s.nextID.Add(1),
		Image:      img,
		CapturedAt: s.clock.Now(),
	}
	s.frames.Add(1)
	s.cfg.Metrics.FrameCaptured()

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		s.orch.Dispatch(ctx, f)
	}()
}

// Stop disarms the ticker, stops the orchestrator (clearing published
// detections before it returns) and closes the source. Safe to call more
// than once.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.ticker.Stop()
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	err := s.orch.Stop()
	s.dispatches.Wait()
	err = multierr.Append(err, s.source.Close())

	s.logger.Info("session stopped",
		"session_id", s.SessionID(),
		"frames", s.frames.Load(),
		"capture_errors", s.captureErrors.Load(),
	)
	return err
}

// SessionID returns the id of the current or last session.
func (s *Scheduler) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Orchestrator returns the session orchestrator.
func (s *Scheduler) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Stats returns a snapshot of counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SessionID:     s.sessionID,
		Running:       s.running,
		StartedAt:     s.startedAt,
		Frames:        s.frames.Load(),
		CaptureErrors: s.captureErrors.Load(),
	}
}
