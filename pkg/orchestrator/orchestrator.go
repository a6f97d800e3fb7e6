// Package orchestrator selects the detection backend for a session and
// applies per-frame fallback so the capture loop never stalls on a backend
// failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-detect/pkg/backend"
	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/letterbox"
	"github.com/teslashibe/go-detect/pkg/metrics"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

// Lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("orchestrator: already started")
	ErrStopped        = errors.New("orchestrator: stopped")
)

// Fallback reasons recorded in metrics and logs.
const (
	reasonLocalFailed  = "local_unavailable"
	reasonLocalError   = "local_error"
	reasonStreamError  = "stream_error"
	reasonStreamClosed = "stream_unavailable"
	reasonStreamReply  = "stream_reply_error"
	reasonOneShotError = "oneshot_error"
)

// LocalFactory performs the one-time local backend initialization.
type LocalFactory func(ctx context.Context) (backend.Detector, error)

// Backends are the strategies available to a session. Only those needed by
// the configured mode must be set; Synthetic defaults to backend.NewSynthetic.
type Backends struct {
	Local     LocalFactory
	Stream    backend.Streamer
	OneShot   backend.Detector
	Synthetic backend.Detector
}

// Config holds orchestrator configuration.
type Config struct {
	Mode Mode

	// DispatchTimeout bounds one frame's backend work. Zero means no bound
	// beyond session cancellation.
	DispatchTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator owns one detection session: its backends, its stream and its
// epoch on the Store.
type Orchestrator struct {
	cfg      Config
	backends Backends
	store    *Store
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state atomic.Int32

	mu      sync.Mutex // guards the fields below
	local   backend.Detector
	epoch   Epoch
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool

	inflight sync.WaitGroup
}

// New creates an orchestrator in the Unselected state.
func New(cfg Config, backends Backends, store *Store) *Orchestrator {
	if backends.Synthetic == nil {
		backends.Synthetic = backend.NewSynthetic(nil)
	}
	if store == nil {
		store = NewStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:      cfg,
		backends: backends,
		store:    store,
		logger:   logger.With("component", "orchestrator", "mode", string(cfg.Mode)),
		metrics:  cfg.Metrics,
	}
	o.setState(Unselected)
	return o
}

// State returns the current backend state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Mode returns the configured mode.
func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// Store returns the store batches are published to.
func (o *Orchestrator) Store() *Store { return o.store }

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	o.store.SetState(s)
	o.metrics.SetState(int(s))
	if prev != s {
		o.logger.Info("backend state", "from", prev.String(), "to", s.String())
	}
}

// casState moves from one state to another only if the current state matches.
func (o *Orchestrator) casState(from, to State) bool {
	if !o.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	o.store.SetState(to)
	o.metrics.SetState(int(to))
	o.logger.Info("backend state", "from", from.String(), "to", to.String())
	return true
}

// Start selects the backend for the configured mode. Backend failures do not
// fail Start; they leave the session in a degraded state.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	switch o.cfg.Mode {
	case ModeLocal, ModeRemote, ModeSynthetic:
	default:
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: unknown mode %q", o.cfg.Mode)
	}
	o.started = true
	o.epoch = o.store.Open()
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.group, o.ctx = errgroup.WithContext(base)
	o.mu.Unlock()

	switch o.cfg.Mode {
	case ModeLocal:
		o.startLocal(ctx)
	case ModeRemote:
		o.startRemote(ctx)
	case ModeSynthetic:
		o.setState(Fallback)
	}
	return nil
}

func (o *Orchestrator) startLocal(ctx context.Context) {
	if o.backends.Local == nil {
		o.logger.Warn("no local backend configured")
		o.setState(LocalFailed)
		return
	}

	det, err := o.backends.Local(ctx)
	if err != nil {
		o.logger.Warn("local backend init failed, serving synthetic", "error", err)
		o.setState(LocalFailed)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		_ = det.Close()
		return
	}
	o.local = det
	o.setState(LocalReady)
}

func (o *Orchestrator) startRemote(ctx context.Context) {
	o.setState(RemoteConnecting)
	stream := o.backends.Stream
	if stream == nil {
		o.setState(RemoteClosed)
		return
	}

	if err := stream.Open(ctx); err != nil {
		o.logger.Warn("stream open failed, using one-shot", "error", err)
		o.casState(RemoteConnecting, RemoteClosed)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	epoch, runCtx := o.epoch, o.ctx
	o.group.Go(func() error {
		o.pump(runCtx, epoch, stream)
		return nil
	})
	o.casState(RemoteConnecting, RemoteOpen)
}

// pump forwards stream replies to the store until the stream ends or the
// session stops. Replies replace the published batch in arrival order.
func (o *Orchestrator) pump(ctx context.Context, epoch Epoch, stream backend.Streamer) {
	results, done := stream.Results(), stream.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-results:
			if !ok {
				o.streamLost("results closed")
				return
			}
			if b.Error != "" {
				o.logger.Warn("stream reply failed, publishing empty batch", "frame_id", b.FrameID, "error", b.Error)
				o.metrics.Dispatched(backend.NameStream, metrics.OutcomeError)
				o.metrics.FellBack(reasonStreamReply)
			}
			o.publish(epoch, b)
		case <-done:
			o.streamLost("disconnected")
			return
		}
	}
}

func (o *Orchestrator) streamLost(why string) {
	if o.casState(RemoteOpen, RemoteClosed) {
		o.logger.Warn("stream lost, using one-shot", "reason", why)
	}
}

func (o *Orchestrator) publish(epoch Epoch, b detection.Batch) bool {
	if b.Detections == nil {
		b.Detections = []detection.Detection{}
	}
	if !o.store.Publish(epoch, b) {
		return false
	}
	o.metrics.Published()
	return true
}

// Dispatch runs the per-frame policy for the configured mode. It never
// returns an error; every failure is absorbed into an empty or synthetic
// batch. In remote streaming mode it returns once the frame is sent.
func (o *Orchestrator) Dispatch(ctx context.Context, f *frame.Frame) {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	epoch, runCtx, local := o.epoch, o.ctx, o.local
	o.inflight.Add(1)
	o.mu.Unlock()
	defer o.inflight.Done()

	if f.Empty() {
		o.logger.Debug("skipping empty frame", "frame_id", f.ID)
		o.metrics.Dispatched("scheduler", metrics.OutcomeInvalid)
		return
	}

	dctx, cancel := context.WithCancel(runCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if o.cfg.DispatchTimeout > 0 {
		var tcancel context.CancelFunc
		dctx, tcancel = context.WithTimeout(dctx, o.cfg.DispatchTimeout)
		defer tcancel()
	}

	switch o.cfg.Mode {
	case ModeLocal:
		o.dispatchLocal(dctx, epoch, f, local)
	case ModeRemote:
		o.dispatchRemote(dctx, epoch, f)
	case ModeSynthetic:
		o.synthesize(dctx, epoch, f, "")
	}
}

func (o *Orchestrator) dispatchLocal(ctx context.Context, epoch Epoch, f *frame.Frame, local backend.Detector) {
	if o.State() != LocalReady || local == nil {
		o.synthesize(ctx, epoch, f, reasonLocalFailed)
		return
	}
	if err := o.detect(ctx, epoch, f, local); err != nil {
		o.logger.Warn("local inference failed, serving synthetic", "frame_id", f.ID, "error", err)
		o.synthesize(ctx, epoch, f, reasonLocalError)
	}
}

func (o *Orchestrator) dispatchRemote(ctx context.Context, epoch Epoch, f *frame.Frame) {
	reason := reasonStreamClosed
	if stream := o.backends.Stream; stream != nil && o.State() == RemoteOpen {
		err := stream.Send(ctx, f)
		if err == nil {
			o.metrics.Dispatched(backend.NameStream, metrics.OutcomeSent)
			return
		}
		o.metrics.Dispatched(backend.NameStream, metrics.OutcomeError)
		reason = reasonStreamError
		if errors.Is(err, backend.ErrChannel) && ctx.Err() == nil {
			o.streamLost(err.Error())
		}
		o.logger.Warn("stream send failed, trying one-shot", "frame_id", f.ID, "error", err)
	}

	if oneShot := o.backends.OneShot; oneShot != nil {
		o.metrics.FellBack(reason)
		err := o.detect(ctx, epoch, f, oneShot)
		if err == nil {
			return
		}
		o.logger.Warn("one-shot failed, serving synthetic", "frame_id", f.ID, "error", err)
		reason = reasonOneShotError
	}
	o.synthesize(ctx, epoch, f, reason)
}

// detect runs d and publishes its result. It returns an error only when the
// caller should fall back; decode failures publish an empty batch and
// invalid frames publish nothing.
func (o *Orchestrator) detect(ctx context.Context, epoch Epoch, f *frame.Frame, d backend.Detector) error {
	start := time.Now()
	dets, err := d.Detect(ctx, f)
	o.metrics.ObserveInference(d.Name(), time.Since(start))

	switch {
	case err == nil:
		o.metrics.Dispatched(d.Name(), metrics.OutcomeOK)
		o.publish(epoch, detection.Batch{FrameID: f.ID, Backend: d.Name(), Detections: dets})
		return nil
	case errors.Is(err, tensor.ErrDecode):
		o.metrics.Dispatched(d.Name(), metrics.OutcomeDecode)
		o.logger.Warn("decode failed, publishing empty batch", "frame_id", f.ID, "error", err)
		o.publish(epoch, detection.Batch{FrameID: f.ID, Backend: d.Name()})
		return nil
	case errors.Is(err, letterbox.ErrInvalidFrame):
		o.metrics.Dispatched(d.Name(), metrics.OutcomeInvalid)
		return nil
	default:
		o.metrics.Dispatched(d.Name(), metrics.OutcomeError)
		return err
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, epoch Epoch, f *frame.Frame, reason string) {
	if reason != "" {
		o.metrics.FellBack(reason)
	}
	syn := o.backends.Synthetic
	dets, err := syn.Detect(ctx, f)
	if err != nil {
		o.logger.Error("synthetic backend failed", "frame_id", f.ID, "error", err)
		return
	}
	o.metrics.Dispatched(syn.Name(), metrics.OutcomeOK)
	o.publish(epoch, detection.Batch{
		FrameID:    f.ID,
		Backend:    syn.Name(),
		Synthetic:  true,
		Detections: dets,
	})
}

// Stop ends the session: the published batch is cleared first so no later
// result is visible, then in-flight work is cancelled and awaited and every
// backend is closed. Stop is idempotent.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.stopped = true
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	o.store.Close(o.epoch)
	o.cancel()
	local := o.local
	o.local = nil
	o.mu.Unlock()

	o.inflight.Wait()
	_ = o.group.Wait()

	var err error
	if o.backends.Stream != nil {
		err = multierr.Append(err, o.backends.Stream.Close())
	}
	if local != nil {
		err = multierr.Append(err, local.Close())
	}
	if o.backends.OneShot != nil {
		err = multierr.Append(err, o.backends.OneShot.Close())
	}
	err = multierr.Append(err, o.backends.Synthetic.Close())

	if o.cfg.Mode == ModeRemote {
		o.setState(RemoteClosed)
	} else {
		o.setState(Unselected)
	}
	if err != nil {
		o.logger.Warn("backend close errors", "error", err)
	}
	return err
}
