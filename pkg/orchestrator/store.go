package orchestrator

import (
	"sync"

	"github.com/teslashibe/go-detect/pkg/detection"
)

// Epoch identifies one open session on a Store. Publishes carrying a closed
// epoch are ignored.
type Epoch uint64

// Store holds the single published batch and the backend state read by
// renderers. Only the orchestrator writes to it.
type Store struct {
	mu        sync.RWMutex
	epoch     Epoch // 0 when no session is open
	next      Epoch
	batch     detection.Batch
	has       bool
	lastFrame uint64
	state     State
	dropStale bool

	subs    map[int]chan detection.Batch
	nextSub int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDropStale drops a batch whose FrameID is older than the last published
// one. FrameID 0 is treated as unknown and never dropped.
func WithDropStale(enabled bool) StoreOption {
	return func(s *Store) { s.dropStale = enabled }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{subs: make(map[int]chan detection.Batch)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a new epoch, clearing any previous batch.
func (s *Store) Open() Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.epoch = s.next
	s.batch = detection.Batch{}
	s.has = false
	s.lastFrame = 0
	return s.epoch
}

// Publish atomically replaces the batch if e is still open.
func (s *Store) Publish(e Epoch, b detection.Batch) bool {
	dets := make([]detection.Detection, len(b.Detections))
	copy(dets, b.Detections)
	b.Detections = dets

	s.mu.Lock()
	defer s.mu.Unlock()
	if e == 0 || e != s.epoch {
		return false
	}
	if s.dropStale && b.FrameID != 0 && b.FrameID < s.lastFrame {
		return false
	}

	s.batch = b
	s.has = true
	if b.FrameID > s.lastFrame {
		s.lastFrame = b.FrameID
	}

	for _, ch := range s.subs {
		offer(ch, b)
	}
	return true
}

// offer sends b, replacing the oldest queued batch when ch is full.
func offer(ch chan detection.Batch, b detection.Batch) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

// Close ends epoch e and clears the published batch. Subscribers receive an
// empty batch so pushed renderers clear too. Later publishes under e are
// ignored.
func (s *Store) Close(e Epoch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e != s.epoch {
		return
	}
	s.epoch = 0
	s.batch = detection.Batch{}
	s.has = false

	empty := detection.Batch{Detections: []detection.Detection{}}
	for _, ch := range s.subs {
		offer(ch, empty)
	}
}

// Latest returns the current batch, if any.
func (s *Store) Latest() (detection.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch, s.has
}

// SetState records the backend state for readers.
func (s *Store) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the last recorded backend state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe returns a channel receiving every published batch. Slow readers
// see the most recent batches only. cancel releases the subscription.
func (s *Store) Subscribe(buf int) (<-chan detection.Batch, func()) {
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan detection.Batch, buf)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
