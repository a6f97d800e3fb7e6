package backend

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/frame"
)

// Synthetic always succeeds with a fixed-shape jittered batch.
type Synthetic struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

var _ Detector = (*Synthetic)(nil)

// NewSynthetic returns a synthetic backend. A nil rng is seeded randomly.
func NewSynthetic(rng *rand.Rand) *Synthetic {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Synthetic{rng: rng, now: time.Now}
}

// Name implements Detector.
func (s *Synthetic) Name() string { return NameSynthetic }

// Detect implements Detector. It never fails.
func (s *Synthetic) Detect(_ context.Context, f *frame.Frame) ([]detection.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return detection.Synthesize(s.rng, f.ID, detection.Millis(f.CapturedAt), detection.Millis(s.now())), nil
}

// Close implements Detector.
func (s *Synthetic) Close() error { return nil }
