package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/frame"
)

// StreamPath is the streaming endpoint relative to the service base address.
const StreamPath = "/ws/detect"

// maxPending bounds the frames awaiting a reply on one connection.
const maxPending = 256

type pendingFrame struct {
	id        uint64
	captureTS int64
}

// Stream is a websocket channel to the detection service. Frames go out as
// binary JPEG messages; replies come back as text JSON in send order.
type Stream struct {
	cfg    Config
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex // guards conn, closed, pending
	conn    *websocket.Conn
	closed  bool
	pending []pendingFrame

	writeMu sync.Mutex

	results  chan detection.Batch
	done     chan struct{}
	closing  chan struct{}
	doneOnce sync.Once
}

var _ Streamer = (*Stream)(nil)

// NewStream creates an unopened stream to the service at endpoint.
// http and https endpoints map to ws and wss.
func NewStream(endpoint string, opts ...Option) (*Stream, error) {
	cfg := newConfig(endpoint, opts)
	cfg.Logger = cfg.Logger.With("component", "backend.stream")

	wsURL, err := StreamURL(endpoint)
	if err != nil {
		return nil, err
	}

	return &Stream{
		cfg: cfg,
		url: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		results: make(chan detection.Batch, cfg.ResultBuffer),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}, nil
}

// StreamURL derives the websocket URL from the service base address.
func StreamURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + StreamPath
	return u.String(), nil
}

// URL returns the websocket address.
func (s *Stream) URL() string { return s.url }

// Open dials the service and starts the reply reader.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", ErrChannel, ErrClosed)
	}
	if s.conn != nil {
		return nil
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrChannel, s.url, err)
	}
	s.conn = conn
	go s.readLoop(conn)

	s.cfg.Logger.Info("stream open", "url", s.url)
	return nil
}

// Send writes one frame. It does not wait for the reply.
func (s *Stream) Send(ctx context.Context, f *frame.Frame) error {
	jpeg, err := f.JPEG(s.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannel, err)
	}

	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %w", ErrChannel, ErrClosed)
	}
	if conn == nil {
		return fmt.Errorf("%w: not open", ErrChannel)
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: disconnected", ErrChannel)
	default:
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// The reply can be read before WriteMessage returns, so the frame is
	// queued first.
	s.pushPending(pendingFrame{id: f.ID, captureTS: detection.Millis(f.CapturedAt)})
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
		s.dropPending(f.ID)
		return fmt.Errorf("%w: write: %w", ErrChannel, err)
	}
	return nil
}

func (s *Stream) pushPending(p pendingFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPending {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, p)
}

// dropPending removes the newest pending entry for id.
func (s *Stream) dropPending(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Results implements Streamer.
func (s *Stream) Results() <-chan detection.Batch { return s.results }

// Done implements Streamer.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// popPending returns the oldest unanswered frame.
func (s *Stream) popPending() (pendingFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return pendingFrame{}, false
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer close(s.results)
	defer s.signalDone()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
			default:
				s.cfg.Logger.Warn("stream disconnected", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var resp detection.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			s.cfg.Logger.Warn("invalid stream reply", "error", err)
			continue
		}

		batch := detection.Batch{Backend: NameStream, Detections: resp.Detections, Error: resp.Error}
		recv := detection.Millis(s.cfg.Now())
		if p, ok := s.popPending(); ok {
			// Replies arrive in send order, so the pending id is authoritative.
			batch.FrameID = p.id
			for i := range batch.Detections {
				batch.Detections[i].FrameID = p.id
			}
			stamp(batch.Detections, p.id, p.captureTS, recv)
		} else {
			stamp(batch.Detections, 0, 0, recv)
			if len(batch.Detections) > 0 {
				batch.FrameID = batch.Detections[0].FrameID
			}
		}
		if batch.Detections == nil {
			batch.Detections = []detection.Detection{}
		}

		select {
		case s.results <- batch:
		case <-s.closing:
			return
		}
	}
}

// Close sends a close frame and tears down the connection. Safe to call
// more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// No reader was started; nothing else writes results.
		close(s.results)
		s.signalDone()
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := conn.Close()
	s.cfg.Logger.Info("stream closed", "url", s.url)
	return err
}
