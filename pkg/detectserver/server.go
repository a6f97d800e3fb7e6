// Package detectserver is the remote detection service. It serves the
// streaming websocket channel and the one-shot HTTP endpoint on top of a
// single on-device detector.
package detectserver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-detect/pkg/backend"
	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/frame"
	"github.com/teslashibe/go-detect/pkg/letterbox"
	"github.com/teslashibe/go-detect/pkg/tensor"
)

const (
	// MaxFrameSize bounds a single JPEG on either endpoint.
	MaxFrameSize = 8 * 1024 * 1024
	writeWait    = 5 * time.Second
)

// Server answers detection requests.
type Server struct {
	detector backend.Detector
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	connections atomic.Int64
	requests    atomic.Uint64
	frames      atomic.Uint64
	failures    atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// WithTimeout bounds each detection call.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a server around det.
func New(det backend.Detector, opts ...Option) *Server {
	s := &Server{
		detector: det,
		timeout:  10 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "detectserver")
	return s
}

// App returns a fiber app with every route registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "detectd",
		DisableStartupMessage: true,
		BodyLimit:             MaxFrameSize,
	})
	s.RegisterRoutes(app)
	return app
}

// RegisterRoutes registers the service endpoints on app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/healthz", s.handleHealth)
	app.Post(backend.DetectPath, s.handleDetect)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(backend.StreamPath, websocket.New(s.handleStream))
}

// Stats contains service counters.
type Stats struct {
	Connections int64  `json:"connections"`
	Requests    uint64 `json:"requests"`
	Frames      uint64 `json:"frames"`
	Failures    uint64 `json:"failures"`
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Requests:    s.requests.Load(),
		Frames:      s.frames.Load(),
		Failures:    s.failures.Load(),
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"detector": s.detector.Name(),
		"stats":    s.Stats(),
	})
}

// handleDetect serves one multipart frame.
func (s *Server) handleDetect(c *fiber.Ctx) error {
	recv := s.now()
	s.requests.Add(1)

	fh, err := c.FormFile("frame")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing frame field"})
	}
	file, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer file.Close()

	img, err := imaging.Decode(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "decode frame: " + err.Error()})
	}

	f := &frame.Frame{
		ID:         parseUint(c.FormValue("frame_id")),
		Image:      img,
		CapturedAt: parseMillis(c.FormValue("ts")),
	}

	dets, err := s.detect(c.UserContext(), f, recv)
	switch {
	case err == nil:
	case errors.Is(err, letterbox.ErrInvalidFrame):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, tensor.ErrDecode):
		// Malformed model output yields an empty result for this frame.
		return c.JSON(detection.Response{Detections: []detection.Detection{}, Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(detection.Response{Detections: dets})
}

// handleStream reads binary JPEG frames and replies to each one, in order,
// with a text JSON message. Every frame gets exactly one reply so clients
// can pair replies with the frames they sent.
func (s *Server) handleStream(c *websocket.Conn) {
	n := s.connections.Add(1)
	s.logger.Info("stream connected", "remote", c.RemoteAddr().String(), "connections", n)
	defer func() {
		n := s.connections.Add(-1)
		s.logger.Info("stream disconnected", "connections", n)
	}()

	c.SetReadLimit(MaxFrameSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seq uint64
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		recv := s.now()
		seq++

		resp := detection.Response{Detections: []detection.Detection{}}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			resp.Error = "decode frame: " + err.Error()
			s.failures.Add(1)
		} else {
			// The client owns the capture timestamp for streamed frames.
			f := &frame.Frame{ID: seq, Image: img}
			dets, err := s.detect(ctx, f, recv)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Detections = dets
			}
		}

		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(resp); err != nil {
			s.logger.Warn("stream write failed", "error", err)
			return
		}
	}
}

// detect runs the detector and stamps receive-side fields.
func (s *Server) detect(ctx context.Context, f *frame.Frame, recv time.Time) ([]detection.Detection, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.frames.Add(1)

	dets, err := s.detector.Detect(ctx, f)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("detect failed", "frame_id", f.ID, "error", err)
		return nil, err
	}

	recvTS := detection.Millis(recv)
	for i := range dets {
		dets[i].FrameID = f.ID
		dets[i].RecvTS = recvTS
		if dets[i].CaptureTS == 0 {
			dets[i].CaptureTS = detection.Millis(f.CapturedAt)
		}
	}
	if dets == nil {
		dets = []detection.Detection{}
	}
	return dets, nil
}

func parseUint(v string) uint64 {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
