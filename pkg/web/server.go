// Package web serves the pipeline's status API, the live detection feed
// for renderers and session lifecycle controls.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-detect/pkg/hub"
	"github.com/teslashibe/go-detect/pkg/metrics"
	"github.com/teslashibe/go-detect/pkg/orchestrator"
	"github.com/teslashibe/go-detect/pkg/scheduler"
)

// subscribeBuffer is how many batches the live feed buffers before the
// store starts dropping the oldest.
const subscribeBuffer = 16

// ErrSessionRunning is returned when a session is started twice.
var ErrSessionRunning = errors.New("web: session already running")

// SessionFactory builds a new, unstarted capture session.
type SessionFactory func(ctx context.Context) (*scheduler.Scheduler, error)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Store is the published detection state shared by every session.
	Store *orchestrator.Store

	// NewSession builds sessions for /api/session/start.
	NewSession SessionFactory

	// StaticDir, if set, is served at /.
	StaticDir string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the dashboard and API server.
type Server struct {
	cfg    Config
	app    *fiber.App
	hub    *hub.Hub
	logger *slog.Logger

	lifecycle sync.Mutex // serializes session start and stop
	mu        sync.Mutex
	session   *scheduler.Scheduler
}

// NewServer creates a server. Call Start before accepting websocket clients.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = orchestrator.NewStore()
	}
	s := &Server{
		cfg:    cfg,
		hub:    hub.New("detections", logger),
		logger: logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-detect",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/detections", s.handleDetections)
	api.Post("/session/start", s.handleStartSession)
	api.Post("/session/stop", s.handleStopSession)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/detections", websocket.New(s.handleDetectionsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the live detection hub.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Start runs the broadcast hub and forwards every published batch to it
// until ctx is cancelled. It does not block.
func (s *Server) Start(ctx context.Context) {
	ch, unsubscribe := s.cfg.Store.Subscribe(subscribeBuffer)
	go s.hub.Run(ctx)
	go func() {
		defer unsubscribe()
		s.hub.Forward(ctx, ch)
	}()
}

// Listen serves on cfg.Addr. It blocks until Shutdown.
func (s *Server) Listen() error {
	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartSession builds and starts a new session.
// A start in progress is reported as ErrSessionRunning.
func (s *Server) StartSession(ctx context.Context) (*scheduler.Scheduler, error) {
	if !s.lifecycle.TryLock() {
		return nil, ErrSessionRunning
	}
	defer s.lifecycle.Unlock()

	if sess := s.Session(); sess != nil && sess.Running() {
		return nil, ErrSessionRunning
	}
	if s.cfg.NewSession == nil {
		return nil, errors.New("web: no session factory configured")
	}
	sess, err := s.cfg.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return sess, nil
}

// StopSession stops the current session, if any. It waits for a start in
// progress to finish first.
func (s *Server) StopSession() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	sess := s.Session()
	if sess == nil {
		return nil
	}
	return sess.Stop()
}

// Run serves on cfg.Addr until ctx is cancelled or the listener fails, then
// shuts down. A listen failure is returned together with any shutdown error.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Listen() }()

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err = <-errc:
		if err != nil {
			err = fmt.Errorf("web server: %w", err)
		}
	}
	return multierr.Append(err, s.Shutdown())
}

// Session returns the current or last session, or nil.
func (s *Server) Session() *scheduler.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Shutdown stops the session and the HTTP server.
func (s *Server) Shutdown() error {
	err := s.StopSession()
	return multierr.Append(err, s.app.Shutdown())
}
