package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-detect/pkg/detection"
	"github.com/teslashibe/go-detect/pkg/hub"
	"github.com/teslashibe/go-detect/pkg/orchestrator"
	"github.com/teslashibe/go-detect/pkg/scheduler"
)

// Status is the body of GET /api/status.
type Status struct {
	Mode    string          `json:"mode"`
	State   string          `json:"state"`
	Session scheduler.Stats `json:"session"`
	Clients int             `json:"clients"`
}

func (s *Server) status() Status {
	st := Status{
		State:   orchestrator.Unselected.String(),
		Clients: s.hub.ClientCount(),
	}
	if sess := s.Session(); sess != nil {
		st.Mode = string(sess.Orchestrator().Mode())
		st.State = sess.Orchestrator().State().String()
		st.Session = sess.Stats()
	}
	return st
}

// handleStatus returns the session state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleDetections returns the latest batch, or an empty one.
func (s *Server) handleDetections(c *fiber.Ctx) error {
	b, ok := s.cfg.Store.Latest()
	if !ok {
		b = detection.Batch{Detections: []detection.Detection{}}
	}
	return c.JSON(b)
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	if _, err := s.StartSession(c.UserContext()); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, ErrSessionRunning) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.status())
}

func (s *Server) handleStopSession(c *fiber.Ctx) error {
	if err := s.StopSession(); err != nil {
		s.logger.Warn("session stop", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.status())
}

// handleDetectionsWS sends the latest batch, then every new one.
func (s *Server) handleDetectionsWS(c *websocket.Conn) {
	if b, ok := s.cfg.Store.Latest(); ok {
		if err := c.WriteJSON(b); err != nil {
			return
		}
	}
	hub.NewClient(s.hub, c).Run()
}
