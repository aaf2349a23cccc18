package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/hub"
	"github.com/teslashibe/go-cupbot/pkg/protocol"
)

// handleStatus returns the last control loop status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	status, ok := s.Status()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "control loop has not published a status yet",
		})
	}
	return c.JSON(status)
}

// handleEvents returns recent task events
func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.Events())
}

// handleKeys replaces the pressed teleop keys. They are released after
// teleopIdle unless posted again.
func (s *Server) handleKeys(c *fiber.Ctx) error {
	var req protocol.KeysData
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid body: " + err.Error(),
		})
	}
	keys, err := drive.ParseKeys(req.Keys)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.keys.SetFor(keys, teleopIdle)
	return c.JSON(protocol.KeysData{Keys: keys.Letters()})
}

// handleStop cancels the autonomous run
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.cancellerMu.RLock()
	canceller := s.canceller
	s.cancellerMu.RUnlock()

	if canceller == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no run to stop",
		})
	}
	canceller.Cancel()
	s.logger.Info("stop requested", "remote", c.IP())
	return c.JSON(fiber.Map{"stopping": true})
}

// handleStatusWS streams status updates, starting with the current one
func (s *Server) handleStatusWS(c *websocket.Conn) {
	var initial []hub.Message
	if status, ok := s.Status(); ok {
		if msg, err := protocol.NewStatusMessage(status); err == nil {
			if data, err := msg.Bytes(); err == nil {
				initial = append(initial, hub.NewJSONMessage(data))
			}
		}
	}
	s.serveHub(s.statusHub, c, initial)
}

// handleEventsWS streams task events, starting with the recent ring
func (s *Server) handleEventsWS(c *websocket.Conn) {
	var initial []hub.Message
	for _, e := range s.Events() {
		msg, err := protocol.NewEventMessage(e)
		if err != nil {
			continue
		}
		if data, err := msg.Bytes(); err == nil {
			initial = append(initial, hub.NewJSONMessage(data))
		}
	}
	s.serveHub(s.eventHub, c, initial)
}

func (s *Server) serveHub(h *hub.Hub, c *websocket.Conn, initial []hub.Message) {
	client, ok := hub.NewClient(h, c, initial...)
	if !ok {
		return
	}
	client.Run()
}
