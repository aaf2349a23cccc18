package web

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/protocol"
)

// teleopIdle releases all keys when an operator goes quiet.
const teleopIdle = 2 * time.Second

func (s *Server) registerTeleop(app *fiber.App) {
	app.Get("/ws/teleop", websocket.New(s.handleTeleop))
}

// handleTeleop reads keys messages from an operator. The robot must not
// keep driving on a dropped connection, so keys are cleared on disconnect
// and after teleopIdle without input; clients send keys or ping messages
// at least that often.
func (s *Server) handleTeleop(c *websocket.Conn) {
	remote := c.RemoteAddr().String()
	s.teleopSessions.Add(1)
	s.logger.Info("teleop connected", "remote", remote)

	defer func() {
		if s.teleopSessions.Add(-1) == 0 {
			s.keys.Set(0)
		}
		s.logger.Info("teleop disconnected", "remote", remote)
	}()

	for {
		c.SetReadDeadline(time.Now().Add(teleopIdle))
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			s.logger.Debug("teleop parse error", "remote", remote, "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeKeys:
			var kd protocol.KeysData
			if err := msg.ParseData(&kd); err != nil {
				s.logger.Debug("teleop keys payload", "remote", remote, "error", err)
				continue
			}
			keys, err := drive.ParseKeys(kd.Keys)
			if err != nil {
				s.logger.Debug("teleop keys", "remote", remote, "error", err)
				continue
			}
			s.keys.Set(keys)

		case protocol.TypePing:
			pong, err := protocol.NewPongMessage()
			if err != nil {
				continue
			}
			out, err := pong.Bytes()
			if err != nil {
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}
