// Package web provides the operator dashboard for the cup robot: status and
// task events over HTTP and websockets, and teleoperation input.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/hub"
	"github.com/teslashibe/go-cupbot/pkg/protocol"
	"github.com/teslashibe/go-cupbot/pkg/robot"
	"github.com/teslashibe/go-cupbot/pkg/task"
)

const (
	// maxEvents is the size of the recent event ring
	maxEvents = 200

	// DefaultStatusInterval throttles status broadcasts; the control loop
	// publishes every tick.
	DefaultStatusInterval = 100 * time.Millisecond
)

// Canceller abandons the autonomous run.
type Canceller interface {
	Cancel()
}

// Options configures the server.
type Options struct {
	Addr           string
	StaticDir      string
	StatusInterval time.Duration
	Canceller      Canceller
	Logger         *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	// State
	status        protocol.StatusData
	hasStatus     bool
	lastBroadcast time.Time
	interval      time.Duration
	stateMu       sync.RWMutex

	// Recent task events, oldest first
	events   []protocol.EventData
	eventsMu sync.RWMutex

	keys *KeyState

	// Connected operators; the last one to leave clears the keys
	teleopSessions atomic.Int32

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	eventHub  *hub.Hub

	canceller   Canceller
	cancellerMu sync.RWMutex
}

// NewServer creates a new web dashboard server
func NewServer(opts Options) *Server {
	logger := log.OrDefault(opts.Logger).With("component", "web")
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	s := &Server{
		addr:      opts.Addr,
		logger:    logger,
		interval:  opts.StatusInterval,
		events:    make([]protocol.EventData, 0, maxEvents),
		keys:      &KeyState{},
		statusHub: hub.New("status", logger),
		eventHub:  hub.New("events", logger),
		canceller: opts.Canceller,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Cupbot Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Post("/keys", s.handleKeys)
	api.Post("/stop", s.handleStop)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	s.registerTeleop(app)

	s.app = app
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Keys returns the teleop key state fed by /api/keys and /ws/teleop.
func (s *Server) Keys() *KeyState { return s.keys }

// SetCanceller sets the target of POST /api/stop.
func (s *Server) SetCanceller(c Canceller) {
	s.cancellerMu.Lock()
	s.canceller = c
	s.cancellerMu.Unlock()
}

// Run starts the hubs and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.eventHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web dashboard listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// PublishStatus implements robot.StatusSink. The snapshot is stored for
// /api/status on every call; broadcasts are throttled.
func (s *Server) PublishStatus(st robot.Status) {
	data := statusData(st)

	s.stateMu.Lock()
	s.status = data
	s.hasStatus = true
	due := st.At.Sub(s.lastBroadcast) >= s.interval
	if due {
		s.lastBroadcast = st.At
	}
	s.stateMu.Unlock()

	if due {
		msg, err := protocol.NewStatusMessage(data)
		s.broadcast(s.statusHub, msg, err)
	}
}

// Notify implements task.Notifier.
func (s *Server) Notify(e task.Event) {
	data := eventData(e)

	s.eventsMu.Lock()
	s.events = append(s.events, data)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	s.logger.Info("task event", "kind", e.Kind, "index", e.Index, "id", e.ID)
	msg, err := protocol.NewEventMessage(data)
	s.broadcast(s.eventHub, msg, err)
}

func (s *Server) broadcast(h *hub.Hub, msg *protocol.Message, err error) {
	if err != nil {
		s.logger.Error("encode message", "hub", h.Name(), "error", err)
		return
	}
	if err := h.BroadcastJSON(msg); err != nil {
		s.logger.Error("encode message", "hub", h.Name(), "error", err)
	}
}

// Status returns the last published status.
func (s *Server) Status() (protocol.StatusData, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.status, s.hasStatus
}

// Events returns a copy of the recent event ring, oldest first.
func (s *Server) Events() []protocol.EventData {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	out := make([]protocol.EventData, len(s.events))
	copy(out, s.events)
	return out
}

// =============================================================================
// Conversions
// =============================================================================

func statusData(st robot.Status) protocol.StatusData {
	return protocol.StatusData{
		RunID:        st.RunID.String(),
		Mode:         st.Mode.String(),
		Phase:        st.Task.Phase.String(),
		Step:         st.Task.Step,
		Index:        st.Task.Index,
		Count:        st.Task.Count,
		Moving:       st.Task.Moving,
		Done:         st.Task.Done,
		Profile:      st.Profile.Name,
		Session:      st.Session,
		Stage:        st.Stage.String(),
		Voltage:      st.Voltage,
		Compensation: st.Compensation,
		Left:         st.Command.Left,
		Right:        st.Command.Right,
		Fan:          st.Fan,
		Position:     protocol.Triple(st.Position),
		Target:       protocol.Triple(st.Task.Target),
	}
}

func eventData(e task.Event) protocol.EventData {
	return protocol.EventData{
		ID:       e.ID.String(),
		Kind:     string(e.Kind),
		Index:    e.Index,
		Position: protocol.Triple(e.Position),
		At:       e.At.UnixMilli(),
	}
}

var (
	_ robot.StatusSink = (*Server)(nil)
	_ task.Notifier    = (*Server)(nil)
	_ robot.KeySource  = (*KeyState)(nil)
)

// KeyState holds the teleop keys currently pressed. Keys set with SetFor
// are released once their hold elapses unless they are set again.
type KeyState struct {
	mu      sync.RWMutex
	keys    drive.Keys
	expires time.Time
	now     func() time.Time
}

// Keys implements robot.KeySource.
func (k *KeyState) Keys() drive.Keys {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.expires.IsZero() && !k.clock().Before(k.expires) {
		return 0
	}
	return k.keys
}

// Set replaces the pressed keys until the next Set.
func (k *KeyState) Set(keys drive.Keys) {
	k.mu.Lock()
	k.keys = keys
	k.expires = time.Time{}
	k.mu.Unlock()
}

// SetFor replaces the pressed keys for at most hold.
func (k *KeyState) SetFor(keys drive.Keys, hold time.Duration) {
	k.mu.Lock()
	k.keys = keys
	k.expires = k.clock().Add(hold)
	k.mu.Unlock()
}

func (k *KeyState) clock() time.Time {
	if k.now != nil {
		return k.now()
	}
	return time.Now()
}
