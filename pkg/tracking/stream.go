package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/protocol"
)

// StreamConfig configures a Stream.
type StreamConfig struct {
	// URL of the tracker bridge, e.g. ws://localhost:8765/pose
	URL string

	// ReconnectInterval is the wait between dial attempts.
	ReconnectInterval time.Duration

	// StaleAfter marks the sample inactive when no message arrived for this long.
	StaleAfter time.Duration

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration
}

// DefaultStreamConfig returns settings suitable for a LAN tracker bridge.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:               url,
		ReconnectInterval: time.Second,
		StaleAfter:        250 * time.Millisecond,
		HandshakeTimeout:  5 * time.Second,
	}
}

// Stream is a Provider fed by a websocket carrying protocol pose messages.
type Stream struct {
	cfg    StreamConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sample   Sample
	ok       bool
	received uint64
}

// NewStream creates a stream provider. Call Run to connect.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	return &Stream{
		cfg:    cfg,
		logger: log.OrDefault(logger).With("component", "tracking-stream"),
		now:    time.Now,
	}
}

// Latest implements Provider. A sample older than StaleAfter is reported
// with an inactive stability so the control loop stops the wheels.
func (s *Stream) Latest() (Sample, bool) {
	s.mu.RLock()
	sample, ok := s.sample, s.ok
	s.mu.RUnlock()

	if ok && s.cfg.StaleAfter > 0 && s.now().Sub(sample.At) > s.cfg.StaleAfter {
		sample.Stability = Stability{Stage: StageInactive}
	}
	return sample, ok
}

// Received returns the number of pose messages accepted so far.
func (s *Stream) Received() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received
}

// Run dials the tracker and consumes samples until ctx is cancelled,
// reconnecting after failures.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("tracker stream interrupted", "url", s.cfg.URL, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectInterval):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial tracker: %w", err)
	}
	defer conn.Close()
	s.logger.Info("tracker stream connected", "url", s.cfg.URL)

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.handle(data); err != nil {
			s.logger.Debug("dropping tracker message", "error", err)
		}
	}
}

func (s *Stream) handle(data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return err
	}
	if msg.Type != protocol.TypePose {
		return nil
	}
	var pose protocol.PoseData
	if err := msg.ParseData(&pose); err != nil {
		return fmt.Errorf("pose data: %w", err)
	}
	sample, err := sampleFromWire(pose, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sample = sample
	s.ok = true
	s.received++
	s.mu.Unlock()
	return nil
}

func sampleFromWire(p protocol.PoseData, at time.Time) (Sample, error) {
	stage, err := ParseStage(p.Stage)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Pose: Pose{
			Position: protocol.Vec(p.Position),
			Yaw:      p.Yaw,
		},
		Manipulator: protocol.Vec(p.Manipulator),
		Stability:   Stability{Stage: stage, Value: p.Value},
		At:          at,
	}, nil
}

var _ Provider = (*Stream)(nil)
