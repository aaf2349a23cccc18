package robot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/battery"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/task"
	"github.com/teslashibe/go-cupbot/pkg/tracking"
)

// Loop defaults.
const (
	DefaultControlRate = 20 * time.Millisecond
	DefaultFrameRate   = 16 * time.Millisecond
	DefaultHeartbeat   = 250 // control ticks, ~5s at 20ms

	errorLogInterval = 5 * time.Second
)

// Status is published after every control tick.
type Status struct {
	RunID        uuid.UUID
	Mode         ControlMode
	Task         task.Snapshot
	Session      string
	Stage        tracking.Stage
	Voltage      float64
	Compensation float64
	Command      drive.WheelCommand
	Fan          bool
	Position     r3.Vector
	Profile      drive.SpeedProfile
	At           time.Time
}

// StatusSink receives status snapshots. PublishStatus must not block.
type StatusSink interface {
	PublishStatus(Status)
}

// KeySource reports the teleop keys currently held.
type KeySource interface {
	Keys() drive.Keys
}

// Config tunes the control loop.
type Config struct {
	Mode          ControlMode
	ControlRate   time.Duration
	FrameRate     time.Duration
	Heartbeat     uint64
	TeleopProfile drive.SpeedProfile
}

// DefaultConfig returns an autonomous loop at the default rates.
func DefaultConfig() Config {
	return Config{
		Mode:          Autonomous,
		ControlRate:   DefaultControlRate,
		FrameRate:     DefaultFrameRate,
		Heartbeat:     DefaultHeartbeat,
		TeleopProfile: drive.DefaultProfile(),
	}
}

// Deps are the controller's collaborators. Board and Tracker are required;
// the rest may be nil.
type Deps struct {
	Board     Board
	Sequencer *task.Sequencer
	Tracker   tracking.Provider
	Keys      KeySource
	Sink      StatusSink
	Logger    *slog.Logger
}

// Controller runs the control tick and the frame tick on one goroutine.
// The sequencer, dispatcher and board are only touched from that goroutine,
// so the two ticks never interleave.
type Controller struct {
	cfg    Config
	board  Board
	seq    *task.Sequencer
	track  tracking.Provider
	keys   KeySource
	sink   StatusSink
	logger *slog.Logger
	runID  uuid.UUID

	dispatcher Dispatcher
	battery    *battery.Buffer
	snap       task.Snapshot

	stop     chan struct{}
	stopOnce sync.Once
	cancel   chan struct{}

	// Diagnostics
	tickCount     uint64
	errorCount    uint64
	lastErrorTime time.Time
	now           func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewController creates a controller. It does nothing until Run.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.ControlRate <= 0 {
		cfg.ControlRate = DefaultControlRate
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.TeleopProfile.Frequency == 0 {
		cfg.TeleopProfile = drive.DefaultProfile()
	}

	buf := battery.NewBuffer(battery.SeedVoltage)
	c := &Controller{
		cfg:     cfg,
		board:   deps.Board,
		seq:     deps.Sequencer,
		track:   deps.Tracker,
		keys:    deps.Keys,
		sink:    deps.Sink,
		logger:  log.OrDefault(deps.Logger).With("component", "controller"),
		runID:   uuid.New(),
		battery: buf,
		dispatcher: Dispatcher{
			Battery: buf,
			Teleop:  cfg.TeleopProfile,
		},
		stop:   make(chan struct{}),
		cancel: make(chan struct{}, 1),
		now:    time.Now,
	}
	if c.seq != nil {
		c.snap = c.seq.Snapshot()
	}
	return c
}

// RunID identifies this controller's run in status and logs.
func (c *Controller) RunID() uuid.UUID { return c.runID }

// Run blocks until ctx is done or Stop is called. On exit the motors are
// zeroed, the fan switched off, the sequencer cancelled and the board
// closed.
func (c *Controller) Run(ctx context.Context) error {
	control := time.NewTicker(c.cfg.ControlRate)
	defer control.Stop()
	frame := time.NewTicker(c.cfg.FrameRate)
	defer frame.Stop()
	defer c.shutdown()

	c.logger.Info("control loop started",
		"run_id", c.runID,
		"mode", c.cfg.Mode,
		"control_rate", c.cfg.ControlRate,
		"frame_rate", c.cfg.FrameRate)

	if c.cfg.Mode == Teleop {
		c.board.SetFrequency(c.dispatcher.Teleop.Frequency)
	}
	c.board.Tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case <-c.cancel:
			c.cancelSequence()
		case <-control.C:
			c.controlTick()
		case now := <-frame.C:
			c.frameTick(now)
		}
	}
}

// Stop halts the control loop gracefully.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Cancel asks the loop to abandon the autonomous run. It never blocks.
func (c *Controller) Cancel() {
	select {
	case c.cancel <- struct{}{}:
	default:
	}
}

// Status returns the last published status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// controlTick executes one fixed-rate cycle: dispatch, actuate, sample the
// battery, then let the bus session react.
func (c *Controller) controlTick() {
	sample := c.latest()
	var keys drive.Keys
	if c.cfg.Mode == Teleop && c.keys != nil {
		keys = c.keys.Keys()
		c.updateTeleopProfile(keys)
	}

	out := c.dispatcher.Step(c.cfg.Mode, c.snap, sample, keys)
	if err := c.board.Drive(out.Command, out.Factor); err != nil {
		c.logError("drive failed", err)
	}
	if out.FanSet && out.Fan != c.board.FanOn() {
		if err := c.board.SetFan(out.Fan); err != nil {
			c.logError("fan switch failed", err)
		}
	}

	volts, hasVolts := c.board.Voltage()
	if hasVolts {
		c.battery.Push(volts)
	}
	c.board.Tick()

	c.tickCount++
	st := Status{
		RunID:        c.runID,
		Mode:         c.cfg.Mode,
		Task:         c.snap,
		Session:      c.board.State().String(),
		Stage:        sample.Stability.Stage,
		Voltage:      c.battery.Average(),
		Compensation: c.battery.Compensation(),
		Command:      out.Command,
		Fan:          c.board.FanOn(),
		Position:     sample.Pose.Position,
		Profile:      c.profile(),
		At:           c.now(),
	}
	c.publish(st)

	// Heartbeat log every ~5 seconds
	if c.tickCount%c.cfg.Heartbeat == 0 {
		c.logger.Info("heartbeat",
			"ticks", c.tickCount,
			"errors", c.errorCount,
			"session", st.Session,
			"phase", c.snap.Phase,
			"index", c.snap.Index,
			"stage", st.Stage,
			"voltage", st.Voltage)
	}
}

// frameTick advances the sequencer in autonomous mode. Without any tracking
// sample yet the sequencer waits.
func (c *Controller) frameTick(now time.Time) {
	if c.cfg.Mode != Autonomous || c.seq == nil || c.track == nil {
		return
	}
	sample, ok := c.track.Latest()
	if !ok {
		return
	}
	c.snap = c.seq.Tick(now, task.Input{Pose: sample.Pose, Manipulator: sample.Manipulator})
}

func (c *Controller) latest() tracking.Sample {
	if c.track == nil {
		return tracking.Sample{}
	}
	sample, ok := c.track.Latest()
	if !ok {
		return tracking.Sample{}
	}
	return sample
}

// updateTeleopProfile holds the slow profile while the slow key is down.
func (c *Controller) updateTeleopProfile(keys drive.Keys) {
	want := c.cfg.TeleopProfile
	if keys.Has(drive.KeySlow) {
		want = drive.SlowProfile()
	}
	if want.Name == c.dispatcher.Teleop.Name {
		return
	}
	c.logger.Info("teleop profile", "profile", want.Name)
	c.dispatcher.Teleop = want
	c.board.SetFrequency(want.Frequency)
}

func (c *Controller) profile() drive.SpeedProfile {
	if c.cfg.Mode == Teleop {
		return c.dispatcher.Teleop
	}
	return c.snap.Profile
}

func (c *Controller) cancelSequence() {
	if c.seq == nil || c.seq.Done() {
		return
	}
	c.seq.Cancel()
	c.snap = c.seq.Snapshot()
}

func (c *Controller) publish(st Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.PublishStatus(st)
	}
}

// logError logs at most once per errorLogInterval.
func (c *Controller) logError(msg string, err error) {
	c.errorCount++
	now := c.now()
	if c.lastErrorTime.IsZero() || now.Sub(c.lastErrorTime) > errorLogInterval {
		c.logger.Warn(msg, "error", err, "total_errors", c.errorCount)
		c.lastErrorTime = now
	}
}

func (c *Controller) shutdown() {
	if err := c.board.Drive(drive.Zero, 1); err != nil {
		c.logger.Warn("zeroing motors failed", "error", err)
	}
	if err := c.board.SetFan(false); err != nil {
		c.logger.Warn("fan off failed", "error", err)
	}
	c.cancelSequence()
	if err := c.board.Close(); err != nil {
		c.logger.Warn("board close failed", "error", err)
	}
	c.logger.Info("control loop stopped", "ticks", c.tickCount, "errors", c.errorCount)
}
