package board

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/battery"
	"github.com/teslashibe/go-cupbot/pkg/bus"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/motor"
)

// State is the session lifecycle.
type State int

const (
	NoSession State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Manager owns at most one task session and the pins created in it.
// Failures are logged and leave the manager in NoSession; callers only
// observe State.
type Manager struct {
	net    bus.NetworkRef
	lib    bus.Library
	cfg    Config
	logger *slog.Logger

	// mu guards everything below; the control loop and the dashboard both
	// read session state.
	mu        sync.Mutex
	state     State
	node      bus.NodeHandle
	bound     bool
	task      bus.Cotask
	left      *motor.Motor
	right     *motor.Motor
	fan       bus.OutputPin
	battery   *battery.Sense
	fanOn     bool
	frequency uint32
	updateID  uint32
	seenID    bool
	idleTicks uint32
}

// NewManager creates a manager. It does nothing until OnTopologyChanged or
// Tick is called. A nil net is logged and leaves the manager inert.
func NewManager(net bus.NetworkRef, lib bus.Library, cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{
		net:       net,
		lib:       lib,
		cfg:       cfg,
		logger:    log.OrDefault(logger).With("component", "board"),
		frequency: cfg.Frequency,
	}
	if net == nil {
		m.logger.Error("network reference is missing, board disabled")
	}
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Node returns the bound node, if any.
func (m *Manager) Node() (bus.NodeHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.node, m.bound
}

// Frequency returns the PWM carrier used for new motor pins.
func (m *Manager) Frequency() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frequency
}

// =============================================================================
// Topology
// =============================================================================

// OnTopologyChanged reacts to nodes appearing or disappearing.
func (m *Manager) OnTopologyChanged() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTopologyChanged()
}

func (m *Manager) onTopologyChanged() {
	if m.task != nil {
		if m.task.IsFinished() {
			m.logger.Info("task finished, closing session", "node", m.node)
			m.stop()
		}
		return
	}

	net := m.native()
	if net == nil {
		return
	}
	node, ok := m.findNode(net)
	if !ok {
		return
	}
	m.start(net, node)
}

// Tick polls the network for topology changes and drops a session whose
// task has finished. Without a session it re-attempts the bind every
// RetryTicks ticks, so a failed start or rebuild recovers on its own.
// Call it once per control tick.
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	net := m.native()
	if net != nil {
		id := net.UpdateID()
		if !m.seenID || id != m.updateID {
			m.seenID = true
			m.updateID = id
			m.idleTicks = 0
			m.onTopologyChanged()
			return
		}
	}
	if m.task != nil {
		if m.task.IsFinished() {
			m.logger.Info("task finished, closing session", "node", m.node)
			m.stop()
		}
		return
	}
	if net == nil {
		return
	}
	m.idleTicks++
	if m.idleTicks < m.cfg.RetryTicks {
		return
	}
	m.idleTicks = 0
	m.onTopologyChanged()
}

func (m *Manager) native() bus.Network {
	if m.net == nil {
		return nil
	}
	return m.net.Native()
}

// findNode returns the first idle supported node whose tag matches.
func (m *Manager) findNode(net bus.Network) (bus.NodeHandle, bool) {
	ctor, err := m.lib.CotaskConstructor()
	if err != nil {
		m.logger.Error("task constructor unavailable", "error", err)
		return 0, false
	}
	defer ctor.Close()

	nodes, err := ctor.FindSupportedNodes(net)
	if err != nil {
		m.logger.Error("find supported nodes", "error", err)
		return 0, false
	}
	for _, n := range nodes {
		if net.NodeStatus(n) != bus.NodeIdle {
			continue
		}
		tag, err := net.NodeStringProperty(n, bus.TagProperty)
		if err != nil {
			m.logger.Debug("node tag unreadable", "node", n, "error", err)
			continue
		}
		if tag == m.cfg.Tag {
			return n, true
		}
	}
	return 0, false
}

// =============================================================================
// Session lifecycle
// =============================================================================

func (m *Manager) start(net bus.Network, node bus.NodeHandle) {
	m.state = Starting
	m.node, m.bound = node, true

	if status := net.NodeStatus(node); status != bus.NodeIdle {
		m.logger.Error("node is not idle", "node", node, "status", status)
		m.state = NoSession
		m.bound = false
		return
	}

	if err := m.open(net, node); err != nil {
		m.logger.Warn("session start failed", "node", node, "error", err)
		m.stop()
		return
	}

	m.state = Active
	m.logger.Info("session active", "node", node, "frequency", m.frequency)
}

// open starts the task and creates every pin. On error the caller stops.
func (m *Manager) open(net bus.Network, node bus.NodeHandle) error {
	ctor, err := m.lib.CotaskConstructor()
	if err != nil {
		return fmt.Errorf("task constructor: %w", err)
	}
	defer ctor.Close()

	task, err := ctor.StartTask(net, node)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	if task == nil {
		return errors.New("start task: no task returned")
	}
	m.task = task

	pins := m.cfg.Pins
	if m.left, err = motor.New(task, pins.Left, m.frequency); err != nil {
		return fmt.Errorf("left motor: %w", err)
	}
	if m.right, err = motor.New(task, pins.Right, m.frequency); err != nil {
		return fmt.Errorf("right motor: %w", err)
	}
	if m.fan, err = task.CreateOutputPin(pins.Fan, bus.Low); err != nil {
		return fmt.Errorf("fan %s: %w", pins.Fan, err)
	}
	m.fanOn = false
	if m.battery, err = battery.NewSense(task, pins.Battery, m.cfg.AnalogRefreshMs); err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	if err := task.Run(); err != nil {
		return fmt.Errorf("run task: %w", err)
	}
	return nil
}

// stop releases the pins in reverse order of acquisition, then the task.
func (m *Manager) stop() {
	m.state = Stopping

	var closers []io.Closer
	if m.battery != nil {
		closers = append(closers, m.battery)
	}
	if m.fan != nil {
		closers = append(closers, m.fan)
	}
	if m.right != nil {
		closers = append(closers, m.right)
	}
	if m.left != nil {
		closers = append(closers, m.left)
	}
	if m.task != nil {
		closers = append(closers, m.task)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			m.logger.Warn("release failed", "error", err)
		}
	}

	m.battery, m.fan, m.right, m.left, m.task = nil, nil, nil, nil, nil
	m.fanOn = false
	m.bound = false
	m.state = NoSession
}

// RecreateMotors rebuilds the session on the same node, picking up the
// current frequency.
func (m *Manager) RecreateMotors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recreate()
}

func (m *Manager) recreate() {
	node, bound := m.node, m.bound
	m.stop()
	if !bound {
		return
	}
	net := m.native()
	if net == nil {
		m.logger.Warn("cannot recreate motors, network gone")
		return
	}
	m.start(net, node)
}

// SetFrequency changes the PWM carrier. An active session is rebuilt when
// the value actually changes.
func (m *Manager) SetFrequency(hz uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hz == m.frequency {
		return
	}
	m.logger.Info("pwm frequency change", "from", m.frequency, "to", hz)
	m.frequency = hz
	if m.state == Active {
		m.recreate()
	}
}

// Close tears down any session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != nil || m.bound {
		m.stop()
	}
	return nil
}

// =============================================================================
// Actuation
// =============================================================================

// Drive writes a wheel command scaled by factor to both motors. Without an
// active session it does nothing.
func (m *Manager) Drive(cmd drive.WheelCommand, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Active {
		return nil
	}
	if err := m.left.Apply(cmd.LeftMode(), cmd.LeftDuty()*factor); err != nil {
		return fmt.Errorf("left motor: %w", err)
	}
	if err := m.right.Apply(cmd.RightMode(), cmd.RightDuty()*factor); err != nil {
		return fmt.Errorf("right motor: %w", err)
	}
	return nil
}

// SetFan switches the suction fan.
func (m *Manager) SetFan(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Active {
		return nil
	}
	state := bus.Low
	if on {
		state = bus.High
	}
	if err := m.fan.SetState(state); err != nil {
		return fmt.Errorf("fan: %w", err)
	}
	m.fanOn = on
	return nil
}

// FanOn reports the last fan state written.
func (m *Manager) FanOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fanOn
}

// Voltage reads the pack voltage. ok is false without an active session or
// on a read error.
func (m *Manager) Voltage() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Active || m.battery == nil {
		return 0, false
	}
	v, err := m.battery.Voltage()
	if err != nil {
		m.logger.Debug("battery read failed", "error", err)
		return 0, false
	}
	return v, true
}
