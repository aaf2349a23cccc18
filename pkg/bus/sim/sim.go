// Package sim is an in-memory hardware bus. It records every pin write so
// tests and dry runs can observe what the robot would do on real hardware.
package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/teslashibe/go-cupbot/pkg/bus"
)

type node struct {
	tag    string
	status bus.NodeStatus
}

type pinRecord struct {
	kind      string // output, pwm, analog
	state     bus.PinState
	duty      float64
	frequency uint32
	refreshMs uint32
	writes    int
}

// Bus is a simulated network, task library and extension board in one.
type Bus struct {
	mu sync.Mutex

	detached bool
	updateID uint32
	nextNode bus.NodeHandle
	nodes    map[bus.NodeHandle]*node

	task    *task
	pins    map[bus.Pin]*pinRecord
	analog  map[bus.Pin]float64
	journal []string

	constructorsOpen int
	tasksStarted     int

	// Failure injection.
	failPins  map[bus.Pin]error
	failStart error
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		nextNode: 1,
		nodes:    make(map[bus.NodeHandle]*node),
		pins:     make(map[bus.Pin]*pinRecord),
		analog:   make(map[bus.Pin]float64),
		failPins: make(map[bus.Pin]error),
	}
}

// =============================================================================
// Topology
// =============================================================================

// AddNode attaches an idle node carrying the given tag.
func (b *Bus) AddNode(tag string) bus.NodeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.nextNode
	b.nextNode++
	b.nodes[h] = &node{tag: tag, status: bus.NodeIdle}
	b.updateID++
	return h
}

// RemoveNode detaches a node. A task running on it finishes.
func (b *Bus) RemoveNode(h bus.NodeHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, h)
	if b.task != nil && b.task.node == h {
		b.task.finished = true
	}
	b.updateID++
}

// SetNodeStatus overrides a node's status.
func (b *Bus) SetNodeStatus(h bus.NodeHandle, s bus.NodeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.nodes[h]; ok {
		n.status = s
		b.updateID++
	}
}

// Detach makes Native return nil, as when no network exists.
func (b *Bus) Detach(detached bool) {
	b.mu.Lock()
	b.detached = detached
	b.mu.Unlock()
}

// FinishTask marks the running task finished, as when its node disconnects.
func (b *Bus) FinishTask() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.task != nil {
		b.task.finished = true
	}
}

// FailPin makes creation of pin fail with err. A nil err clears it.
func (b *Bus) FailPin(pin bus.Pin, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failPins, pin)
		return
	}
	b.failPins[pin] = err
}

// FailStart makes StartTask fail with err. A nil err clears it.
func (b *Bus) FailStart(err error) {
	b.mu.Lock()
	b.failStart = err
	b.mu.Unlock()
}

// SetAnalog sets the raw value returned by an analog pin.
func (b *Bus) SetAnalog(pin bus.Pin, v float64) {
	b.mu.Lock()
	b.analog[pin] = v
	b.mu.Unlock()
}

// =============================================================================
// Observation
// =============================================================================

// Output returns the level of an open output pin.
func (b *Bus) Output(pin bus.Pin) (bus.PinState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.pins[pin]
	if !ok || r.kind != "output" {
		return bus.Low, false
	}
	return r.state, true
}

// Duty returns the duty cycle and frequency of an open PWM pin.
func (b *Bus) Duty(pin bus.Pin) (duty float64, frequency uint32, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.pins[pin]
	if !ok || r.kind != "pwm" {
		return 0, 0, false
	}
	return r.duty, r.frequency, true
}

// OpenPins lists the pins currently held, sorted.
func (b *Bus) OpenPins() []bus.Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Pin, 0, len(b.pins))
	for p := range b.pins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CountPins returns how many open pins are of the given kind.
func (b *Bus) CountPins(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.pins {
		if r.kind == kind {
			n++
		}
	}
	return n
}

// Journal returns the ordered acquire/release log, e.g. "open pwm IO8",
// "close IO8", "close task".
func (b *Bus) Journal() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.journal...)
}

// ResetJournal clears the acquire/release log.
func (b *Bus) ResetJournal() {
	b.mu.Lock()
	b.journal = nil
	b.mu.Unlock()
}

// TaskRunning reports whether a task is open.
func (b *Bus) TaskRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.task != nil
}

// TasksStarted counts successful StartTask calls.
func (b *Bus) TasksStarted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tasksStarted
}

// ConstructorsOpen counts task constructors not yet closed.
func (b *Bus) ConstructorsOpen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.constructorsOpen
}

func (b *Bus) logf(format string, args ...any) {
	b.journal = append(b.journal, fmt.Sprintf(format, args...))
}

// =============================================================================
// bus.NetworkRef / bus.Network
// =============================================================================

// Native implements bus.NetworkRef.
func (b *Bus) Native() bus.Network {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return nil
	}
	return b
}

// UpdateID implements bus.Network.
func (b *Bus) UpdateID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateID
}

// NodeStatus implements bus.Network.
func (b *Bus) NodeStatus(h bus.NodeHandle) bus.NodeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[h]
	if !ok {
		return bus.NodeInvalid
	}
	return n.status
}

// NodeStringProperty implements bus.Network.
func (b *Bus) NodeStringProperty(h bus.NodeHandle, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[h]
	if !ok {
		return "", bus.ErrUnknownNode
	}
	if key != bus.TagProperty {
		return "", fmt.Errorf("sim: no property %q", key)
	}
	return n.tag, nil
}

// =============================================================================
// bus.Library / bus.CotaskConstructor
// =============================================================================

// CotaskConstructor implements bus.Library.
func (b *Bus) CotaskConstructor() (bus.CotaskConstructor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.constructorsOpen++
	return &constructor{bus: b}, nil
}

// Close implements bus.Library.
func (b *Bus) Close() error {
	return nil
}

type constructor struct {
	bus    *Bus
	closed bool
}

func (c *constructor) FindSupportedNodes(net bus.Network) ([]bus.NodeHandle, error) {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.NodeHandle, 0, len(b.nodes))
	for h := range b.nodes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (c *constructor) StartTask(net bus.Network, h bus.NodeHandle) (bus.Cotask, error) {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failStart != nil {
		return nil, b.failStart
	}
	n, ok := b.nodes[h]
	if !ok {
		return nil, bus.ErrUnknownNode
	}
	if n.status != bus.NodeIdle || b.task != nil {
		return nil, bus.ErrNodeNotIdle
	}
	n.status = bus.NodeRunning
	b.task = &task{bus: b, node: h}
	b.tasksStarted++
	b.logf("start task %d", h)
	return b.task, nil
}

func (c *constructor) Close() error {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.closed {
		c.closed = true
		b.constructorsOpen--
	}
	return nil
}
