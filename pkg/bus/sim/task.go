package sim

import (
	"github.com/teslashibe/go-cupbot/pkg/bus"
)

type task struct {
	bus      *Bus
	node     bus.NodeHandle
	running  bool
	finished bool
	closed   bool
}

func (t *task) claim(pin bus.Pin, rec *pinRecord) error {
	b := t.bus
	if t.closed {
		return bus.ErrClosed
	}
	if t.finished {
		return bus.ErrTaskFinished
	}
	if err := b.failPins[pin]; err != nil {
		return err
	}
	if _, taken := b.pins[pin]; taken {
		return bus.ErrPinInUse
	}
	b.pins[pin] = rec
	b.logf("open %s %s", rec.kind, pin)
	return nil
}

func (t *task) CreateOutputPin(pin bus.Pin, initial bus.PinState) (bus.OutputPin, error) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	if err := t.claim(pin, &pinRecord{kind: "output", state: initial}); err != nil {
		return nil, err
	}
	return &outputPin{handle{bus: t.bus, pin: pin}}, nil
}

func (t *task) CreatePwmPin(pin bus.Pin, frequency uint32, duty float64) (bus.PwmPin, error) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	if err := t.claim(pin, &pinRecord{kind: "pwm", frequency: frequency, duty: duty}); err != nil {
		return nil, err
	}
	return &pwmPin{handle{bus: t.bus, pin: pin}}, nil
}

func (t *task) CreateAnalogPin(pin bus.Pin, refreshMs uint32) (bus.AnalogPin, error) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	if err := t.claim(pin, &pinRecord{kind: "analog", refreshMs: refreshMs}); err != nil {
		return nil, err
	}
	return &analogPin{handle{bus: t.bus, pin: pin}}, nil
}

func (t *task) Run() error {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	if t.closed {
		return bus.ErrClosed
	}
	t.running = true
	t.bus.logf("run task %d", t.node)
	return nil
}

func (t *task) IsFinished() bool {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	return t.finished || t.closed
}

func (t *task) Close() error {
	b := t.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if n, ok := b.nodes[t.node]; ok {
		n.status = bus.NodeIdle
	}
	if b.task == t {
		b.task = nil
	}
	b.logf("close task")
	return nil
}

// handle is the shared part of every simulated pin.
type handle struct {
	bus    *Bus
	pin    bus.Pin
	closed bool
}

// record returns the pin's record; the caller holds the bus lock.
func (h *handle) record() (*pinRecord, error) {
	if h.closed {
		return nil, bus.ErrClosed
	}
	r, ok := h.bus.pins[h.pin]
	if !ok {
		return nil, bus.ErrClosed
	}
	return r, nil
}

func (h *handle) Close() error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	delete(h.bus.pins, h.pin)
	h.bus.logf("close %s", h.pin)
	return nil
}

type outputPin struct{ handle }

func (p *outputPin) SetState(s bus.PinState) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	r, err := p.record()
	if err != nil {
		return err
	}
	r.state = s
	r.writes++
	return nil
}

type pwmPin struct{ handle }

func (p *pwmPin) SetDuty(duty float64) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	r, err := p.record()
	if err != nil {
		return err
	}
	r.duty = duty
	r.writes++
	return nil
}

type analogPin struct{ handle }

func (p *analogPin) Value() (float64, error) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if _, err := p.record(); err != nil {
		return 0, err
	}
	return p.bus.analog[p.pin], nil
}

var (
	_ bus.Library    = (*Bus)(nil)
	_ bus.NetworkRef = (*Bus)(nil)
	_ bus.Network    = (*Bus)(nil)
	_ bus.Cotask     = (*task)(nil)
)
