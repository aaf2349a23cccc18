package serialbus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-cupbot/pkg/bus"
)

type task struct {
	c      *Client
	node   bus.NodeHandle
	closed bool
}

func stateArg(s bus.PinState) int {
	if s == bus.High {
		return 1
	}
	return 0
}

func dutyArg(d float64) string {
	return strconv.FormatFloat(d, 'f', 4, 64)
}

func (t *task) CreateOutputPin(pin bus.Pin, initial bus.PinState) (bus.OutputPin, error) {
	if err := t.c.expectOK(FlagOutput, pin, stateArg(initial)); err != nil {
		return nil, fmt.Errorf("create output %s: %w", pin, err)
	}
	return &outputPin{pinHandle{c: t.c, pin: pin}}, nil
}

func (t *task) CreatePwmPin(pin bus.Pin, frequency uint32, duty float64) (bus.PwmPin, error) {
	if err := t.c.expectOK(FlagPwm, pin, frequency, dutyArg(duty)); err != nil {
		return nil, fmt.Errorf("create pwm %s: %w", pin, err)
	}
	return &pwmPin{pinHandle{c: t.c, pin: pin}}, nil
}

func (t *task) CreateAnalogPin(pin bus.Pin, refreshMs uint32) (bus.AnalogPin, error) {
	if err := t.c.expectOK(FlagAnalog, pin, refreshMs); err != nil {
		return nil, fmt.Errorf("create analog %s: %w", pin, err)
	}
	return &analogPin{pinHandle{c: t.c, pin: pin}}, nil
}

func (t *task) Run() error {
	return t.c.expectOK(FlagRun)
}

// IsFinished asks the bridge; a failed query counts as finished so the
// session gets torn down.
func (t *task) IsFinished() bool {
	if t.closed {
		return true
	}
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	line, err := t.c.exchange(FlagFinished, "?")
	if err != nil {
		t.c.logger.Warn("finished query failed", "node", t.node, "error", err)
		return true
	}
	return strings.TrimSpace(line) != "F 0"
}

func (t *task) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.c.expectOK(FlagStop)
}

type pinHandle struct {
	c      *Client
	pin    bus.Pin
	closed bool
}

func (h *pinHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.c.expectOK(FlagClosePin, h.pin)
}

type outputPin struct{ pinHandle }

func (p *outputPin) SetState(s bus.PinState) error {
	if p.closed {
		return bus.ErrClosed
	}
	return p.c.expectOK(FlagWrite, p.pin, stateArg(s))
}

type pwmPin struct{ pinHandle }

func (p *pwmPin) SetDuty(duty float64) error {
	if p.closed {
		return bus.ErrClosed
	}
	return p.c.expectOK(FlagDuty, p.pin, dutyArg(duty))
}

type analogPin struct{ pinHandle }

func (p *analogPin) Value() (float64, error) {
	if p.closed {
		return 0, bus.ErrClosed
	}
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	line, err := p.c.exchange(FlagRead, p.pin)
	if err != nil {
		return 0, err
	}
	f := strings.Fields(line)
	if len(f) != 2 || f[0] != "V" {
		return 0, fmt.Errorf("bad analog reply %q", line)
	}
	return strconv.ParseFloat(f[1], 64)
}

var _ bus.Cotask = (*task)(nil)
