// Package motor drives one DC motor through an H-bridge: a PWM enable pin
// for speed and two direction pins.
package motor

import (
	"errors"
	"fmt"
	"io"

	"github.com/teslashibe/go-cupbot/pkg/bus"
	"github.com/teslashibe/go-cupbot/pkg/drive"
)

// Pins is the wiring of one H-bridge channel.
type Pins struct {
	Enable bus.Pin `yaml:"enable"`
	In1    bus.Pin `yaml:"in1"`
	In2    bus.Pin `yaml:"in2"`
}

// Motor is a single H-bridge channel bound to a running task.
type Motor struct {
	pins   Pins
	enable bus.PwmPin
	in1    bus.OutputPin
	in2    bus.OutputPin

	mode   drive.Mode
	duty   float64
	closed bool
}

// New acquires the enable pin as PWM at the given frequency (duty 0) and
// both direction pins low. On failure nothing stays acquired.
func New(task bus.Cotask, pins Pins, frequency uint32) (*Motor, error) {
	m := &Motor{pins: pins, mode: drive.Neutral}

	var err error
	if m.enable, err = task.CreatePwmPin(pins.Enable, frequency, 0); err != nil {
		return nil, fmt.Errorf("enable %s: %w", pins.Enable, err)
	}
	if m.in1, err = task.CreateOutputPin(pins.In1, bus.Low); err != nil {
		m.Close()
		return nil, fmt.Errorf("in1 %s: %w", pins.In1, err)
	}
	if m.in2, err = task.CreateOutputPin(pins.In2, bus.Low); err != nil {
		m.Close()
		return nil, fmt.Errorf("in2 %s: %w", pins.In2, err)
	}
	return m, nil
}

// SetMode sets the direction pins.
//
//	Forward: in1 low,  in2 high
//	Reverse: in1 high, in2 low
//	Neutral: both low
func (m *Motor) SetMode(mode drive.Mode) error {
	if m.closed {
		return bus.ErrClosed
	}
	in1, in2 := bus.Low, bus.Low
	switch mode {
	case drive.Forward:
		in2 = bus.High
	case drive.Reverse:
		in1 = bus.High
	case drive.Neutral:
	default:
		return fmt.Errorf("unknown motor mode %v", mode)
	}
	if err := m.in1.SetState(in1); err != nil {
		return fmt.Errorf("in1: %w", err)
	}
	if err := m.in2.SetState(in2); err != nil {
		return fmt.Errorf("in2: %w", err)
	}
	m.mode = mode
	return nil
}

// SetSpeed sets the PWM duty cycle, clamped to [0, 1].
func (m *Motor) SetSpeed(duty float64) error {
	if m.closed {
		return bus.ErrClosed
	}
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	if err := m.enable.SetDuty(duty); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	m.duty = duty
	return nil
}

// Apply sets mode then speed.
func (m *Motor) Apply(mode drive.Mode, duty float64) error {
	if err := m.SetMode(mode); err != nil {
		return err
	}
	return m.SetSpeed(duty)
}

// Mode returns the last mode written.
func (m *Motor) Mode() drive.Mode { return m.mode }

// Duty returns the last duty written.
func (m *Motor) Duty() float64 { return m.duty }

// Pins returns the wiring.
func (m *Motor) Pins() Pins { return m.pins }

// Close releases the pins in reverse order of acquisition. It is safe to
// call more than once.
func (m *Motor) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, c := range []io.Closer{m.in2, m.in1, m.enable} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
