// Package battery converts the divided battery voltage on an analog pin to
// the pack voltage and smooths it into a speed compensation factor.
package battery

import (
	"fmt"

	"github.com/teslashibe/go-cupbot/pkg/bus"
)

// Voltage divider and pack constants.
const (
	RTop    = 4700.0 // ohms, battery side
	RBottom = 330.0  // ohms, ground side

	// NominalVoltage is a fully charged 3S pack.
	NominalVoltage = 12.6
	// FloorVoltage is where compensation reaches its maximum.
	FloorVoltage = 10.5
	// SeedVoltage fills the buffer before the first reading.
	SeedVoltage = 11.8

	// BufferSize is the number of samples averaged.
	BufferSize = 64

	// MinFactor is applied at or above NominalVoltage; 1.0 at or below FloorVoltage.
	MinFactor = 0.9
)

// DividerRatio scales the pin reading back to pack voltage.
const DividerRatio = (RTop + RBottom) / RBottom

// Sense reads the pack voltage through an analog pin.
type Sense struct {
	pin bus.AnalogPin
}

// NewSense acquires the analog pin with the given refresh interval.
func NewSense(task bus.Cotask, pin bus.Pin, refreshMs uint32) (*Sense, error) {
	a, err := task.CreateAnalogPin(pin, refreshMs)
	if err != nil {
		return nil, fmt.Errorf("battery pin %s: %w", pin, err)
	}
	return &Sense{pin: a}, nil
}

// Voltage returns the pack voltage.
func (s *Sense) Voltage() (float64, error) {
	raw, err := s.pin.Value()
	if err != nil {
		return 0, err
	}
	return raw * DividerRatio, nil
}

// Close releases the pin.
func (s *Sense) Close() error {
	return s.pin.Close()
}

// Compensation returns the wheel speed factor for an averaged pack voltage:
// 0.9 on a full pack rising linearly to 1.0 at the floor voltage.
func Compensation(avg float64) float64 {
	x := (NominalVoltage - avg) / (NominalVoltage - FloorVoltage)
	if x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}
	return MinFactor + (1-MinFactor)*x
}
