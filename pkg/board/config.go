// Package board owns the session with the robot's extension board: it
// binds to the tagged node, creates the motor, fan and battery pins inside
// a running task and tears them down again when the node goes away.
package board

import (
	"github.com/teslashibe/go-cupbot/pkg/bus"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/motor"
)

// PinMap is the board wiring.
type PinMap struct {
	Left    motor.Pins `yaml:"left"`
	Right   motor.Pins `yaml:"right"`
	Fan     bus.Pin    `yaml:"fan"`
	Battery bus.Pin    `yaml:"battery"`
}

// DefaultPinMap is the wiring of the reference robot.
func DefaultPinMap() PinMap {
	return PinMap{
		Left:    motor.Pins{Enable: bus.IO8, In1: bus.IO1, In2: bus.IO2},
		Right:   motor.Pins{Enable: bus.IO5, In1: bus.IO7, In2: bus.IO6},
		Fan:     bus.IOA4,
		Battery: bus.IOA3,
	}
}

// Config configures a Manager.
type Config struct {
	// Tag selects the node: its Tag property must match exactly.
	Tag string `yaml:"tag"`

	Pins PinMap `yaml:"pins"`

	// Frequency is the initial PWM carrier for both motors.
	Frequency uint32 `yaml:"frequency"`

	// AnalogRefreshMs is the battery pin sample interval.
	AnalogRefreshMs uint32 `yaml:"analog_refresh_ms"`

	// RetryTicks is how many ticks without a session pass between bind
	// attempts. Zero retries on every tick.
	RetryTicks uint32 `yaml:"retry_ticks"`
}

// DefaultConfig returns the reference robot's configuration.
func DefaultConfig() Config {
	return Config{
		Tag:             "CupRobot",
		Pins:            DefaultPinMap(),
		Frequency:       drive.DefaultProfile().Frequency,
		AnalogRefreshMs: 10,
		RetryTicks:      25,
	}
}
