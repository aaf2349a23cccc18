// Package robot runs the cup robot's control loop.
//
// This package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces over the hardware board. Consumers should depend
// only on the interfaces they actually use.
package robot

import (
	"github.com/teslashibe/go-cupbot/pkg/board"
	"github.com/teslashibe/go-cupbot/pkg/drive"
)

// Drive writes wheel commands to the motors.
// factor scales both duties (battery compensation).
type Drive interface {
	Drive(cmd drive.WheelCommand, factor float64) error
}

// FanController switches the suction fan.
type FanController interface {
	SetFan(on bool) error
	FanOn() bool
}

// VoltageSensor reads the pack voltage. ok is false when no reading is
// available.
type VoltageSensor interface {
	Voltage() (volts float64, ok bool)
}

// SessionTicker lets the bus session react to task completion and retry
// binding.
type SessionTicker interface {
	Tick()
	State() board.State
}

// FrequencySetter changes the PWM carrier of the motors.
type FrequencySetter interface {
	SetFrequency(hz uint32)
}

// Board is the composite interface the control loop drives.
type Board interface {
	Drive
	FanController
	VoltageSensor
	SessionTicker
	FrequencySetter
	Close() error
}

// Ensure board.Manager implements Board
var _ Board = (*board.Manager)(nil)
