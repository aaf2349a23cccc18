// Package drive holds the differential-drive vocabulary shared by the
// controllers: wheel commands, motor modes, speed profiles, the steering
// model and the teleoperation chord table.
package drive

import "fmt"

// Mode is the direction a motor driver is set to.
type Mode int

const (
	Neutral Mode = iota
	Forward
	Reverse
)

func (m Mode) String() string {
	switch m {
	case Neutral:
		return "neutral"
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeOf returns the mode for a signed wheel speed.
func ModeOf(speed float64) Mode {
	switch {
	case speed > 0:
		return Forward
	case speed < 0:
		return Reverse
	default:
		return Neutral
	}
}

// WheelCommand is a pair of signed wheel speeds in [-1, 1].
type WheelCommand struct {
	Left  float64
	Right float64
}

// Zero stops both wheels.
var Zero = WheelCommand{}

// LeftMode returns the direction of the left wheel.
func (c WheelCommand) LeftMode() Mode { return ModeOf(c.Left) }

// RightMode returns the direction of the right wheel.
func (c WheelCommand) RightMode() Mode { return ModeOf(c.Right) }

// LeftDuty returns the left PWM duty cycle in [0, 1].
func (c WheelCommand) LeftDuty() float64 { return clamp(abs(c.Left), 0, 1) }

// RightDuty returns the right PWM duty cycle in [0, 1].
func (c WheelCommand) RightDuty() float64 { return clamp(abs(c.Right), 0, 1) }

// Scale multiplies both wheels by f.
func (c WheelCommand) Scale(f float64) WheelCommand {
	return WheelCommand{Left: c.Left * f, Right: c.Right * f}
}

// Clamp limits both wheels to [-1, 1].
func (c WheelCommand) Clamp() WheelCommand {
	return WheelCommand{Left: clamp(c.Left, -1, 1), Right: clamp(c.Right, -1, 1)}
}

// IsZero reports whether both wheels are stopped.
func (c WheelCommand) IsZero() bool {
	return c.Left == 0 && c.Right == 0
}

func (c WheelCommand) String() string {
	return fmt.Sprintf("(%.3f, %.3f)", c.Left, c.Right)
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
