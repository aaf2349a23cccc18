package drive

import (
	"fmt"
	"strings"
)

// SpeedProfile pairs a PWM carrier frequency with a base velocity multiplier.
// The frequency is fixed when the PWM pins are created, so switching to a
// profile with another frequency rebuilds the motor pins.
type SpeedProfile struct {
	Name      string
	Frequency uint32  // PWM carrier, Hz
	Velocity  float64 // Base velocity multiplier, 0-1
}

// DefaultProfile is used for transit and the timed manoeuvres.
func DefaultProfile() SpeedProfile {
	return SpeedProfile{Name: "default", Frequency: 10000, Velocity: 0.89}
}

// MediumProfile is used while aligning with and approaching the base.
func MediumProfile() SpeedProfile {
	return SpeedProfile{Name: "medium", Frequency: 10000, Velocity: 0.815}
}

// SlowProfile is used for fine placement. The low carrier gives the motors
// enough torque to creep.
func SlowProfile() SpeedProfile {
	return SpeedProfile{Name: "slow", Frequency: 20, Velocity: 0.128}
}

// ProfileByName returns one of the presets.
func ProfileByName(name string) (SpeedProfile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "default", "":
		return DefaultProfile(), nil
	case "medium":
		return MediumProfile(), nil
	case "slow":
		return SlowProfile(), nil
	default:
		return SpeedProfile{}, fmt.Errorf("unknown speed profile %q", name)
	}
}

// Fixed wheel commands for the timed manoeuvres.
const (
	TurnSpeed     = 0.8
	ForwardFactor = 0.95
	ReverseFactor = 0.8
)

// TurnRight pivots clockwise: left wheel forward, right wheel reverse.
func TurnRight() WheelCommand {
	return WheelCommand{Left: TurnSpeed, Right: -TurnSpeed}
}

// TurnLeft pivots counter-clockwise.
func TurnLeft() WheelCommand {
	return WheelCommand{Left: -TurnSpeed, Right: TurnSpeed}
}

// Straight drives both wheels forward at 0.95 of the profile velocity.
func Straight(velocity float64) WheelCommand {
	v := ForwardFactor * velocity
	return WheelCommand{Left: v, Right: v}
}

// Back drives both wheels in reverse at 0.8 of the profile velocity.
func Back(velocity float64) WheelCommand {
	v := -ReverseFactor * velocity
	return WheelCommand{Left: v, Right: v}
}
