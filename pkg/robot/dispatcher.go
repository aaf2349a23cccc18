package robot

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-cupbot/pkg/battery"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/task"
	"github.com/teslashibe/go-cupbot/pkg/tracking"
)

// ControlMode selects who drives the wheels.
type ControlMode int

const (
	Teleop ControlMode = iota
	Autonomous
)

func (m ControlMode) String() string {
	switch m {
	case Teleop:
		return "teleop"
	case Autonomous:
		return "autonomous"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseControlMode accepts "teleop" or "autonomous" (case-insensitive).
func ParseControlMode(s string) (ControlMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "teleop", "manual":
		return Teleop, nil
	case "autonomous", "auto":
		return Autonomous, nil
	}
	return Teleop, fmt.Errorf("unknown control mode %q", s)
}

// Output is one tick's actuation.
type Output struct {
	Command drive.WheelCommand
	Factor  float64

	// Fan is only applied when FanSet; in autonomous mode the sequencer
	// owns the fan.
	Fan    bool
	FanSet bool
}

// Dispatcher maps the current mode, sequencer phase, tracking sample and
// pressed keys to a wheel command. It holds no state of its own besides
// the battery buffer it reads and the teleop profile.
type Dispatcher struct {
	Battery *battery.Buffer
	Teleop  drive.SpeedProfile
}

// Step computes the command for one control tick.
func (d *Dispatcher) Step(mode ControlMode, snap task.Snapshot, sample tracking.Sample, keys drive.Keys) Output {
	if mode == Teleop {
		return Output{
			Command: drive.Chord(keys).Scale(d.Teleop.Velocity),
			Factor:  1,
			Fan:     keys.Has(drive.KeyFan),
			FanSet:  true,
		}
	}

	out := Output{Command: drive.Zero, Factor: d.compensation()}
	if !snap.Moving || !sample.Stability.Valid() {
		return out
	}

	v := snap.Profile.Velocity
	switch snap.Phase {
	case task.MovingToCup, task.MovingToPlaceCup:
		if snap.HasTarget {
			out.Command = drive.Steer(sample.Pose, snap.Target, v, snap.Epsilon)
		}
	case task.TurningRight:
		out.Command = drive.TurnRight()
	case task.TurningLeft:
		out.Command = drive.TurnLeft()
	case task.ForwardMove:
		out.Command = drive.Straight(v)
	case task.ReverseMove:
		out.Command = drive.Back(v)
	}
	return out
}

func (d *Dispatcher) compensation() float64 {
	if d.Battery == nil {
		return 1
	}
	return d.Battery.Compensation()
}
