package drive

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-cupbot/pkg/tracking"
)

// Steering constants.
const (
	// FullTurnDegrees is the heading error at which the turn term saturates.
	FullTurnDegrees = 45.0

	// MinApproach is the lowest forward scaling inside the precision radius,
	// so the robot still creeps onto the target.
	MinApproach = 0.15

	// arrived is the planar distance treated as "on the target".
	arrived = 1e-6
)

// Steer maps the robot pose and a target position to wheel speeds.
//
// The forward term follows heading alignment (cos of the error, never
// negative) and is scaled down linearly inside the precision radius
// epsilon. The turn term grows with the heading error and saturates at
// FullTurnDegrees. The result is renormalized so neither wheel exceeds
// unit speed, then scaled by velocity.
func Steer(pose tracking.Pose, target r3.Vector, velocity, epsilon float64) WheelCommand {
	dist := tracking.PlanarDistance(pose.Position, target)
	if dist < arrived {
		return Zero
	}

	errDeg := tracking.HeadingTo(pose, target)
	turn := clamp(errDeg/FullTurnDegrees, -1, 1)

	align := math.Cos(tracking.Radians(errDeg))
	if align < 0 {
		align = 0
	}
	approach := 1.0
	if epsilon > 0 {
		approach = clamp(dist/epsilon, MinApproach, 1)
	}
	fwd := align * approach

	left := fwd + turn
	right := fwd - turn
	if m := math.Max(abs(left), abs(right)); m > 1 {
		left /= m
		right /= m
	}

	return WheelCommand{Left: left, Right: right}.Scale(velocity).Clamp()
}
