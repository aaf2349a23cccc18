package tracking

import (
	"math"

	"github.com/golang/geo/r3"
)

// Degrees converts radians to degrees.
func Degrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// Radians converts degrees to radians.
func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// NormalizeDegrees wraps an angle into (-180, 180].
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg <= -180 {
		deg += 360
	} else if deg > 180 {
		deg -= 360
	}
	return deg
}

// Forward returns the unit forward vector on the ground plane for a yaw.
func Forward(yaw float64) r3.Vector {
	return r3.Vector{X: math.Sin(yaw), Z: math.Cos(yaw)}
}

// Bearing returns the yaw, in radians, that faces along v on the ground plane.
func Bearing(v r3.Vector) float64 {
	return math.Atan2(v.X, v.Z)
}

// Planar drops the vertical component.
func Planar(v r3.Vector) r3.Vector {
	return r3.Vector{X: v.X, Z: v.Z}
}

// PlanarDistance is the X/Z distance between two points.
func PlanarDistance(a, b r3.Vector) float64 {
	return Planar(a.Sub(b)).Norm()
}

// HeadingError is the signed angle in degrees, in (-180, 180], from the
// robot's forward axis to the direction dir. Positive means dir lies to
// the right.
func HeadingError(yaw float64, dir r3.Vector) float64 {
	return NormalizeDegrees(Degrees(Bearing(dir) - yaw))
}

// HeadingTo is HeadingError toward a target point.
func HeadingTo(p Pose, target r3.Vector) float64 {
	return HeadingError(p.Yaw, target.Sub(p.Position))
}
