package protocol

import (
	"github.com/golang/geo/r3"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewPoseMessage creates a pose sample message
func NewPoseMessage(pose PoseData) (*Message, error) {
	return NewMessage(TypePose, pose)
}

// NewStatusMessage creates a status message
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewEventMessage creates a task event message
func NewEventMessage(event EventData) (*Message, error) {
	return NewMessage(TypeEvent, event)
}

// NewKeysMessage creates a teleoperation keys message
func NewKeysMessage(keys ...string) (*Message, error) {
	if keys == nil {
		keys = []string{}
	}
	return NewMessage(TypeKeys, KeysData{Keys: keys})
}

// NewPingMessage creates a ping message
func NewPingMessage() (*Message, error) {
	return NewMessage(TypePing, nil)
}

// NewPongMessage creates a pong message
func NewPongMessage() (*Message, error) {
	return NewMessage(TypePong, nil)
}

// =============================================================================
// Vector conversion
// =============================================================================

// Vec converts a wire triple to a vector.
func Vec(v [3]float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// Triple converts a vector to its wire form.
func Triple(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
