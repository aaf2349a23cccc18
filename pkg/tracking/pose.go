// Package tracking provides the robot's view of the external positional
// tracker: pose samples, tracking stability and the providers that deliver
// them to the control loop.
package tracking

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/geo/r3"
)

// Stage is the tracker's confidence stage for a sample.
type Stage int

const (
	StageInactive Stage = iota
	Stage3Dof
	Stage6Dof
	StageBlind6Dof
)

var stageNames = map[Stage]string{
	StageInactive:  "inactive",
	Stage3Dof:      "3dof",
	Stage6Dof:      "6dof",
	StageBlind6Dof: "blind6dof",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage accepts the names produced by String.
func ParseStage(s string) (Stage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for stage, name := range stageNames {
		if name == s {
			return stage, nil
		}
	}
	return StageInactive, fmt.Errorf("unknown tracking stage %q", s)
}

// Stability describes how trustworthy the latest sample is.
type Stability struct {
	Stage Stage
	Value float64
}

// Valid reports whether the sample is full optical 6-DOF tracking.
// Motion is only allowed on valid samples.
func (s Stability) Valid() bool {
	return s.Stage == Stage6Dof
}

// Pose is a planar robot pose. Position is in metres (Y up), Yaw in
// radians about Y, positive turning right seen from above.
type Pose struct {
	Position r3.Vector
	Yaw      float64
}

// Sample is one tracker reading for the robot body and its manipulator.
type Sample struct {
	Pose        Pose
	Manipulator r3.Vector
	Stability   Stability
	At          time.Time
}

// Provider delivers the latest tracking sample. ok is false until the first
// sample has arrived.
type Provider interface {
	Latest() (sample Sample, ok bool)
}
