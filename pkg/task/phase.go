// Package task sequences the pick-and-place cycle: drive to the cup base,
// align, grab, carry the cup to its target, place it and back away, once per
// target position.
//
// The sequencer is a tick-driven state machine. Each step has entry actions,
// and leaves either when a guard on the tracked pose holds or when a stored
// deadline passes. Nothing blocks; the control loop calls Tick every frame.
package task

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// Phase is the motion primitive the control loop should execute.
type Phase int

const (
	MovingToCup Phase = iota
	MovingToPlaceCup
	TurningRight
	TurningLeft
	Stop
	ReverseMove
	ForwardMove
)

var phaseNames = [...]string{
	MovingToCup:      "moving_to_cup",
	MovingToPlaceCup: "moving_to_place_cup",
	TurningRight:     "turning_right",
	TurningLeft:      "turning_left",
	Stop:             "stop",
	ReverseMove:      "reverse_move",
	ForwardMove:      "forward_move",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Steers reports whether the phase follows a target with the steering model.
func (p Phase) Steers() bool {
	return p == MovingToCup || p == MovingToPlaceCup
}

// EventKind names a task event.
type EventKind string

const (
	EventCycleStarted EventKind = "cycle_started"
	EventCupTaken     EventKind = "cup_taken"
	EventCupPlaced    EventKind = "cup_placed"
	EventFinished     EventKind = "finished"
	EventCancelled    EventKind = "cancelled"
)

// Event is emitted at cycle milestones. For EventCupPlaced, Position is
// where the manipulator released the cup.
type Event struct {
	ID       uuid.UUID
	Kind     EventKind
	Index    int
	Position r3.Vector
	At       time.Time
}

// Notifier receives task events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f.
func (f NotifierFunc) Notify(e Event) { f(e) }

// FanController switches the suction fan.
type FanController interface {
	SetFan(on bool) error
}

// FrequencySetter receives the PWM carrier of the selected speed profile.
type FrequencySetter interface {
	SetFrequency(hz uint32)
}
