package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
)

// Config holds the cycle geometry, thresholds and hold durations.
type Config struct {
	// Entry is the approach point in front of the cup base.
	Entry r3.Vector
	// Base is where cups are picked up.
	Base r3.Vector
	// Targets are the placement positions, in visiting order.
	Targets []r3.Vector
	// StartIndex skips already placed targets when resuming by hand.
	StartIndex int

	// Guards.
	EntryTolerance  float64 // m, robot to entry (ground plane)
	AlignTolerance  float64 // degrees, heading to base
	BaseReach       float64 // m, manipulator to base
	CoarseReach     float64 // m, manipulator to target (3D)
	FineReach       float64 // m, manipulator to target (ground plane)
	TransitEpsilon  float64 // steering precision radius toward the entry
	ApproachEpsilon float64 // steering precision radius toward the base

	// Holds.
	AlignHold       time.Duration
	PickupSettle    time.Duration
	ReachHold       time.Duration
	GripHold        time.Duration
	BackOffHold     time.Duration
	TurnAwayHold    time.Duration
	ReleaseHold     time.Duration
	RetreatHold     time.Duration
	RetreatTurnHold time.Duration

	// StallWarnAfter logs a warning once when a guard has been pending
	// this long. Zero disables it.
	StallWarnAfter time.Duration
}

// DefaultConfig returns the tuned thresholds and holds. Geometry is left
// for the caller.
func DefaultConfig() Config {
	return Config{
		EntryTolerance:  0.03,
		AlignTolerance:  4,
		BaseReach:       0.026,
		CoarseReach:     0.55,
		FineReach:       0.0015,
		TransitEpsilon:  0.03,
		ApproachEpsilon: 0.25,

		AlignHold:       700 * time.Millisecond,
		PickupSettle:    500 * time.Millisecond,
		ReachHold:       1300 * time.Millisecond,
		GripHold:        800 * time.Millisecond,
		BackOffHold:     time.Second,
		TurnAwayHold:    time.Second,
		ReleaseHold:     800 * time.Millisecond,
		RetreatHold:     2 * time.Second,
		RetreatTurnHold: time.Second,

		StallWarnAfter: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.StartIndex < 0 || c.StartIndex > len(c.Targets) {
		errs = append(errs, fmt.Errorf("start index %d outside [0, %d]", c.StartIndex, len(c.Targets)))
	}
	for name, v := range map[string]float64{
		"entry tolerance": c.EntryTolerance,
		"align tolerance": c.AlignTolerance,
		"base reach":      c.BaseReach,
		"coarse reach":    c.CoarseReach,
		"fine reach":      c.FineReach,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}
	if c.FineReach >= c.CoarseReach {
		errs = append(errs, fmt.Errorf("fine reach %v must be below coarse reach %v", c.FineReach, c.CoarseReach))
	}
	return errors.Join(errs...)
}
