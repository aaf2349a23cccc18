package task

import (
	"log/slog"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/checkpoint"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/tracking"
)

// step is a node of the cycle state machine.
type step int

const (
	stepIdle           step = iota // before the first tick
	stepApproachEntry              // steer to the entry point
	stepAlign                      // pivot to face the base
	stepAlignHold                  // settle after aligning
	stepApproachBase               // steer until the manipulator reaches the base
	stepPickupSettle               // settle at the base
	stepReach                      // push forward under the cup
	stepGrip                       // fan on, keep pushing
	stepBackOff                    // reverse out with the cup
	stepTurnAway                   // pivot away from the base
	stepCoarseApproach             // steer toward the target
	stepFineApproach               // creep until exactly above the target
	stepRelease                    // fan off, let go
	stepRetreat                    // reverse away from the placed cup
	stepRetreatTurn                // pivot before the next cycle
	stepDone                       // all targets placed or cancelled
)

var stepNames = [...]string{
	stepIdle:           "idle",
	stepApproachEntry:  "approach_entry",
	stepAlign:          "align",
	stepAlignHold:      "align_hold",
	stepApproachBase:   "approach_base",
	stepPickupSettle:   "pickup_settle",
	stepReach:          "reach",
	stepGrip:           "grip",
	stepBackOff:        "back_off",
	stepTurnAway:       "turn_away",
	stepCoarseApproach: "coarse_approach",
	stepFineApproach:   "fine_approach",
	stepRelease:        "release",
	stepRetreat:        "retreat",
	stepRetreatTurn:    "retreat_turn",
	stepDone:           "done",
}

func (s step) String() string { return stepNames[s] }

// Input is the tracking state the guards look at.
type Input struct {
	Pose        tracking.Pose
	Manipulator r3.Vector
}

// Snapshot is what the control loop and dashboards read after a tick.
type Snapshot struct {
	Phase     Phase
	Step      string
	Index     int
	Count     int
	Target    r3.Vector
	HasTarget bool
	Epsilon   float64
	Profile   drive.SpeedProfile
	Moving    bool
	Done      bool
}

// Deps are the sequencer's collaborators. Nil members are skipped.
type Deps struct {
	Store     checkpoint.Store
	Fan       FanController
	Frequency FrequencySetter
	Notifier  Notifier
	Logger    *slog.Logger
}

// Sequencer runs the pick-and-place cycle. It is not safe for concurrent
// use; the control loop owns it.
type Sequencer struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	newID  func() uuid.UUID

	step      step
	phase     Phase
	index     int
	target    r3.Vector
	hasTarget bool
	epsilon   float64
	profile   drive.SpeedProfile
	moving    bool
	done      bool

	entered     time.Time
	deadline    time.Time
	alignDir    r3.Vector
	stallWarned bool
}

// New creates a sequencer positioned before the first cycle, phase Stop.
func New(cfg Config, deps Deps) *Sequencer {
	return &Sequencer{
		cfg:     cfg,
		deps:    deps,
		logger:  log.OrDefault(deps.Logger).With("component", "task"),
		newID:   uuid.New,
		step:    stepIdle,
		phase:   Stop,
		index:   cfg.StartIndex,
		profile: drive.DefaultProfile(),
	}
}

// Tick advances the state machine by at most one step and returns the
// resulting snapshot.
func (s *Sequencer) Tick(now time.Time, in Input) Snapshot {
	switch s.step {
	case stepIdle:
		s.moving = true
		s.logger.Info("sequence started", "targets", len(s.cfg.Targets), "start_index", s.index)
		s.enter(now, in, stepApproachEntry)

	case stepApproachEntry:
		// Planar: the tracked body sits above the floor-level entry point,
		// so height is left out of this guard.
		if tracking.PlanarDistance(in.Pose.Position, s.cfg.Entry) < s.cfg.EntryTolerance {
			s.enter(now, in, stepAlign)
		}

	case stepAlign:
		if math.Abs(tracking.HeadingError(in.Pose.Yaw, s.alignDir)) < s.cfg.AlignTolerance {
			s.enter(now, in, stepAlignHold)
		}

	case stepApproachBase:
		if in.Manipulator.Distance(s.cfg.Base) < s.cfg.BaseReach {
			s.enter(now, in, stepPickupSettle)
		}

	case stepCoarseApproach:
		if in.Manipulator.Distance(s.target) < s.cfg.CoarseReach {
			s.enter(now, in, stepFineApproach)
		}

	case stepFineApproach:
		if tracking.PlanarDistance(in.Manipulator, s.target) < s.cfg.FineReach {
			s.enter(now, in, stepRelease)
		}

	case stepAlignHold, stepPickupSettle, stepReach, stepGrip, stepBackOff,
		stepTurnAway, stepRelease, stepRetreat, stepRetreatTurn:
		if !now.Before(s.deadline) {
			s.enter(now, in, s.next())
		}

	case stepDone:
	}

	s.checkStall(now)
	return s.Snapshot()
}

// next is the successor of a timed step.
func (s *Sequencer) next() step {
	switch s.step {
	case stepAlignHold:
		return stepApproachBase
	case stepPickupSettle:
		return stepReach
	case stepReach:
		return stepGrip
	case stepGrip:
		return stepBackOff
	case stepBackOff:
		return stepTurnAway
	case stepTurnAway:
		return stepCoarseApproach
	case stepRelease:
		return stepRetreat
	case stepRetreat:
		return stepRetreatTurn
	case stepRetreatTurn:
		// Cycle complete.
		s.phase = MovingToCup
		s.setProfile(drive.DefaultProfile())
		s.index++
		return stepApproachEntry
	}
	return stepDone
}

// enter performs the entry actions of st.
func (s *Sequencer) enter(now time.Time, in Input, st step) {
	s.step = st
	s.entered = now
	s.stallWarned = false

	switch st {
	case stepApproachEntry:
		if s.index >= len(s.cfg.Targets) {
			s.finish(now, EventFinished)
			return
		}
		s.epsilon = s.cfg.TransitEpsilon
		s.setTarget(s.cfg.Entry)
		s.phase = MovingToCup
		s.saveCheckpoint(checkpoint.StageBase)
		s.emit(now, EventCycleStarted, s.cfg.Entry)

	case stepAlign:
		s.alignDir = s.cfg.Base.Sub(in.Pose.Position)
		s.setProfile(drive.MediumProfile())
		if tracking.HeadingError(in.Pose.Yaw, s.alignDir) > 0 {
			s.phase = TurningRight
		} else {
			s.phase = TurningLeft
		}

	case stepAlignHold:
		s.phase = Stop
		s.hold(now, s.cfg.AlignHold)

	case stepApproachBase:
		s.epsilon = s.cfg.ApproachEpsilon
		s.phase = MovingToCup
		s.setProfile(drive.MediumProfile())
		s.setTarget(s.cfg.Base)

	case stepPickupSettle:
		s.phase = Stop
		s.hold(now, s.cfg.PickupSettle)

	case stepReach:
		s.setProfile(drive.DefaultProfile())
		s.phase = ForwardMove
		s.hold(now, s.cfg.ReachHold)

	case stepGrip:
		s.emit(now, EventCupTaken, in.Manipulator)
		s.setFan(true)
		s.hold(now, s.cfg.GripHold)

	case stepBackOff:
		s.phase = ReverseMove
		s.hold(now, s.cfg.BackOffHold)

	case stepTurnAway:
		s.phase = TurningRight
		s.hold(now, s.cfg.TurnAwayHold)

	case stepCoarseApproach:
		s.phase = MovingToPlaceCup
		s.setTarget(s.cfg.Targets[s.index])
		s.saveCheckpoint(checkpoint.StagePlacing)

	case stepFineApproach:
		s.setProfile(drive.SlowProfile())
		s.setFan(true)

	case stepRelease:
		s.emit(now, EventCupPlaced, in.Manipulator)
		s.phase = Stop
		s.setFan(false)
		s.hold(now, s.cfg.ReleaseHold)
		s.logger.Info("cup placed", "index", s.index, "position", in.Manipulator)

	case stepRetreat:
		s.setProfile(drive.SlowProfile())
		s.phase = ReverseMove
		s.hold(now, s.cfg.RetreatHold)

	case stepRetreatTurn:
		s.setProfile(drive.DefaultProfile())
		s.phase = TurningRight
		s.hold(now, s.cfg.RetreatTurnHold)

	case stepDone:
		s.finish(now, EventFinished)
	}
}

// Cancel abandons the run: no further guards or holds fire, the phase is
// Stop and the fan is switched off.
func (s *Sequencer) Cancel() {
	if s.done {
		return
	}
	s.logger.Info("sequence cancelled", "index", s.index, "step", s.step)
	s.setFan(false)
	s.finish(time.Now(), EventCancelled)
}

func (s *Sequencer) finish(now time.Time, kind EventKind) {
	s.step = stepDone
	s.phase = Stop
	s.hasTarget = false
	s.moving = false
	s.done = true
	s.deadline = time.Time{}
	s.emit(now, kind, r3.Vector{})
	if kind == EventFinished {
		s.logger.Info("sequence finished", "placed", s.index)
	}
}

// Snapshot returns the current state without advancing.
func (s *Sequencer) Snapshot() Snapshot {
	return Snapshot{
		Phase:     s.phase,
		Step:      s.step.String(),
		Index:     s.index,
		Count:     len(s.cfg.Targets),
		Target:    s.target,
		HasTarget: s.hasTarget,
		Epsilon:   s.epsilon,
		Profile:   s.profile,
		Moving:    s.moving,
		Done:      s.done,
	}
}

// Done reports whether the run is over.
func (s *Sequencer) Done() bool { return s.done }

// =============================================================================
// Effects
// =============================================================================

func (s *Sequencer) hold(now time.Time, d time.Duration) {
	s.deadline = now.Add(d)
}

func (s *Sequencer) setTarget(p r3.Vector) {
	s.target = p
	s.hasTarget = true
}

func (s *Sequencer) setProfile(p drive.SpeedProfile) {
	s.profile = p
	if s.deps.Frequency != nil {
		s.deps.Frequency.SetFrequency(p.Frequency)
	}
}

func (s *Sequencer) setFan(on bool) {
	if s.deps.Fan == nil {
		return
	}
	if err := s.deps.Fan.SetFan(on); err != nil {
		s.logger.Warn("fan switch failed", "on", on, "error", err)
	}
}

func (s *Sequencer) saveCheckpoint(stage checkpoint.Stage) {
	if s.deps.Store == nil {
		return
	}
	rec := checkpoint.Format(s.index, stage)
	if err := s.deps.Store.Save(rec); err != nil {
		s.logger.Error("checkpoint write failed", "record", rec, "error", err)
	}
}

func (s *Sequencer) emit(now time.Time, kind EventKind, pos r3.Vector) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Notify(Event{
		ID:       s.newID(),
		Kind:     kind,
		Index:    s.index,
		Position: pos,
		At:       now,
	})
}

func (s *Sequencer) checkStall(now time.Time) {
	if s.cfg.StallWarnAfter <= 0 || s.stallWarned {
		return
	}
	switch s.step {
	case stepApproachEntry, stepAlign, stepApproachBase, stepCoarseApproach, stepFineApproach:
	default:
		return
	}
	if waited := now.Sub(s.entered); waited >= s.cfg.StallWarnAfter {
		s.stallWarned = true
		s.logger.Warn("waiting on tracking condition",
			"step", s.step, "index", s.index, "waited", waited.Round(time.Second))
	}
}
