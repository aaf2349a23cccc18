package task

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/checkpoint"
	"github.com/teslashibe/go-cupbot/pkg/drive"
	"github.com/teslashibe/go-cupbot/pkg/tracking"
)

// mockBoard records fan and frequency calls.
type mockBoard struct {
	mu    sync.Mutex
	fan   []bool
	freqs []uint32
}

func (m *mockBoard) SetFan(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fan = append(m.fan, on)
	return nil
}

func (m *mockBoard) SetFrequency(hz uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freqs = append(m.freqs, hz)
}

func (m *mockBoard) fanOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fan) > 0 && m.fan[len(m.fan)-1]
}

// eventLog collects notifications.
type eventLog struct {
	events []Event
}

func (l *eventLog) Notify(e Event) { l.events = append(l.events, e) }

func (l *eventLog) kinds() []EventKind {
	out := make([]EventKind, len(l.events))
	for i, e := range l.events {
		out[i] = e.Kind
	}
	return out
}

type harness struct {
	seq    *Sequencer
	board  *mockBoard
	store  *checkpoint.MemoryStore
	events *eventLog
	now    time.Time
	in     Input
	snap   Snapshot
}

var (
	testEntry = r3.Vector{X: 1, Z: -0.5}
	testBase  = r3.Vector{X: 1}
)

func newHarness(t *testing.T, targets ...r3.Vector) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Entry = testEntry
	cfg.Base = testBase
	cfg.Targets = targets
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		board:  &mockBoard{},
		store:  checkpoint.NewMemoryStore(),
		events: &eventLog{},
		now:    time.Unix(1000, 0),
	}
	h.seq = New(cfg, Deps{
		Store:     h.store,
		Fan:       h.board,
		Frequency: h.board,
		Notifier:  h.events,
		Logger:    log.Discard(),
	})
	h.seq.newID = func() uuid.UUID { return uuid.MustParse("00000000-0000-0000-0000-000000000001") }
	return h
}

func (h *harness) tick(dt time.Duration) Snapshot {
	h.now = h.now.Add(dt)
	h.snap = h.seq.Tick(h.now, h.in)
	return h.snap
}

// follow is an ideal plant: it puts the robot on whatever the sequencer
// steers to and faces the base while aligning.
func (h *harness) follow() {
	switch {
	case h.snap.Phase.Steers() && h.snap.HasTarget:
		h.in.Pose.Position = h.snap.Target
		h.in.Manipulator = h.snap.Target
	case h.snap.Phase == TurningLeft || h.snap.Phase == TurningRight:
		h.in.Pose.Yaw = tracking.Bearing(testBase.Sub(h.in.Pose.Position))
	}
}

func (h *harness) runToCompletion(t *testing.T) {
	t.Helper()
	for i := 0; i < 2000 && !h.snap.Done; i++ {
		h.tick(100 * time.Millisecond)
		h.follow()
	}
	if !h.snap.Done {
		t.Fatalf("sequence did not finish, stuck in %s", h.snap.Step)
	}
}

func TestSequencer_InitialState(t *testing.T) {
	h := newHarness(t, r3.Vector{})
	s := h.seq.Snapshot()
	if s.Phase != Stop || s.Moving || s.Done || s.Index != 0 {
		t.Errorf("initial snapshot = %+v", s)
	}
}

func TestSequencer_SingleTargetScenario(t *testing.T) {
	h := newHarness(t, r3.Vector{})
	h.runToCompletion(t)

	if h.snap.Index != 1 {
		t.Errorf("index = %d, want 1", h.snap.Index)
	}
	if h.snap.Phase != Stop {
		t.Errorf("phase = %v, want stop", h.snap.Phase)
	}
	if h.snap.Moving {
		t.Error("should not be moving when done")
	}

	wantEvents := []EventKind{EventCycleStarted, EventCupTaken, EventCupPlaced, EventFinished}
	got := h.events.kinds()
	if len(got) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", got, wantEvents)
	}
	for i := range wantEvents {
		if got[i] != wantEvents[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], wantEvents[i])
		}
	}

	wantCP := []string{"0 base", "0 placing"}
	hist := h.store.History()
	if len(hist) != len(wantCP) || hist[0] != wantCP[0] || hist[1] != wantCP[1] {
		t.Errorf("checkpoints = %v, want %v", hist, wantCP)
	}

	// Fan: on at grip, on for fine placement, off at release.
	wantFan := []bool{true, true, false}
	if len(h.board.fan) != len(wantFan) {
		t.Fatalf("fan calls = %v, want %v", h.board.fan, wantFan)
	}
	for i := range wantFan {
		if h.board.fan[i] != wantFan[i] {
			t.Errorf("fan call %d = %v", i, h.board.fan[i])
		}
	}

	sawSlow := false
	for _, f := range h.board.freqs {
		if f == drive.SlowProfile().Frequency {
			sawSlow = true
		}
	}
	if !sawSlow {
		t.Errorf("slow profile never selected: %v", h.board.freqs)
	}
}

func TestSequencer_MultipleTargets(t *testing.T) {
	targets := []r3.Vector{{Z: 1}, {X: -1, Z: 1}, {X: -1}}
	h := newHarness(t, targets...)
	h.runToCompletion(t)

	if h.snap.Index != 3 {
		t.Errorf("index = %d, want 3", h.snap.Index)
	}
	placed := 0
	for _, e := range h.events.events {
		if e.Kind == EventCupPlaced {
			if e.Position != targets[e.Index] {
				t.Errorf("cup %d placed at %v, want %v", e.Index, e.Position, targets[e.Index])
			}
			placed++
		}
	}
	if placed != 3 {
		t.Errorf("placed %d cups, want 3", placed)
	}
	if rec, _ := h.store.Load(); rec != "2 placing" {
		t.Errorf("last checkpoint = %q", rec)
	}
}

func TestSequencer_NoTargetsFinishesImmediately(t *testing.T) {
	h := newHarness(t)
	s := h.tick(10 * time.Millisecond)
	if !s.Done || s.Phase != Stop || s.Index != 0 {
		t.Errorf("snapshot = %+v", s)
	}
	if len(h.store.History()) != 0 {
		t.Error("no checkpoint expected without targets")
	}
}

func TestSequencer_StartIndexSkipsPlaced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Entry, cfg.Base = testEntry, testBase
	cfg.Targets = []r3.Vector{{}, {Z: 1}}
	cfg.StartIndex = 1
	store := checkpoint.NewMemoryStore()
	seq := New(cfg, Deps{Store: store, Logger: log.Discard()})

	s := seq.Tick(time.Unix(0, 0), Input{})
	if s.Index != 1 || s.Target != testEntry {
		t.Errorf("snapshot = %+v", s)
	}
	if rec, _ := store.Load(); rec != "1 base" {
		t.Errorf("checkpoint = %q, want \"1 base\"", rec)
	}
}

func TestSequencer_FirstCycleSteps(t *testing.T) {
	h := newHarness(t, r3.Vector{})

	s := h.tick(0)
	if s.Phase != MovingToCup || s.Target != testEntry || s.Epsilon != 0.03 || !s.Moving {
		t.Fatalf("cycle start = %+v", s)
	}

	// Not yet at the entry: no transition however long we wait.
	h.in.Pose.Position = testEntry.Add(r3.Vector{X: 0.05})
	for i := 0; i < 50; i++ {
		h.tick(time.Second)
	}
	if h.snap.Step != "approach_entry" {
		t.Fatalf("step = %s, want approach_entry", h.snap.Step)
	}

	// Within tolerance; base is straight ahead (+Z from the entry) but the
	// robot faces +X, so it must turn left.
	h.in.Pose.Position = testEntry.Add(r3.Vector{X: 0.01})
	h.in.Pose.Yaw = tracking.Radians(90)
	s = h.tick(10 * time.Millisecond)
	if s.Phase != TurningLeft {
		t.Fatalf("phase = %v, want turning_left", s.Phase)
	}
	if s.Profile.Name != "medium" {
		t.Errorf("profile = %s, want medium", s.Profile.Name)
	}

	// Still 10 degrees off: keep turning.
	h.in.Pose.Yaw = tracking.Radians(10)
	if s = h.tick(10 * time.Millisecond); s.Phase != TurningLeft {
		t.Errorf("phase = %v while misaligned", s.Phase)
	}

	// Aligned.
	h.in.Pose.Yaw = tracking.Bearing(testBase.Sub(h.in.Pose.Position)) + tracking.Radians(2)
	if s = h.tick(10 * time.Millisecond); s.Phase != Stop {
		t.Fatalf("phase = %v after aligning, want stop", s.Phase)
	}

	// Hold 0.7s.
	if s = h.tick(690 * time.Millisecond); s.Phase != Stop {
		t.Errorf("hold ended early: %v", s.Phase)
	}
	s = h.tick(10 * time.Millisecond)
	if s.Phase != MovingToCup || s.Target != testBase || s.Epsilon != 0.25 {
		t.Fatalf("after hold = %+v", s)
	}

	// Manipulator just outside reach.
	h.in.Manipulator = testBase.Add(r3.Vector{Y: 0.027})
	if s = h.tick(10 * time.Millisecond); s.Phase != MovingToCup {
		t.Errorf("phase = %v before reaching the base", s.Phase)
	}
	h.in.Manipulator = testBase.Add(r3.Vector{Y: 0.02})
	if s = h.tick(10 * time.Millisecond); s.Phase != Stop {
		t.Fatalf("phase = %v at the base, want stop", s.Phase)
	}

	s = h.tick(500 * time.Millisecond)
	if s.Phase != ForwardMove || s.Profile.Name != "default" {
		t.Fatalf("after settle = %+v", s)
	}
	s = h.tick(1300 * time.Millisecond)
	if len(h.events.events) != 2 || h.events.events[1].Kind != EventCupTaken {
		t.Fatalf("events = %v", h.events.kinds())
	}
	if !h.board.fanOn() || s.Phase != ForwardMove {
		t.Errorf("grip: fan=%v phase=%v", h.board.fanOn(), s.Phase)
	}
	if s = h.tick(800 * time.Millisecond); s.Phase != ReverseMove {
		t.Errorf("phase = %v, want reverse_move", s.Phase)
	}
	if s = h.tick(time.Second); s.Phase != TurningRight {
		t.Errorf("phase = %v, want turning_right", s.Phase)
	}
	s = h.tick(time.Second)
	if s.Phase != MovingToPlaceCup || s.Target != (r3.Vector{}) {
		t.Fatalf("transport = %+v", s)
	}
	if rec, _ := h.store.Load(); rec != "0 placing" {
		t.Errorf("checkpoint = %q", rec)
	}
}

func TestSequencer_EntryGuardIgnoresHeight(t *testing.T) {
	h := newHarness(t, r3.Vector{Z: 1})
	h.in.Pose.Position = r3.Vector{X: 3}
	if s := h.tick(10 * time.Millisecond); s.Step != "approach_entry" {
		t.Fatalf("step = %s", s.Step)
	}

	// Body 30cm above the entry point, 1cm off on the floor.
	h.in.Pose.Position = testEntry.Add(r3.Vector{X: 0.01, Y: 0.3})
	if s := h.tick(10 * time.Millisecond); s.Step != "align" {
		t.Errorf("step = %s, want align", s.Step)
	}
}

func TestSequencer_EntryGuardNeedsTolerance(t *testing.T) {
	h := newHarness(t, r3.Vector{Z: 1})
	h.tick(10 * time.Millisecond)

	h.in.Pose.Position = testEntry.Add(r3.Vector{Z: 0.05})
	for i := 0; i < 10; i++ {
		h.tick(100 * time.Millisecond)
	}
	if h.snap.Step != "approach_entry" {
		t.Errorf("step = %s, want approach_entry 5cm out", h.snap.Step)
	}
}

func TestSequencer_FinePlacementIgnoresHeight(t *testing.T) {
	target := r3.Vector{X: -1, Z: 1}
	h := newHarness(t, target)
	// Drive the ideal plant until transport begins.
	for i := 0; i < 500 && h.snap.Phase != MovingToPlaceCup; i++ {
		h.tick(100 * time.Millisecond)
		h.follow()
	}
	if h.snap.Phase != MovingToPlaceCup {
		t.Fatalf("never reached transport, step %s", h.snap.Step)
	}

	// Coarse: 0.4m away in 3D.
	h.in.Manipulator = target.Add(r3.Vector{X: 0.4})
	s := h.tick(10 * time.Millisecond)
	if s.Profile.Name != "slow" || !h.board.fanOn() {
		t.Fatalf("coarse reach: profile=%s fan=%v", s.Profile.Name, h.board.fanOn())
	}

	// 1mm horizontal, 20cm above: counts as placed.
	h.in.Manipulator = target.Add(r3.Vector{X: 0.001, Y: 0.2})
	s = h.tick(10 * time.Millisecond)
	if s.Phase != Stop || h.board.fanOn() {
		t.Fatalf("release: phase=%v fan=%v", s.Phase, h.board.fanOn())
	}
	last := h.events.events[len(h.events.events)-1]
	if last.Kind != EventCupPlaced || last.Position != h.in.Manipulator {
		t.Errorf("placed event = %+v", last)
	}
}

func TestSequencer_FinePlacementNeedsPrecision(t *testing.T) {
	target := r3.Vector{Z: 1}
	h := newHarness(t, target)
	for i := 0; i < 500 && h.snap.Step != "fine_approach"; i++ {
		h.tick(100 * time.Millisecond)
		h.follow()
		if h.snap.Phase == MovingToPlaceCup {
			// Stop the plant short of the target.
			h.in.Manipulator = target.Add(r3.Vector{X: 0.002})
		}
	}
	if h.snap.Step != "fine_approach" {
		t.Fatalf("step = %s", h.snap.Step)
	}
	for i := 0; i < 100; i++ {
		h.tick(time.Second)
	}
	if h.snap.Step != "fine_approach" {
		t.Errorf("2mm off should not release, step = %s", h.snap.Step)
	}
}

func TestSequencer_Cancel(t *testing.T) {
	h := newHarness(t, r3.Vector{}, r3.Vector{Z: 1})
	h.tick(0)
	h.in.Pose.Position = testEntry
	h.tick(10 * time.Millisecond)

	h.seq.Cancel()
	s := h.seq.Snapshot()
	if !s.Done || s.Moving || s.Phase != Stop {
		t.Fatalf("after cancel = %+v", s)
	}
	if h.board.fanOn() {
		t.Error("fan should be off after cancel")
	}

	// Nothing fires afterwards.
	events := len(h.events.events)
	for i := 0; i < 20; i++ {
		h.tick(time.Second)
	}
	if h.snap.Phase != Stop || len(h.events.events) != events {
		t.Errorf("activity after cancel: phase=%v events=%v", h.snap.Phase, h.events.kinds())
	}
	if h.events.events[events-1].Kind != EventCancelled {
		t.Errorf("last event = %v, want cancelled", h.events.events[events-1].Kind)
	}

	h.seq.Cancel()
	if len(h.events.events) != events {
		t.Error("second cancel emitted another event")
	}
}

func TestSequencer_CheckpointFailureDoesNotStop(t *testing.T) {
	h := newHarness(t, r3.Vector{})
	h.store.FailWith(errors.New("disk full"))
	h.runToCompletion(t)
	if h.snap.Index != 1 {
		t.Errorf("index = %d", h.snap.Index)
	}
}

func TestSequencer_NilDeps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Entry, cfg.Base = testEntry, testBase
	cfg.Targets = []r3.Vector{{}}
	seq := New(cfg, Deps{Logger: log.Discard()})
	s := seq.Tick(time.Unix(0, 0), Input{})
	if s.Phase != MovingToCup {
		t.Errorf("phase = %v", s.Phase)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Targets = []r3.Vector{{}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := cfg
	bad.StartIndex = 2
	if bad.Validate() == nil {
		t.Error("start index beyond targets should fail")
	}
	bad = cfg
	bad.FineReach = 1
	if bad.Validate() == nil {
		t.Error("fine reach above coarse reach should fail")
	}
	bad = cfg
	bad.BaseReach = 0
	if bad.Validate() == nil {
		t.Error("zero base reach should fail")
	}
}

func TestPhase_String(t *testing.T) {
	if MovingToPlaceCup.String() != "moving_to_place_cup" || Phase(42).String() != "phase(42)" {
		t.Error("Phase.String mismatch")
	}
	if !MovingToCup.Steers() || Stop.Steers() {
		t.Error("Steers mismatch")
	}
}
