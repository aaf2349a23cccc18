package board

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-cupbot/internal/log"
	"github.com/teslashibe/go-cupbot/pkg/bus"
	"github.com/teslashibe/go-cupbot/pkg/bus/sim"
	"github.com/teslashibe/go-cupbot/pkg/drive"
)

func newManager(t *testing.T) (*Manager, *sim.Bus) {
	t.Helper()
	b := sim.New()
	m := NewManager(b, b, DefaultConfig(), log.Discard())
	t.Cleanup(func() { m.Close() })
	return m, b
}

func TestManager_BindsMatchingIdleNode(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("SomethingElse")
	want := b.AddNode("CupRobot")

	m.OnTopologyChanged()

	if m.State() != Active {
		t.Fatalf("state = %v, want active", m.State())
	}
	if node, ok := m.Node(); !ok || node != want {
		t.Errorf("node = %v (%v), want %v", node, ok, want)
	}
	if n := b.CountPins("pwm"); n != 2 {
		t.Errorf("pwm pins = %d, want one per motor", n)
	}
	// Four direction pins and the fan.
	if n := b.CountPins("output"); n != 5 {
		t.Errorf("output pins = %d, want 5", n)
	}
	if n := b.CountPins("analog"); n != 1 {
		t.Errorf("analog pins = %d, want 1", n)
	}
	if s, ok := b.Output(bus.IOA4); !ok || s != bus.Low {
		t.Errorf("fan = %v (%v), want low", s, ok)
	}
	if b.ConstructorsOpen() != 0 {
		t.Errorf("task constructors leaked: %d", b.ConstructorsOpen())
	}
}

func TestManager_IgnoresBusyOrUntaggedNodes(t *testing.T) {
	m, b := newManager(t)
	busy := b.AddNode("CupRobot")
	b.SetNodeStatus(busy, bus.NodeRunning)
	b.AddNode("")

	m.OnTopologyChanged()
	if m.State() != NoSession {
		t.Errorf("state = %v, want no_session", m.State())
	}
	if b.TasksStarted() != 0 {
		t.Errorf("tasks started = %d", b.TasksStarted())
	}
}

func TestManager_NoNetwork(t *testing.T) {
	b := sim.New()
	b.AddNode("CupRobot")
	b.Detach(true)
	m := NewManager(b, b, DefaultConfig(), log.Discard())

	m.OnTopologyChanged()
	m.Tick()
	if m.State() != NoSession {
		t.Errorf("state = %v without a network", m.State())
	}

	nilRef := NewManager(nil, b, DefaultConfig(), log.Discard())
	nilRef.Tick()
	if nilRef.State() != NoSession {
		t.Errorf("state = %v with nil network ref", nilRef.State())
	}
}

func TestManager_AliveSessionIsKept(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	m.OnTopologyChanged()
	b.AddNode("CupRobot")
	m.OnTopologyChanged()

	if b.TasksStarted() != 1 {
		t.Errorf("tasks started = %d, want 1", b.TasksStarted())
	}
	if m.State() != Active {
		t.Errorf("state = %v", m.State())
	}
}

func TestManager_FinishedTaskTearsDownInReverseOrder(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	m.Tick()
	if m.State() != Active {
		t.Fatalf("state = %v after first tick", m.State())
	}

	b.ResetJournal()
	b.FinishTask()
	m.Tick()

	if m.State() != NoSession {
		t.Fatalf("state = %v, want no_session", m.State())
	}
	if open := b.OpenPins(); len(open) != 0 {
		t.Errorf("pins still open: %v", open)
	}
	want := []string{
		"close IOA3",                           // battery
		"close IOA4",                           // fan
		"close IO6", "close IO7", "close IO5", // right motor
		"close IO2", "close IO1", "close IO8", // left motor
		"close task",
	}
	got := b.Journal()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if _, ok := m.Node(); ok {
		t.Error("node should be reset after teardown")
	}
}

func TestManager_NodeReappearsAfterTeardown(t *testing.T) {
	m, b := newManager(t)
	h := b.AddNode("CupRobot")
	m.Tick()
	b.RemoveNode(h)
	m.Tick()
	if m.State() != NoSession {
		t.Fatalf("state = %v after node removal", m.State())
	}
	b.AddNode("CupRobot")
	m.Tick()
	if m.State() != Active {
		t.Errorf("state = %v after node returned", m.State())
	}
}

func TestManager_PinFailureLeavesNoSession(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	b.FailPin(bus.IOA3, errors.New("adc fault"))

	m.OnTopologyChanged()

	if m.State() != NoSession {
		t.Errorf("state = %v, want no_session", m.State())
	}
	if open := b.OpenPins(); len(open) != 0 {
		t.Errorf("pins left open: %v", open)
	}
	if b.TaskRunning() {
		t.Error("task left running")
	}
}

func TestManager_StartFailureLeavesNoSession(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	b.FailStart(errors.New("node rejected task"))

	m.OnTopologyChanged()
	if m.State() != NoSession {
		t.Errorf("state = %v", m.State())
	}
}

func TestManager_TickRetriesAfterStartFailure(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	b.FailStart(errors.New("node rejected task"))
	m.Tick()
	if m.State() != NoSession {
		t.Fatalf("state = %v, want no_session", m.State())
	}

	b.FailStart(nil)
	// Same update id: only the retry interval can bring the session back.
	for i := uint32(1); i < m.cfg.RetryTicks; i++ {
		m.Tick()
	}
	if m.State() != NoSession {
		t.Fatalf("state = %v before the retry interval elapsed", m.State())
	}
	m.Tick()
	if m.State() != Active {
		t.Errorf("state = %v after retry interval, want active", m.State())
	}
}

func TestManager_TickRecoversFailedRecreate(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	m.Tick()

	b.FailStart(errors.New("node busy"))
	m.SetFrequency(drive.SlowProfile().Frequency)
	if m.State() != NoSession {
		t.Fatalf("state = %v after failed rebuild", m.State())
	}

	b.FailStart(nil)
	for i := 0; i < 50 && m.State() != Active; i++ {
		m.Tick()
	}
	if m.State() != Active {
		t.Fatalf("state = %v, want active", m.State())
	}
	if _, f, ok := b.Duty(bus.IO8); !ok || f != 20 {
		t.Errorf("rebuilt frequency = %v (%v), want 20", f, ok)
	}
}

func TestManager_ZeroRetryTicksRetriesEveryTick(t *testing.T) {
	b := sim.New()
	cfg := DefaultConfig()
	cfg.RetryTicks = 0
	m := NewManager(b, b, cfg, log.Discard())
	t.Cleanup(func() { m.Close() })

	b.AddNode("CupRobot")
	b.FailStart(errors.New("not yet"))
	m.Tick()
	b.FailStart(nil)
	m.Tick()
	if m.State() != Active {
		t.Errorf("state = %v, want active on the next tick", m.State())
	}
}

func TestManager_SetFrequencyRecreates(t *testing.T) {
	m, b := newManager(t)
	h := b.AddNode("CupRobot")
	m.Tick()

	m.SetFrequency(drive.SlowProfile().Frequency)

	if m.State() != Active {
		t.Fatalf("state = %v after recreate", m.State())
	}
	if node, _ := m.Node(); node != h {
		t.Errorf("rebound to %v, want %v", node, h)
	}
	for _, pin := range []bus.Pin{bus.IO8, bus.IO5} {
		if _, f, ok := b.Duty(pin); !ok || f != 20 {
			t.Errorf("%v frequency = %v (%v), want 20", pin, f, ok)
		}
	}
	if b.TasksStarted() != 2 {
		t.Errorf("tasks started = %d, want 2", b.TasksStarted())
	}

	// Same frequency: no rebuild.
	m.SetFrequency(20)
	if b.TasksStarted() != 2 {
		t.Errorf("same frequency rebuilt the session")
	}
}

func TestManager_SetFrequencyWithoutSession(t *testing.T) {
	m, b := newManager(t)
	m.SetFrequency(20)
	if m.Frequency() != 20 {
		t.Errorf("Frequency = %d", m.Frequency())
	}
	b.AddNode("CupRobot")
	m.Tick()
	if _, f, _ := b.Duty(bus.IO8); f != 20 {
		t.Errorf("new session frequency = %d, want 20", f)
	}
}

func TestManager_DriveAndFan(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	m.Tick()

	if err := m.Drive(drive.WheelCommand{Left: 0.5, Right: -0.25}, 0.9); err != nil {
		t.Fatal(err)
	}
	if d, _, _ := b.Duty(bus.IO8); d != 0.45 {
		t.Errorf("left duty = %v, want 0.45", d)
	}
	if d, _, _ := b.Duty(bus.IO5); d != 0.225 {
		t.Errorf("right duty = %v, want 0.225", d)
	}
	// Left forward: in1 low, in2 high. Right reverse: in3 high, in4 low.
	if s, _ := b.Output(bus.IO2); s != bus.High {
		t.Error("left in2 should be high")
	}
	if s, _ := b.Output(bus.IO7); s != bus.High {
		t.Error("right in3 should be high")
	}

	m.SetFan(true)
	if s, _ := b.Output(bus.IOA4); s != bus.High || !m.FanOn() {
		t.Error("fan should be on")
	}
	m.SetFan(false)
	if s, _ := b.Output(bus.IOA4); s != bus.Low {
		t.Error("fan should be off")
	}
}

func TestManager_InactiveActuationIsNoop(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Drive(drive.WheelCommand{Left: 1, Right: 1}, 1); err != nil {
		t.Errorf("Drive without session: %v", err)
	}
	if err := m.SetFan(true); err != nil {
		t.Errorf("SetFan without session: %v", err)
	}
	if _, ok := m.Voltage(); ok {
		t.Error("Voltage without session should report !ok")
	}
}

func TestManager_Voltage(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	m.Tick()
	b.SetAnalog(bus.IOA3, 0.792)

	v, ok := m.Voltage()
	if !ok {
		t.Fatal("Voltage not available")
	}
	if v < 12.0 || v > 12.1 {
		t.Errorf("Voltage = %v, want about 12.07", v)
	}
}

func TestManager_CloseReleasesEverything(t *testing.T) {
	m, b := newManager(t)
	b.AddNode("CupRobot")
	m.Tick()
	m.Close()
	if m.State() != NoSession || len(b.OpenPins()) != 0 || b.TaskRunning() {
		t.Errorf("Close left state=%v pins=%v task=%v", m.State(), b.OpenPins(), b.TaskRunning())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		NoSession: "no_session",
		Starting:  "starting",
		Active:    "active",
		Stopping:  "stopping",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q", s, s.String())
		}
	}
}
