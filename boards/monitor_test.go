package boards

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func newTestMonitor(t testing.TB, link *MockLink) (*Monitor, chan Event) {
	t.Helper()

	events := make(chan Event, 64)
	monitor, err := NewMonitor("IOBottom", Cap16, link,
		map[string]uint16{"S1": 0, "S2": 1},
		map[string]uint16{"ExtendValve": 3},
		events)
	if err != nil {
		t.Fatalf("NewMonitor returned err: %v", err)
	}
	// keep the background loop quiet, tests drive Sample directly
	monitor.SetSampleInterval(time.Hour)
	return monitor, events
}

func drainEvents(ch chan Event) (events []Event) {
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return
		}
	}
}

func waitEvent(t testing.TB, ch chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func TestMonitorConnectPrimesWithoutPinEvents(t *testing.T) {
	link := &MockLink{InitialInputs: Cap16.InputBit(1)}
	monitor, events := newTestMonitor(t, link)

	err := monitor.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned err: %v", err)
	}
	defer monitor.Close()

	for _, ev := range drainEvents(events) {
		if ev.Kind == EventInputChanged || ev.Kind == EventOutputChanged {
			t.Errorf("priming read emitted pin event: %+v", ev)
		}
	}

	state, found := monitor.InputState("S2")
	assertBools(t, found, true)
	assertBools(t, state, true)

	state, found = monitor.InputState("S1")
	assertBools(t, found, true)
	assertBools(t, state, false)
}

func TestMonitorEdgeEvents(t *testing.T) {
	link := &MockLink{}
	monitor, events := newTestMonitor(t, link)
	monitor.Connect(context.Background())
	defer monitor.Close()
	drainEvents(events)

	// no transition, no events
	err := monitor.Sample()
	if err != nil {
		t.Fatalf("Sample returned err: %v", err)
	}
	assertInts(t, len(drainEvents(events)), 0)

	// both named inputs plus an anonymous one flip in the same pass
	link.SetInputs(Cap16.InputBit(0) | Cap16.InputBit(1) | Cap16.InputBit(5))
	err = monitor.Sample()
	if err != nil {
		t.Fatalf("Sample returned err: %v", err)
	}

	got := drainEvents(events)
	assertInts(t, len(got), 2)
	if got[0].Pin != "S1" || got[1].Pin != "S2" {
		t.Errorf("events out of pin order: %+v", got)
	}
	for _, ev := range got {
		if ev.Kind != EventInputChanged {
			t.Errorf("unexpected event kind: %v", ev.Kind)
		}
		assertBools(t, ev.State, true)
		if ev.Board != "IOBottom" {
			t.Errorf("event carries wrong board: %s", ev.Board)
		}
	}

	// repeated sample of the same mask stays silent
	err = monitor.Sample()
	if err != nil {
		t.Fatalf("Sample returned err: %v", err)
	}
	assertInts(t, len(drainEvents(events)), 0)
}

func TestMonitorSetOutput(t *testing.T) {
	link := &MockLink{}
	monitor, events := newTestMonitor(t, link)

	err := monitor.SetOutput("ExtendValve", true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("got err: %v, want ErrNotConnected", err)
	}

	monitor.Connect(context.Background())
	defer monitor.Close()
	drainEvents(events)

	err = monitor.SetOutput("NoSuchValve", true)
	if !errors.Is(err, ErrPinNotFound) {
		t.Errorf("got err: %v, want ErrPinNotFound", err)
	}
	assertInts(t, len(link.Writes()), 0)

	err = monitor.SetOutput("ExtendValve", true)
	if err != nil {
		t.Fatalf("SetOutput returned err: %v", err)
	}

	writes := link.Writes()
	assertInts(t, len(writes), 1)
	assertMasks(t, writes[0].SetMask, 1<<19)
	assertMasks(t, writes[0].ClearMask, 0)

	// held state follows on the next sampling pass, with an edge event
	state, found := monitor.OutputState("ExtendValve")
	assertBools(t, found, true)
	assertBools(t, state, false)

	monitor.Sample()
	ev := waitEvent(t, events, EventOutputChanged)
	if ev.Pin != "ExtendValve" {
		t.Errorf("got event for pin %s", ev.Pin)
	}
	assertBools(t, ev.State, true)

	state, _ = monitor.OutputState("ExtendValve")
	assertBools(t, state, true)

	err = monitor.SetOutput("ExtendValve", false)
	if err != nil {
		t.Fatalf("SetOutput returned err: %v", err)
	}
	writes = link.Writes()
	assertInts(t, len(writes), 2)
	assertMasks(t, writes[1].SetMask, 0)
	assertMasks(t, writes[1].ClearMask, 1<<19)
}

func TestMonitorSamplingFaultDisconnects(t *testing.T) {
	link := &MockLink{}
	monitor, events := newTestMonitor(t, link)
	monitor.SetSampleInterval(5 * time.Millisecond)

	err := monitor.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned err: %v", err)
	}
	defer monitor.Close()

	link.FailReads(errors.New("wire cut"))

	ev := waitEvent(t, events, EventError)
	if ev.Err == nil {
		t.Error("error event carries no error")
	}

	ev = waitEvent(t, events, EventConnection)
	assertBools(t, ev.State, false)

	deadline := time.After(time.Second)
	for monitor.Connected() {
		select {
		case <-deadline:
			t.Fatal("monitor still connected after sampling fault")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMonitorDebounce(t *testing.T) {
	link := &MockLink{}
	monitor, events := newTestMonitor(t, link)
	monitor.Debounce = 2
	monitor.Connect(context.Background())
	defer monitor.Close()
	drainEvents(events)

	link.SetInputs(Cap16.InputBit(0))
	monitor.Sample()
	assertInts(t, len(drainEvents(events)), 0)

	state, _ := monitor.InputState("S1")
	assertBools(t, state, false)

	monitor.Sample()
	got := drainEvents(events)
	assertInts(t, len(got), 1)
	assertBools(t, got[0].State, true)
}

func TestMonitorCloseIsFinal(t *testing.T) {
	link := &MockLink{}
	monitor, _ := newTestMonitor(t, link)
	monitor.Connect(context.Background())

	err := monitor.Close()
	if err != nil {
		t.Fatalf("Close returned err: %v", err)
	}
	assertBools(t, link.Connected(), false)

	err = monitor.Connect(context.Background())
	if !errors.Is(err, ErrDisposed) {
		t.Errorf("got err: %v, want ErrDisposed", err)
	}
}
