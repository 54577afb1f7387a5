package slidekit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"slidekit/boards"
)

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func assertInts(t testing.TB, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func assertPositions(t testing.TB, got, want SlidePosition) {
	t.Helper()

	if got != want {
		t.Errorf("got position: %s, want: %s", got, want)
	}
}

const testSensorExtended = uint32(1 << 0)  // S1
const testSensorRetracted = uint32(1 << 1) // S2

type slideRig struct {
	devices *DeviceRegistry
	monitor *boards.Monitor
	link    *boards.MockLink
	slide   *Slide
	events  chan SlideEvent
}

// newSlideRig builds the scenario board: 16-pin "IOBottom" with
// sensors S1/S2 and output ExtendValve on pin 3, starting retracted.
// The sampling loop is parked, tests drive passes by hand.
func newSlideRig(t testing.TB, timeoutMs int) *slideRig {
	t.Helper()

	link := &boards.MockLink{InitialInputs: testSensorRetracted}
	devices, err := NewDeviceRegistry([]*DeviceConfig{
		{
			Name:     "IOBottom",
			Capacity: 16,
			Inputs:   map[string]uint16{"S1": 0, "S2": 1},
			Outputs:  map[string]uint16{"ExtendValve": 3},
			Fake:     link,
		},
	})
	if err != nil {
		t.Fatalf("NewDeviceRegistry returned err: %v", err)
	}

	monitor, err := devices.GetOrCreate("IOBottom")
	if err != nil {
		t.Fatalf("GetOrCreate returned err: %v", err)
	}
	monitor.SetSampleInterval(time.Hour)

	err = monitor.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect returned err: %v", err)
	}
	t.Cleanup(func() { devices.Close() })

	slide := &Slide{
		Name:           "InfeedSlide",
		Output:         PinRef{Device: "IOBottom", Pin: "ExtendValve"},
		ExtendedInput:  PinRef{Device: "IOBottom", Pin: "S1"},
		RetractedInput: PinRef{Device: "IOBottom", Pin: "S2"},
		TimeoutMs:      timeoutMs,
	}
	events := make(chan SlideEvent, 64)
	err = slide.Init(devices, events)
	if err != nil {
		t.Fatalf("slide Init returned err: %v", err)
	}

	return &slideRig{devices: devices, monitor: monitor, link: link, slide: slide, events: events}
}

// samplePass runs one sampling pass and routes the resulting edge
// events into the slide, the way the event pump does.
func (rig *slideRig) samplePass(t testing.TB) {
	t.Helper()

	err := rig.monitor.Sample()
	if err != nil {
		t.Fatalf("Sample returned err: %v", err)
	}
	for {
		select {
		case ev := <-rig.devices.Events():
			rig.slide.HandleBoardEvent(ev)
		default:
			return
		}
	}
}

func (rig *slideRig) drainSlideEvents() (events []SlideEvent) {
	for {
		select {
		case ev := <-rig.events:
			events = append(events, ev)
		default:
			return
		}
	}
}

func (rig *slideRig) waitMoving(t testing.TB) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for !rig.slide.Moving() {
		select {
		case <-deadline:
			t.Fatal("slide never entered moving state")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDerivePosition(t *testing.T) {
	assertPositions(t, derivePosition(true, false), PositionExtended)
	assertPositions(t, derivePosition(false, true), PositionRetracted)
	assertPositions(t, derivePosition(false, false), PositionMoving)
	assertPositions(t, derivePosition(true, true), PositionUnknown)
}

func TestSlideInitialPositionFromSensors(t *testing.T) {
	rig := newSlideRig(t, 200)
	assertPositions(t, rig.slide.Position(), PositionRetracted)
	assertBools(t, rig.slide.Moving(), false)
}

func TestExtendConfirmedBySensors(t *testing.T) {
	rig := newSlideRig(t, 1000)

	result := make(chan error, 1)
	go func() {
		result <- rig.slide.Extend()
	}()
	rig.waitMoving(t)

	assertPositions(t, rig.slide.Position(), PositionMoving)

	writes := rig.link.Writes()
	assertInts(t, len(writes), 1)
	if writes[0].SetMask != 1<<19 || writes[0].ClearMask != 0 {
		t.Errorf("unexpected output write: %+v", writes[0])
	}

	// cylinder arrives: S1 up, S2 down in the same pass
	rig.link.SetInputs(testSensorExtended)
	rig.samplePass(t)

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("Extend returned err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Extend did not resolve after sensor confirmation")
	}

	assertPositions(t, rig.slide.Position(), PositionExtended)
	assertBools(t, rig.slide.Moving(), false)
}

func TestMoveToCurrentPositionIsNoop(t *testing.T) {
	rig := newSlideRig(t, 200)

	err := rig.slide.Retract()
	if err != nil {
		t.Errorf("Retract returned err: %v", err)
	}

	assertInts(t, len(rig.link.Writes()), 0)
	for _, ev := range rig.drainSlideEvents() {
		if ev.Kind == SlidePositionChanged {
			t.Errorf("no-op move emitted position event: %+v", ev)
		}
	}
	assertPositions(t, rig.slide.Position(), PositionRetracted)
}

func TestSecondMoveRejectedWhilePending(t *testing.T) {
	rig := newSlideRig(t, 1000)

	result := make(chan error, 1)
	go func() {
		result <- rig.slide.Extend()
	}()
	rig.waitMoving(t)

	err := rig.slide.Retract()
	if !errors.Is(err, ErrMoveInProgress) {
		t.Errorf("got err: %v, want ErrMoveInProgress", err)
	}

	// the in-flight move is untouched and still confirmable
	writes := rig.link.Writes()
	assertInts(t, len(writes), 1)

	rig.link.SetInputs(testSensorExtended)
	rig.samplePass(t)

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("first move failed after rejected second: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first move did not resolve")
	}
}

func TestMoveTimeout(t *testing.T) {
	rig := newSlideRig(t, 200)
	rig.drainSlideEvents()

	started := time.Now()
	err := rig.slide.Extend()
	elapsed := time.Since(started)

	if !errors.Is(err, ErrMoveTimeout) {
		t.Fatalf("got err: %v, want ErrMoveTimeout", err)
	}
	if !strings.Contains(err.Error(), "200ms") {
		t.Errorf("timeout error does not name the budget: %v", err)
	}
	if elapsed < 200*time.Millisecond {
		t.Errorf("move resolved before the timeout budget: %s", elapsed)
	}

	assertPositions(t, rig.slide.Position(), PositionUnknown)
	assertBools(t, rig.slide.Moving(), false)

	var errorEvents, unknownEvents int
	for _, ev := range rig.drainSlideEvents() {
		if ev.Kind == SlideError {
			errorEvents++
			if !strings.Contains(ev.Err.Error(), "200ms") {
				t.Errorf("error notification does not name the budget: %v", ev.Err)
			}
		}
		if ev.Kind == SlidePositionChanged && ev.Position == PositionUnknown {
			unknownEvents++
		}
	}
	assertInts(t, errorEvents, 1)
	assertInts(t, unknownEvents, 1)
}

func TestLateConfirmationAfterTimeout(t *testing.T) {
	rig := newSlideRig(t, 50)

	err := rig.slide.Extend()
	if !errors.Is(err, ErrMoveTimeout) {
		t.Fatalf("got err: %v, want ErrMoveTimeout", err)
	}
	assertPositions(t, rig.slide.Position(), PositionUnknown)

	// the sensors eventually arrive; position keeps tracking them but
	// the settled move stays failed and nothing panics
	rig.link.SetInputs(testSensorExtended)
	rig.samplePass(t)

	assertPositions(t, rig.slide.Position(), PositionExtended)
	assertBools(t, rig.slide.Moving(), false)
}

func TestConfirmationBeatsTimeout(t *testing.T) {
	// tight budget: sensor confirmation and timer race for the cell
	rig := newSlideRig(t, 30)

	result := make(chan error, 1)
	go func() {
		result <- rig.slide.Extend()
	}()
	for !rig.slide.Moving() && len(result) == 0 {
		time.Sleep(time.Millisecond)
	}

	rig.link.SetInputs(testSensorExtended)
	rig.samplePass(t)

	select {
	case err := <-result:
		if err == nil {
			assertPositions(t, rig.slide.Position(), PositionExtended)
		} else if !errors.Is(err, ErrMoveTimeout) {
			t.Errorf("got err: %v, want nil or ErrMoveTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("move resolved neither way")
	}

	// exactly one resolution happened either way
	assertBools(t, rig.slide.Moving(), false)
}

func TestOutputWriteFaultFailsMove(t *testing.T) {
	rig := newSlideRig(t, 500)
	rig.drainSlideEvents()

	rig.link.FailWrites(errors.New("gate rejected write"))

	err := rig.slide.Extend()
	if err == nil {
		t.Fatal("got nil error from move with failing output write")
	}
	assertPositions(t, rig.slide.Position(), PositionUnknown)
	assertBools(t, rig.slide.Moving(), false)

	var errorEvents int
	for _, ev := range rig.drainSlideEvents() {
		if ev.Kind == SlideError {
			errorEvents++
		}
	}
	assertInts(t, errorEvents, 1)
}

func TestSensorFaultYieldsUnknown(t *testing.T) {
	rig := newSlideRig(t, 200)
	rig.drainSlideEvents()

	rig.link.SetInputs(testSensorExtended | testSensorRetracted)
	rig.samplePass(t)

	assertPositions(t, rig.slide.Position(), PositionUnknown)

	var faultEvents int
	for _, ev := range rig.drainSlideEvents() {
		if ev.Kind == SlideError {
			faultEvents++
			if !strings.Contains(ev.Err.Error(), "sensor fault") {
				t.Errorf("unexpected fault error: %v", ev.Err)
			}
		}
	}
	assertInts(t, faultEvents, 1)
}

func TestMoveOnDisposedSlide(t *testing.T) {
	rig := newSlideRig(t, 200)

	rig.slide.Dispose()

	err := rig.slide.Extend()
	if !errors.Is(err, ErrSlideDisposed) {
		t.Errorf("got err: %v, want ErrSlideDisposed", err)
	}
	assertInts(t, len(rig.link.Writes()), 0)
}

func TestDisposeResolvesPendingMove(t *testing.T) {
	rig := newSlideRig(t, 5000)

	result := make(chan error, 1)
	go func() {
		result <- rig.slide.Extend()
	}()
	rig.waitMoving(t)

	rig.slide.Dispose()

	select {
	case err := <-result:
		if !errors.Is(err, ErrSlideDisposed) {
			t.Errorf("got err: %v, want ErrSlideDisposed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending move not resolved by Dispose")
	}
	assertBools(t, rig.slide.Moving(), false)
}

func TestSlideInitRejectsUnknownPins(t *testing.T) {
	rig := newSlideRig(t, 200)

	broken := &Slide{
		Name:           "BadSlide",
		Output:         PinRef{Device: "IOBottom", Pin: "NoSuchValve"},
		ExtendedInput:  PinRef{Device: "IOBottom", Pin: "S1"},
		RetractedInput: PinRef{Device: "IOBottom", Pin: "S2"},
	}
	err := broken.Init(rig.devices, rig.events)
	if err == nil {
		t.Error("got nil error for unresolvable output pin")
	}

	broken = &Slide{
		Name:           "BadSlide",
		Output:         PinRef{Device: "IOBottom", Pin: "ExtendValve"},
		ExtendedInput:  PinRef{Pin: "NoSuchSensor"},
		RetractedInput: PinRef{Device: "IOBottom", Pin: "S2"},
	}
	err = broken.Init(rig.devices, rig.events)
	if err == nil {
		t.Error("got nil error for unresolvable sensor pin")
	}
}

func TestScenarioInfeedSlide(t *testing.T) {
	rig := newSlideRig(t, 200)

	assertPositions(t, rig.slide.Position(), PositionRetracted)

	result := make(chan error, 1)
	go func() {
		result <- rig.slide.Extend()
	}()
	rig.waitMoving(t)
	assertPositions(t, rig.slide.Position(), PositionMoving)

	writes := rig.link.Writes()
	assertInts(t, len(writes), 1)
	if writes[0].SetMask != 1<<19 {
		t.Errorf("ExtendValve on pin 3 must write protocol bit 19, got %#x", writes[0].SetMask)
	}

	// sampler reports arrival well within budget
	time.Sleep(50 * time.Millisecond)
	rig.link.SetInputs(testSensorExtended)
	rig.samplePass(t)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("extend failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("extend did not resolve")
	}
	assertPositions(t, rig.slide.Position(), PositionExtended)
	rig.drainSlideEvents()

	// retract with the sampler never updating: timeout after 200ms
	err := rig.slide.Retract()
	if !errors.Is(err, ErrMoveTimeout) {
		t.Fatalf("got err: %v, want ErrMoveTimeout", err)
	}
	if !strings.Contains(err.Error(), "200ms") {
		t.Errorf("timeout error missing budget: %v", err)
	}
	assertPositions(t, rig.slide.Position(), PositionUnknown)

	var errorEvents int
	for _, ev := range rig.drainSlideEvents() {
		if ev.Kind == SlideError {
			errorEvents++
			if !strings.Contains(ev.Err.Error(), "200ms") {
				t.Errorf("error notification missing budget: %v", ev.Err)
			}
		}
	}
	assertInts(t, errorEvents, 1)
}
