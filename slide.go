package slidekit

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"slidekit/boards"
)

const defaultMoveTimeoutMs = 5000

var (
	ErrMoveInProgress = errors.New("move already in progress")
	ErrMoveTimeout    = errors.New("movement timed out")
	ErrSlideDisposed  = errors.New("slide disposed")
)

type SlidePosition int

const (
	PositionUnknown SlidePosition = iota
	PositionExtended
	PositionRetracted
	PositionMoving
)

func (p SlidePosition) String() string {
	switch p {
	case PositionExtended:
		return "extended"
	case PositionRetracted:
		return "retracted"
	case PositionMoving:
		return "moving"
	}
	return "unknown"
}

func (p SlidePosition) Terminal() bool {
	return p == PositionExtended || p == PositionRetracted
}

// derivePosition maps the two end-position sensors onto a slide
// position. Both sensors asserted at once is a sensor fault: the
// cylinder cannot be at both ends.
func derivePosition(extended bool, retracted bool) SlidePosition {
	switch {
	case extended && retracted:
		return PositionUnknown
	case extended:
		return PositionExtended
	case retracted:
		return PositionRetracted
	}
	return PositionMoving
}

// PinRef addresses a named pin, optionally scoped to one board. With
// an empty Device the name is looked up across all boards.
type PinRef struct {
	Device string
	Pin    string
}

func (pr PinRef) matches(ev boards.Event) bool {
	if ev.Pin != pr.Pin {
		return false
	}
	return len(pr.Device) == 0 || pr.Device == ev.Board
}

type SlideEventKind int

const (
	SlidePositionChanged SlideEventKind = iota
	SlideSensorsChanged
	SlideError
)

// SlideEvent is one notification from a slide controller: a position
// change, a combined sensor snapshot, or an error.
type SlideEvent struct {
	Slide     string
	Kind      SlideEventKind
	Position  SlidePosition
	Extended  bool
	Retracted bool
	Err       error
}

// pendingMove is the single-resolution cell for one in-flight move.
// The sensor path and the timeout timer are both producers; the
// sync.Once guarantees exactly one of them wins, the MoveTo caller is
// the sole consumer parked on done.
type pendingMove struct {
	once sync.Once
	done chan struct{}
	err  error
}

// Slide drives one pneumatic slide between its two end positions: one
// output pin pushes the valve, two input pins confirm the mechanics.
// All pin access goes through the device registry, the two sensors may
// live on different boards than the valve.
type Slide struct {
	Name           string
	Output         PinRef
	ExtendedInput  PinRef
	RetractedInput PinRef
	TimeoutMs      int

	devices *DeviceRegistry
	events  chan SlideEvent
	logger  *log.Logger
	timeout time.Duration

	mu       sync.Mutex
	position SlidePosition
	moving   bool
	pending  *pendingMove
	disposed bool

	hk *SlideCover
}

// Init binds the slide to its registry, validates that every pin
// reference resolves, and derives the initial position from the
// sensors as they stand right now.
func (sl *Slide) Init(devices *DeviceRegistry, events chan SlideEvent) error {
	sl.devices = devices
	sl.events = events
	sl.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: sl.Name,
		Level:  log.GetLevel(),
	})

	if sl.TimeoutMs <= 0 {
		sl.TimeoutMs = defaultMoveTimeoutMs
	}
	sl.timeout = time.Duration(sl.TimeoutMs) * time.Millisecond

	if !devices.hasOutput(sl.Output.Device, sl.Output.Pin) {
		return errors.Errorf("slide %s: output pin %s not found (board: %q)", sl.Name, sl.Output.Pin, sl.Output.Device)
	}
	if !devices.hasInput(sl.ExtendedInput.Device, sl.ExtendedInput.Pin) {
		return errors.Errorf("slide %s: extended sensor pin %s not found (board: %q)", sl.Name, sl.ExtendedInput.Pin, sl.ExtendedInput.Device)
	}
	if !devices.hasInput(sl.RetractedInput.Device, sl.RetractedInput.Pin) {
		return errors.Errorf("slide %s: retracted sensor pin %s not found (board: %q)", sl.Name, sl.RetractedInput.Pin, sl.RetractedInput.Device)
	}

	extended, retracted := sl.sensorStates()
	sl.mu.Lock()
	sl.position = derivePosition(extended, retracted)
	sl.mu.Unlock()
	return nil
}

func (sl *Slide) sensorStates() (extended bool, retracted bool) {
	extended, _ = sl.devices.InputState(sl.ExtendedInput.Device, sl.ExtendedInput.Pin)
	retracted, _ = sl.devices.InputState(sl.RetractedInput.Device, sl.RetractedInput.Pin)
	return
}

func (sl *Slide) Position() SlidePosition {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.position
}

func (sl *Slide) Moving() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.moving
}

// HandleBoardEvent feeds one board edge event into the slide. Events
// not touching this slide's sensors are ignored.
func (sl *Slide) HandleBoardEvent(ev boards.Event) {
	if ev.Kind != boards.EventInputChanged {
		return
	}
	if !sl.ExtendedInput.matches(ev) && !sl.RetractedInput.matches(ev) {
		return
	}
	sl.reDerive()
}

// reDerive recomputes the position from both sensors. The monitor
// updates every held pin state of a pass before emitting events, so
// reading both sensors here always observes post-pass values even when
// both flipped in the same pass.
func (sl *Slide) reDerive() {
	extended, retracted := sl.sensorStates()

	sl.mu.Lock()
	pos := derivePosition(extended, retracted)
	changed := pos != sl.position
	sl.position = pos

	var confirmed *pendingMove
	if changed && pos.Terminal() && sl.pending != nil {
		confirmed = sl.pending
	}
	sl.mu.Unlock()

	sl.publish(SlideEvent{Slide: sl.Name, Kind: SlideSensorsChanged, Position: pos, Extended: extended, Retracted: retracted})
	if changed {
		sl.publish(SlideEvent{Slide: sl.Name, Kind: SlidePositionChanged, Position: pos, Extended: extended, Retracted: retracted})
		if pos == PositionUnknown {
			faultErr := errors.Errorf("slide %s sensor fault: both end sensors asserted", sl.Name)
			sl.logger.Warn("sensor fault, both end sensors asserted")
			sl.publish(SlideEvent{Slide: sl.Name, Kind: SlideError, Position: pos, Err: faultErr})
		}
	}

	if confirmed != nil {
		// sensor-confirmed terminal position is the sole success path
		sl.resolve(confirmed, nil)
	}
}

func (sl *Slide) Extend() error {
	return sl.MoveTo(true)
}

func (sl *Slide) Retract() error {
	return sl.MoveTo(false)
}

// MoveTo drives the slide to one of its end positions and blocks the
// caller until sensors confirm arrival or the timeout budget runs out.
// A second move while one is pending is rejected, not queued. Moving
// to the position already held succeeds immediately with no physical
// action.
func (sl *Slide) MoveTo(targetExtended bool) error {
	target := PositionRetracted
	if targetExtended {
		target = PositionExtended
	}

	sl.mu.Lock()
	if sl.disposed {
		sl.mu.Unlock()
		return errors.Wrapf(ErrSlideDisposed, "slide %s", sl.Name)
	}
	if sl.moving {
		sl.mu.Unlock()
		return errors.Wrapf(ErrMoveInProgress, "slide %s", sl.Name)
	}
	if sl.position == target {
		sl.mu.Unlock()
		return nil
	}

	pm := &pendingMove{done: make(chan struct{})}
	sl.moving = true
	sl.pending = pm
	sl.position = PositionMoving
	sl.mu.Unlock()

	sl.logger.Info("starting move", "target", target.String(), "timeout", sl.timeout)
	sl.publish(SlideEvent{Slide: sl.Name, Kind: SlidePositionChanged, Position: PositionMoving})

	err := sl.devices.SetOutput(sl.Output.Device, sl.Output.Pin, targetExtended)
	if err != nil {
		sl.resolve(pm, errors.Wrapf(err, "slide %s output write failed", sl.Name))
		<-pm.done
		return pm.err
	}

	timer := time.AfterFunc(sl.timeout, func() {
		sl.resolve(pm, errors.Wrapf(ErrMoveTimeout, "slide %s movement timeout after %dms", sl.Name, sl.timeout.Milliseconds()))
	})

	<-pm.done
	timer.Stop()
	return pm.err
}

// resolve settles a pending move exactly once. Every failure path
// leaves the slide in a definite position (Unknown) with one error
// notification; a late call after the cell is settled has no effect.
func (sl *Slide) resolve(pm *pendingMove, err error) {
	pm.once.Do(func() {
		sl.mu.Lock()
		sl.moving = false
		sl.pending = nil
		positionForced := false
		if err != nil && sl.position != PositionUnknown {
			sl.position = PositionUnknown
			positionForced = true
		}
		sl.mu.Unlock()

		if err != nil {
			sl.logger.Error("move failed", "err", err)
			if positionForced {
				sl.publish(SlideEvent{Slide: sl.Name, Kind: SlidePositionChanged, Position: PositionUnknown})
			}
			sl.publish(SlideEvent{Slide: sl.Name, Kind: SlideError, Position: PositionUnknown, Err: err})
		} else {
			sl.logger.Info("move confirmed", "position", sl.Position().String())
		}

		pm.err = err
		close(pm.done)
	})
}

// Dispose tears the slide down. A pending move fails over to
// ErrSlideDisposed so no caller is left parked.
func (sl *Slide) Dispose() {
	sl.mu.Lock()
	if sl.disposed {
		sl.mu.Unlock()
		return
	}
	sl.disposed = true
	pm := sl.pending
	sl.mu.Unlock()

	if pm != nil {
		sl.resolve(pm, errors.Wrapf(ErrSlideDisposed, "slide %s", sl.Name))
	}
}

func (sl *Slide) publish(ev SlideEvent) {
	if sl.events == nil {
		return
	}
	select {
	case sl.events <- ev:
	default:
		select {
		case <-sl.events:
		default:
		}
		select {
		case sl.events <- ev:
		default:
		}
	}
}
