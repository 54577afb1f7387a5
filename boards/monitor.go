package boards

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const DefaultSampleInterval = 100 * time.Millisecond

// bounded join on teardown: a loop stuck in a transport call may not
// come back before we release the link
const loopJoinTimeout = 2 * time.Second

type monitorState int

const (
	monitorCreated monitorState = iota
	monitorConnected
	monitorDisconnected
	monitorDisposed
)

// PinState is a read-only snapshot of one pin.
type PinState struct {
	Number uint16
	Name   string
	State  bool
}

// Monitor keeps one board's PinBank truthful with respect to hardware.
// It runs a dedicated sampling loop while connected, diffing freshly
// read masks against held state and emitting one event per flipped
// named pin. The bank is owned exclusively by the monitor; everything
// external reads snapshots.
type Monitor struct {
	name     string
	link     BoardLink
	bank     *PinBank
	interval time.Duration
	events   chan Event
	logger   *log.Logger

	// Debounce is the number of consecutive identical samples a pin
	// must show before a change is accepted. Zero or one disables it.
	Debounce int

	mu       sync.Mutex
	state    monitorState
	done     chan struct{}
	loopDone chan struct{}

	inputHold  []debounceHold
	outputHold []debounceHold
}

type debounceHold struct {
	raw   bool
	count int
}

func NewMonitor(name string, capacity Capacity, link BoardLink, inputNames map[string]uint16, outputNames map[string]uint16, events chan Event) (*Monitor, error) {
	bank, err := NewPinBank(capacity, inputNames, outputNames)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build pin bank for board %s", name)
	}

	return &Monitor{
		name:     name,
		link:     link,
		bank:     bank,
		interval: DefaultSampleInterval,
		events:   events,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: name,
			Level:  log.GetLevel(),
		}),
		inputHold:  make([]debounceHold, capacity),
		outputHold: make([]debounceHold, capacity),
	}, nil
}

func (m *Monitor) Name() string {
	return m.name
}

func (m *Monitor) Capacity() Capacity {
	return m.bank.Capacity()
}

// SetSampleInterval adjusts the polling cadence. Takes effect on the
// next Connect.
func (m *Monitor) SetSampleInterval(interval time.Duration) {
	if interval > 0 {
		m.interval = interval
	}
}

// Connect opens the board link, primes held pin state from a first
// read (no events, a priming read is not a transition) and starts the
// sampling loop.
func (m *Monitor) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case monitorDisposed:
		return errors.Wrapf(ErrDisposed, "board %s", m.name)
	case monitorConnected:
		return nil
	}

	err := m.link.Connect(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to connect board %s", m.name)
	}

	err = m.prime()
	if err != nil {
		m.link.Disconnect()
		return errors.Wrapf(err, "priming read failed on board %s", m.name)
	}

	m.state = monitorConnected
	m.done = make(chan struct{})
	m.loopDone = make(chan struct{})
	go m.run(m.done, m.loopDone)

	publish(m.events, Event{Board: m.name, Kind: EventConnection, State: true})
	m.logger.Info("board connected", "capacity", uint8(m.bank.Capacity()))
	return nil
}

func (m *Monitor) prime() error {
	inBits, _, err := m.link.ReadInputs()
	if err != nil {
		return err
	}
	outBits, _, err := m.link.ReadOutputs()
	if err != nil {
		return err
	}

	capacity := m.bank.Capacity()
	for no := uint16(0); no < uint16(capacity); no++ {
		m.bank.Input(no).state = inBits&capacity.InputBit(no) != 0
		m.bank.Output(no).state = outBits&capacity.OutputBit(no) != 0
	}
	for i := range m.inputHold {
		m.inputHold[i] = debounceHold{}
		m.outputHold[i] = debounceHold{}
	}
	return nil
}

func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == monitorConnected
}

func (m *Monitor) run(done chan struct{}, loopDone chan struct{}) {
	defer close(loopDone)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := m.Sample()
			if err != nil {
				m.logger.Error("sampling failed, disconnecting board", "err", err)
				publish(m.events, Event{Board: m.name, Kind: EventError, Err: err})
				m.dropConnection()
				return
			}
		}
	}
}

// Sample runs one sampling pass: read both masks, update every held
// pin state, then emit edge events for named pins in pin-index order.
// All states are updated before the first event goes out, so an event
// consumer reading back any pin of this board sees post-pass values.
func (m *Monitor) Sample() error {
	m.mu.Lock()

	inBits, faultBits, err := m.link.ReadInputs()
	if err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "input mask read failed")
	}
	outBits, _, err := m.link.ReadOutputs()
	if err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "output mask read failed")
	}

	capacity := m.bank.Capacity()
	changed := make([]Event, 0, 4)

	for no := uint16(0); no < uint16(capacity); no++ {
		pin := m.bank.Input(no)
		raw := inBits&capacity.InputBit(no) != 0
		if m.accept(&m.inputHold[no], raw, pin.state) {
			pin.state = raw
			if len(pin.Name) > 0 {
				changed = append(changed, Event{Board: m.name, Kind: EventInputChanged, Pin: pin.Name, State: raw})
			}
		}
	}
	for no := uint16(0); no < uint16(capacity); no++ {
		pin := m.bank.Output(no)
		raw := outBits&capacity.OutputBit(no) != 0
		if m.accept(&m.outputHold[no], raw, pin.state) {
			pin.state = raw
			if len(pin.Name) > 0 {
				changed = append(changed, Event{Board: m.name, Kind: EventOutputChanged, Pin: pin.Name, State: raw})
			}
		}
	}
	m.mu.Unlock()

	if faultBits != 0 {
		m.logger.Warn("board reports input faults", "mask", faultBits)
	}

	for _, ev := range changed {
		publish(m.events, ev)
	}
	return nil
}

// accept decides whether a raw sample becomes the held state. Without
// debounce any single differing sample is authoritative.
func (m *Monitor) accept(hold *debounceHold, raw, held bool) bool {
	if raw == held {
		hold.count = 0
		return false
	}
	if m.Debounce <= 1 {
		return true
	}
	if hold.raw == raw {
		hold.count++
	} else {
		hold.raw = raw
		hold.count = 1
	}
	if hold.count >= m.Debounce {
		hold.count = 0
		return true
	}
	return false
}

// SetOutput issues a single-bit set or clear write for the named
// output pin. Held state is not touched here; the next sampling pass
// reads it back and emits the edge event.
func (m *Monitor) SetOutput(pinName string, state bool) error {
	m.mu.Lock()
	pin := m.bank.OutputByName(pinName)
	if pin == nil {
		m.mu.Unlock()
		return errors.Wrapf(ErrPinNotFound, "output %s on board %s", pinName, m.name)
	}
	if m.state != monitorConnected {
		m.mu.Unlock()
		return errors.Wrapf(ErrNotConnected, "board %s", m.name)
	}
	mask := m.bank.Capacity().OutputBit(pin.Number)
	m.mu.Unlock()

	var err error
	if state {
		err = m.link.WriteOutputs(mask, 0)
	} else {
		err = m.link.WriteOutputs(0, mask)
	}
	if err != nil {
		return errors.Wrapf(err, "output write failed for %s on board %s", pinName, m.name)
	}
	return nil
}

// InputState reports the held state of a named input; found is false
// for an unconfigured name, distinct from a low pin.
func (m *Monitor) InputState(pinName string) (state bool, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pin := m.bank.InputByName(pinName)
	if pin == nil {
		return false, false
	}
	return pin.state, true
}

func (m *Monitor) OutputState(pinName string) (state bool, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pin := m.bank.OutputByName(pinName)
	if pin == nil {
		return false, false
	}
	return pin.state, true
}

// HasInput reports whether this board carries a named input pin.
func (m *Monitor) HasInput(pinName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bank.InputByName(pinName) != nil
}

func (m *Monitor) HasOutput(pinName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bank.OutputByName(pinName) != nil
}

// Pins snapshots the whole bank for status reporting.
func (m *Monitor) Pins() (inputs []PinState, outputs []PinState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := m.bank.Capacity()
	for no := uint16(0); no < uint16(capacity); no++ {
		in := m.bank.Input(no)
		inputs = append(inputs, PinState{Number: no, Name: in.Name, State: in.state})
		out := m.bank.Output(no)
		outputs = append(outputs, PinState{Number: no, Name: out.Name, State: out.state})
	}
	return
}

// Disconnect stops the sampling loop, joins it, then releases the
// link. Safe to call on an already disconnected board.
func (m *Monitor) Disconnect() error {
	return m.stop(monitorDisconnected)
}

// Close tears the monitor down for good. Any further Connect fails
// with ErrDisposed.
func (m *Monitor) Close() error {
	return m.stop(monitorDisposed)
}

func (m *Monitor) stop(target monitorState) error {
	m.mu.Lock()
	wasConnected := m.state == monitorConnected
	done, loopDone := m.done, m.loopDone
	if m.state != monitorDisposed {
		m.state = target
	}
	m.mu.Unlock()

	if !wasConnected {
		return nil
	}

	close(done)
	select {
	case <-loopDone:
	case <-time.After(loopJoinTimeout):
		m.logger.Warn("sampling loop did not stop in time")
	}

	err := m.link.Disconnect()
	publish(m.events, Event{Board: m.name, Kind: EventConnection, State: false})
	if err != nil {
		return errors.Wrapf(err, "disconnecting board %s failed", m.name)
	}
	return nil
}

// dropConnection is the sampling loop's own failure path: the loop is
// already exiting, only the link and state need care. No retry happens
// here, a higher layer must reconnect explicitly.
func (m *Monitor) dropConnection() {
	m.mu.Lock()
	if m.state != monitorConnected {
		m.mu.Unlock()
		return
	}
	m.state = monitorDisconnected
	m.mu.Unlock()

	m.link.Disconnect()
	publish(m.events, Event{Board: m.name, Kind: EventConnection, State: false})
}
