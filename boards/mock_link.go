package boards

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

const mockLinkName = "mock"

// OutputWrite records one write issued through a MockLink.
type OutputWrite struct {
	SetMask   uint32
	ClearMask uint32
}

// MockLink is an in-memory board transport for tests and for the
// FakeBoard config slot. Input and output masks are settable from the
// outside, writes are recorded, and faults can be injected on any
// primitive.
type MockLink struct {
	InitialInputs  uint32
	InitialOutputs uint32

	mu        sync.Mutex
	connected bool
	inputs    uint32
	faults    uint32
	outputs   uint32
	writes    []OutputWrite

	connectErr error
	readErr    error
	writeErr   error
}

func (ml *MockLink) Connect(ctx context.Context) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.connectErr != nil {
		return ml.connectErr
	}
	if !ml.connected {
		ml.inputs = ml.InitialInputs
		ml.outputs = ml.InitialOutputs
	}
	ml.connected = true
	return nil
}

func (ml *MockLink) Disconnect() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.connected = false
	return nil
}

func (ml *MockLink) Connected() bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.connected
}

func (ml *MockLink) ReadInputs() (uint32, uint32, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if !ml.connected {
		return 0, 0, errors.New("mock link: read on closed connection")
	}
	if ml.readErr != nil {
		return 0, 0, ml.readErr
	}
	return ml.inputs, ml.faults, nil
}

func (ml *MockLink) ReadOutputs() (uint32, uint32, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if !ml.connected {
		return 0, 0, errors.New("mock link: read on closed connection")
	}
	if ml.readErr != nil {
		return 0, 0, ml.readErr
	}
	return ml.outputs, 0, nil
}

// WriteOutputs applies set before clear, the same order a real board
// gate resolves overlapping masks.
func (ml *MockLink) WriteOutputs(setMask uint32, clearMask uint32) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if !ml.connected {
		return errors.New("mock link: write on closed connection")
	}
	if ml.writeErr != nil {
		return ml.writeErr
	}
	ml.outputs |= setMask
	ml.outputs &^= clearMask
	ml.writes = append(ml.writes, OutputWrite{SetMask: setMask, ClearMask: clearMask})
	return nil
}

func (ml *MockLink) String() string {
	return mockLinkName
}

// SetInputs replaces the input mask the next read will observe.
func (ml *MockLink) SetInputs(bits uint32) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.inputs = bits
}

func (ml *MockLink) SetFaults(bits uint32) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.faults = bits
}

func (ml *MockLink) Outputs() uint32 {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.outputs
}

// Writes returns every recorded output write, oldest first.
func (ml *MockLink) Writes() []OutputWrite {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	writes := make([]OutputWrite, len(ml.writes))
	copy(writes, ml.writes)
	return writes
}

func (ml *MockLink) FailConnect(err error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.connectErr = err
}

func (ml *MockLink) FailReads(err error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.readErr = err
}

func (ml *MockLink) FailWrites(err error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.writeErr = err
}
