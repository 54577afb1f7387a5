package boards

import (
	"context"

	"github.com/pkg/errors"
)

// BoardLink is the transport to one physical I/O board. Implementations
// own the wire protocol; the monitor only moves masks through it.
// Any non-nil error from a read or write is a transport fault.
type BoardLink interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	ReadInputs() (bits uint32, faults uint32, err error)
	ReadOutputs() (bits uint32, status uint32, err error)
	WriteOutputs(setMask uint32, clearMask uint32) error
	String() string
}

var (
	ErrNotConnected = errors.New("board not connected")
	ErrPinNotFound  = errors.New("pin not found")
	ErrDisposed     = errors.New("board disposed")
)

// Capacity is the pin count class of a board: 8 or 16 inputs with a
// matching bank of outputs.
type Capacity uint8

const (
	Cap8  Capacity = 8
	Cap16 Capacity = 16
)

func (c Capacity) Valid() bool {
	return c == Cap8 || c == Cap16
}

// InputBit returns the protocol-word mask for input pin number pin.
// Inputs occupy the low bits of the word, in pin order.
func (c Capacity) InputBit(pin uint16) uint32 {
	return 1 << pin
}

// OutputBit returns the protocol-word mask for output pin number pin.
// Outputs sit above the input block: 8-pin boards use bits 8-15,
// 16-pin boards use bits 16-31. Pin 0 of a bank is never bit 0 of the
// word for outputs.
func (c Capacity) OutputBit(pin uint16) uint32 {
	return 1 << (uint16(c) + pin)
}
