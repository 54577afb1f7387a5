package boards

import (
	"context"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
)

const mcpLinkName = "mcpio"

// McpLink exposes one MCP23017 I2C expander as an 8-pin board: the
// GPA bank (chip pins 0-7) carries the inputs, the GPB bank (chip
// pins 8-15) the outputs. With the 8-pin capacity class the chip pin
// number of an output equals its protocol-word bit position, so masks
// map straight onto the chip.
type McpLink struct {
	BusNo         uint8
	DevNo         uint8
	InvertInputs  bool
	InvertOutputs bool

	device *mcp23017.Device
}

func (ml *McpLink) Connect(ctx context.Context) error {
	device, err := mcp23017.Open(ml.BusNo, ml.DevNo)
	if err != nil {
		return errors.Wrapf(err, "failed to open mcp23017 (bus %d, dev %d)", ml.BusNo, ml.DevNo)
	}

	for pin := uint8(0); pin < 8; pin++ {
		err = device.PinMode(pin, mcp23017.INPUT)
		if err == nil {
			err = device.SetPullUp(pin, true)
		}
		if err != nil {
			device.Close()
			return errors.Wrapf(err, "failed to configure input pin %d", pin)
		}
	}
	for pin := uint8(8); pin < 16; pin++ {
		err = device.PinMode(pin, mcp23017.OUTPUT)
		if err != nil {
			device.Close()
			return errors.Wrapf(err, "failed to configure output pin %d", pin)
		}
	}

	ml.device = device
	return nil
}

func (ml *McpLink) Disconnect() error {
	if ml.device == nil {
		return nil
	}
	for pin := uint8(8); pin < 16; pin++ {
		ml.device.DigitalWrite(pin, mcp23017.PinLevel(ml.InvertOutputs))
	}
	err := ml.device.Close()
	ml.device = nil
	return err
}

func (ml *McpLink) Connected() bool {
	return ml.device != nil
}

func (ml *McpLink) ReadInputs() (uint32, uint32, error) {
	if ml.device == nil {
		return 0, 0, ErrNotConnected
	}

	var bits uint32
	for pin := uint8(0); pin < 8; pin++ {
		level, err := ml.device.DigitalRead(pin)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "mcp23017 read failed on pin %d", pin)
		}
		state := bool(level)
		if ml.InvertInputs {
			state = !state
		}
		if state {
			bits |= 1 << pin
		}
	}
	return bits, 0, nil
}

func (ml *McpLink) ReadOutputs() (uint32, uint32, error) {
	if ml.device == nil {
		return 0, 0, ErrNotConnected
	}

	var bits uint32
	for pin := uint8(8); pin < 16; pin++ {
		level, err := ml.device.DigitalRead(pin)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "mcp23017 read failed on pin %d", pin)
		}
		state := bool(level)
		if ml.InvertOutputs {
			state = !state
		}
		if state {
			bits |= 1 << pin
		}
	}
	return bits, 0, nil
}

func (ml *McpLink) WriteOutputs(setMask uint32, clearMask uint32) error {
	if ml.device == nil {
		return ErrNotConnected
	}

	for pin := uint8(8); pin < 16; pin++ {
		var state bool
		switch {
		case setMask&(1<<pin) != 0:
			state = true
		case clearMask&(1<<pin) != 0:
			state = false
		default:
			continue
		}
		if ml.InvertOutputs {
			state = !state
		}
		err := ml.device.DigitalWrite(pin, mcp23017.PinLevel(state))
		if err != nil {
			return errors.Wrapf(err, "mcp23017 write failed on pin %d", pin)
		}
	}
	return nil
}

func (ml *McpLink) String() string {
	return mcpLinkName
}
