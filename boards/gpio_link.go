package boards

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioLinkName = "gpio"

// GpioLink exposes a set of Raspberry Pi GPIO lines as one 8-pin
// board. InputPins and OutputPins list BCM pin numbers in bank order:
// InputPins[n] backs input pin n, OutputPins[n] backs output pin n.
type GpioLink struct {
	InputPins     []uint8
	OutputPins    []uint8
	InvertInputs  bool
	InvertOutputs bool

	connected bool
}

func (gl *GpioLink) Connect(ctx context.Context) error {
	if len(gl.InputPins) > int(Cap8) || len(gl.OutputPins) > int(Cap8) {
		return errors.Errorf("gpio link supports at most %d pins per bank (got %d in, %d out)",
			Cap8, len(gl.InputPins), len(gl.OutputPins))
	}

	err := rpio.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open gpio for pins: %v, %v", gl.InputPins, gl.OutputPins)
	}

	for _, bcm := range gl.InputPins {
		pin := rpio.Pin(bcm)
		pin.Input()
		pin.PullUp()
	}
	for _, bcm := range gl.OutputPins {
		pin := rpio.Pin(bcm)
		pin.Output()
	}

	gl.connected = true
	return nil
}

func (gl *GpioLink) Disconnect() error {
	if !gl.connected {
		return nil
	}
	for _, bcm := range gl.OutputPins {
		gl.writeLevel(bcm, false)
	}
	gl.connected = false
	return rpio.Close()
}

func (gl *GpioLink) Connected() bool {
	return gl.connected
}

func (gl *GpioLink) ReadInputs() (uint32, uint32, error) {
	if !gl.connected {
		return 0, 0, ErrNotConnected
	}

	var bits uint32
	for no, bcm := range gl.InputPins {
		state := rpio.Pin(bcm).Read() == rpio.High
		if gl.InvertInputs {
			state = !state
		}
		if state {
			bits |= Cap8.InputBit(uint16(no))
		}
	}
	return bits, 0, nil
}

func (gl *GpioLink) ReadOutputs() (uint32, uint32, error) {
	if !gl.connected {
		return 0, 0, ErrNotConnected
	}

	var bits uint32
	for no, bcm := range gl.OutputPins {
		state := rpio.Pin(bcm).Read() == rpio.High
		if gl.InvertOutputs {
			state = !state
		}
		if state {
			bits |= Cap8.OutputBit(uint16(no))
		}
	}
	return bits, 0, nil
}

func (gl *GpioLink) WriteOutputs(setMask uint32, clearMask uint32) error {
	if !gl.connected {
		return ErrNotConnected
	}

	for no, bcm := range gl.OutputPins {
		mask := Cap8.OutputBit(uint16(no))
		switch {
		case setMask&mask != 0:
			gl.writeLevel(bcm, true)
		case clearMask&mask != 0:
			gl.writeLevel(bcm, false)
		}
	}
	return nil
}

func (gl *GpioLink) writeLevel(bcm uint8, state bool) {
	if gl.InvertOutputs {
		state = !state
	}
	if state {
		rpio.Pin(bcm).High()
	} else {
		rpio.Pin(bcm).Low()
	}
}

func (gl *GpioLink) String() string {
	return gpioLinkName
}
