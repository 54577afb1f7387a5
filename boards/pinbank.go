package boards

import "github.com/pkg/errors"

// Pin is one digital input or output bit: a fixed number within its
// bank, an optional name, and the last state read from (or written to)
// the board.
type Pin struct {
	Number uint16
	Name   string

	state bool
}

func (p *Pin) State() bool {
	return p.state
}

// PinBank holds the full pin state of one board: a dense bank of
// inputs and a matching bank of outputs, numbered [0, capacity).
// A name maps to at most one pin per bank. The bank itself is not
// goroutine safe; the owning monitor serializes access.
type PinBank struct {
	capacity Capacity
	inputs   []Pin
	outputs  []Pin
}

func NewPinBank(capacity Capacity, inputNames map[string]uint16, outputNames map[string]uint16) (*PinBank, error) {
	if !capacity.Valid() {
		return nil, errors.Errorf("unsupported board capacity: %d (only 8 and 16 pin boards)", capacity)
	}

	bank := &PinBank{
		capacity: capacity,
		inputs:   make([]Pin, capacity),
		outputs:  make([]Pin, capacity),
	}
	for no := uint16(0); no < uint16(capacity); no++ {
		bank.inputs[no].Number = no
		bank.outputs[no].Number = no
	}

	err := nameBank(bank.inputs, inputNames, capacity)
	if err != nil {
		return nil, errors.Wrap(err, "naming input pins failed")
	}
	err = nameBank(bank.outputs, outputNames, capacity)
	if err != nil {
		return nil, errors.Wrap(err, "naming output pins failed")
	}

	return bank, nil
}

func nameBank(bank []Pin, names map[string]uint16, capacity Capacity) error {
	for name, no := range names {
		if no >= uint16(capacity) {
			return errors.Errorf("pin %s number %d out of range [0, %d)", name, no, capacity)
		}
		if len(bank[no].Name) > 0 {
			return errors.Errorf("pin number %d named twice: %s and %s", no, bank[no].Name, name)
		}
		bank[no].Name = name
	}
	return nil
}

func (pb *PinBank) Capacity() Capacity {
	return pb.capacity
}

func findByName(bank []Pin, name string) *Pin {
	if len(name) == 0 {
		return nil
	}
	for i := range bank {
		if bank[i].Name == name {
			return &bank[i]
		}
	}
	return nil
}

// InputByName returns the input pin carrying name, or nil. Matching is
// exact, no folding.
func (pb *PinBank) InputByName(name string) *Pin {
	return findByName(pb.inputs, name)
}

func (pb *PinBank) OutputByName(name string) *Pin {
	return findByName(pb.outputs, name)
}

func (pb *PinBank) Input(no uint16) *Pin {
	if no >= uint16(pb.capacity) {
		return nil
	}
	return &pb.inputs[no]
}

func (pb *PinBank) Output(no uint16) *Pin {
	if no >= uint16(pb.capacity) {
		return nil
	}
	return &pb.outputs[no]
}
