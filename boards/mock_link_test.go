package boards

import (
	"context"
	"testing"
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

func assertMasks(t testing.TB, got, want uint32) {
	t.Helper()

	if got != want {
		t.Errorf("got mask: %#x want: %#x", got, want)
	}
}

func TestMockLinkConnect(t *testing.T) {
	ml := &MockLink{InitialInputs: 0b101}

	got := ml.Connected()
	assertBools(t, got, false)

	err := ml.Connect(context.Background())
	if err != nil {
		t.Errorf("Connect returned err: %v", err)
	}
	assertBools(t, ml.Connected(), true)

	bits, faults, err := ml.ReadInputs()
	if err != nil {
		t.Errorf("ReadInputs returned err: %v", err)
	}
	assertMasks(t, bits, 0b101)
	assertMasks(t, faults, 0)
}

func TestMockLinkReadWhenDisconnected(t *testing.T) {
	ml := &MockLink{}

	_, _, err := ml.ReadInputs()
	if err == nil {
		t.Error("got nil error reading disconnected link")
	}

	err = ml.WriteOutputs(1, 0)
	if err == nil {
		t.Error("got nil error writing disconnected link")
	}
}

func TestMockLinkWriteOutputs(t *testing.T) {
	ml := &MockLink{}
	ml.Connect(context.Background())

	err := ml.WriteOutputs(1<<19, 0)
	if err != nil {
		t.Errorf("WriteOutputs returned err: %v", err)
	}
	assertMasks(t, ml.Outputs(), 1<<19)

	err = ml.WriteOutputs(0, 1<<19)
	if err != nil {
		t.Errorf("WriteOutputs returned err: %v", err)
	}
	assertMasks(t, ml.Outputs(), 0)

	writes := ml.Writes()
	assertInts(t, len(writes), 2)
	assertMasks(t, writes[0].SetMask, 1<<19)
	assertMasks(t, writes[0].ClearMask, 0)
	assertMasks(t, writes[1].SetMask, 0)
	assertMasks(t, writes[1].ClearMask, 1<<19)
}

func TestMockLinkInjectedFaults(t *testing.T) {
	ml := &MockLink{}
	ml.Connect(context.Background())

	readErr := context.DeadlineExceeded
	ml.FailReads(readErr)

	_, _, err := ml.ReadInputs()
	if err != readErr {
		t.Errorf("got err: %v, want injected: %v", err, readErr)
	}

	ml.FailWrites(readErr)
	err = ml.WriteOutputs(1, 0)
	if err != readErr {
		t.Errorf("got err: %v, want injected: %v", err, readErr)
	}
}
