package echoq

import (
	"errors"
	"testing"
)

func TestMockObserver(t *testing.T) {
	m := NewMockObserver()

	m.ObserveWrite(10, 1, StatusSuccess)
	m.ObserveRead(0, 1, StatusCancelled)
	m.ObserveTick(true)
	m.ObserveTick(false)
	m.ObserveAbandoned()
	m.ObserveLostRace()
	m.ObservePending(true)

	completions := m.Completions()
	if len(completions) != 2 {
		t.Fatalf("Expected 2 completions, got %d", len(completions))
	}
	if completions[0].Op != "WRITE" || completions[0].Bytes != 10 {
		t.Errorf("Unexpected first completion %+v", completions[0])
	}
	if completions[1].Status != StatusCancelled {
		t.Errorf("Expected cancelled read, got %v", completions[1].Status)
	}

	counts := m.CallCounts()
	if counts["tick"] != 2 || counts["drained"] != 1 || counts["abandoned"] != 1 || counts["lost_race"] != 1 {
		t.Errorf("Unexpected call counts %v", counts)
	}
	if !m.Pending() {
		t.Error("Expected pending to be recorded")
	}

	m.Reset()
	if len(m.Completions()) != 0 || m.CallCounts()["tick"] != 0 || m.Pending() {
		t.Error("Expected Reset to clear observations")
	}
}

func TestMockAllocator(t *testing.T) {
	a := NewMockAllocator()

	buf, err := a.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if len(buf) != 16 || a.Live() != 1 {
		t.Errorf("Expected one live 16 byte buffer, got len=%d live=%d", len(buf), a.Live())
	}
	a.Free(buf)
	if a.Live() != 0 {
		t.Errorf("Expected no live buffers, got %d", a.Live())
	}

	a.SetFail(true)
	if _, err := a.Alloc(1); !errors.Is(err, ErrMockAllocation) {
		t.Errorf("Expected ErrMockAllocation, got %v", err)
	}
	a.SetFail(false)

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !a.IsClosed() {
		t.Error("Expected allocator to be closed")
	}
	if _, err := a.Alloc(1); err == nil {
		t.Error("Expected Alloc after Close to fail")
	}
}
