package creature

import (
	"testing"

	"arcatch.ai/internal/sim/catalogs"
)

func TestHandoff_RequiresCurrentOwner(t *testing.T) {
	inst := New("C1", catalogs.Fallback())
	if inst.Owner() != OwnerMovement {
		t.Fatalf("new instance owner=%v", inst.Owner())
	}
	if inst.Handoff(OwnerCapture, StateProjected) {
		t.Fatalf("capture must not drive a movement-owned instance")
	}
	if !inst.Handoff(OwnerMovement, StateInCaptureMode) {
		t.Fatalf("movement handoff to capture failed")
	}
	if inst.Handoff(OwnerMovement, StateEscaping) {
		t.Fatalf("movement no longer owns it")
	}
	if !inst.Handoff(OwnerCapture, StateEscaping) || inst.Owner() != OwnerMovement {
		t.Fatalf("capture fail handoff to escape failed: %v", inst.State())
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	inst := New("C1", catalogs.Fallback())
	if !inst.Destroy() {
		t.Fatalf("first destroy should report true")
	}
	if inst.Destroy() {
		t.Fatalf("second destroy should be a no-op")
	}
	if inst.Alive() || inst.Handoff(OwnerNone, StateWandering) {
		t.Fatalf("destroyed instance must stay terminal")
	}
}

func TestActiveSet_SnapshotSafeDuringRemoval(t *testing.T) {
	s := NewActiveSet(3)
	for _, id := range []string{"C1", "C2", "C3"} {
		if err := s.Add(New(id, catalogs.Fallback())); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	if !s.Full() {
		t.Fatalf("expected full at capacity")
	}
	if err := s.Add(New("C1", catalogs.Fallback())); err != ErrDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	seen := 0
	for _, inst := range s.Snapshot() {
		if _, ok := s.Remove(inst.ID); !ok {
			t.Fatalf("remove %s failed", inst.ID)
		}
		seen++
	}
	if seen != 3 || s.Len() != 0 {
		t.Fatalf("seen=%d remaining=%d", seen, s.Len())
	}
	if _, ok := s.Remove("C1"); ok {
		t.Fatalf("remove of missing id should report false")
	}
}

func TestActiveSet_InsertionOrder(t *testing.T) {
	s := NewActiveSet(0)
	for _, id := range []string{"C3", "C1", "C2"} {
		_ = s.Add(New(id, catalogs.Fallback()))
	}
	s.Remove("C1")
	got := s.Snapshot()
	if len(got) != 2 || got[0].ID != "C3" || got[1].ID != "C2" {
		t.Fatalf("order mismatch: %v %v", got[0].ID, got[1].ID)
	}
	if s.Full() {
		t.Fatalf("zero capacity means unbounded")
	}
}
