package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/a7maadf/anonnet/pkg/circuit"
)

func buildFor(manager *circuit.Manager) Builder {
	return func(purpose circuit.Purpose) (*circuit.Circuit, error) {
		return manager.Create(purpose)
	}
}

func TestAcquireBuildsFreshWhenPoolEmpty(t *testing.T) {
	manager := circuit.NewManager()
	p := NewCircuitPool(manager, buildFor(manager))

	c, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c == nil {
		t.Fatal("expected a non-nil circuit")
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1", p.Size())
	}
}

func TestReleaseThenAcquireReusesCircuit(t *testing.T) {
	manager := circuit.NewManager()
	p := NewCircuitPool(manager, buildFor(manager))

	first, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(first.ID)

	second, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected the released circuit to be reused rather than building a fresh one")
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1 after reuse", p.Size())
	}
}

func TestAcquireSkipsInUseCircuits(t *testing.T) {
	manager := circuit.NewManager()
	p := NewCircuitPool(manager, buildFor(manager))

	first, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.ID == second.ID {
		t.Error("expected a fresh circuit since the first is still in use")
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d, want 2", p.Size())
	}
}

func TestAcquireRejectsOverReusedEntries(t *testing.T) {
	manager := circuit.NewManager()
	p := NewCircuitPool(manager, buildFor(manager))
	p.MaxReuse = 1

	first, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(first.ID)

	second, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected the first reuse to still succeed")
	}
	p.Release(second.ID)

	third, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if third.ID == first.ID {
		t.Error("expected the over-reused entry to be skipped, building a fresh circuit instead")
	}
}

func TestCleanupRetiresOverAgedIdleEntries(t *testing.T) {
	manager := circuit.NewManager()
	p := NewCircuitPool(manager, buildFor(manager))
	p.MaxAge = time.Millisecond

	c, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c.ID)
	time.Sleep(5 * time.Millisecond)

	removed := p.Cleanup()
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if p.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after cleanup", p.Size())
	}
	if _, ok := manager.Get(c.ID); ok {
		t.Error("expected the manager to have destroyed the retired circuit too")
	}
}

func TestCleanupLeavesInUseEntriesAlone(t *testing.T) {
	manager := circuit.NewManager()
	p := NewCircuitPool(manager, buildFor(manager))
	p.MaxAge = time.Millisecond

	c, err := p.Acquire(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	removed := p.Cleanup()
	if removed != 0 {
		t.Errorf("Cleanup() removed %d in-use entries, want 0", removed)
	}
	if p.Size() != 1 {
		t.Errorf("Size() = %d, want 1", p.Size())
	}
}

func TestAcquirePropagatesBuildError(t *testing.T) {
	manager := circuit.NewManager()
	wantErr := errors.New("boom")
	p := NewCircuitPool(manager, func(circuit.Purpose) (*circuit.Circuit, error) {
		return nil, wantErr
	})

	if _, err := p.Acquire(circuit.PurposeGeneral); err == nil {
		t.Error("expected Acquire to propagate the builder's error")
	}
}
