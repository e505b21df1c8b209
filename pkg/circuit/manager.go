package circuit

import (
	"fmt"
	"sync"
)

// MaxCircuits is the hard cap on concurrently live circuits per node.
const MaxCircuits = 256

// Manager owns every circuit a node currently knows about, indexed
// both by id and by purpose, generalizing the teacher's Manager (which
// tracked only a flat id map) onto the spec's purpose-indexed
// create/get/destroy/cleanup/ensure contract.
type Manager struct {
	mu        sync.RWMutex
	circuits  map[uint64]*Circuit
	byPurpose map[Purpose][]uint64
}

// NewManager creates an empty circuit manager.
func NewManager() *Manager {
	return &Manager{
		circuits:  make(map[uint64]*Circuit),
		byPurpose: make(map[Purpose][]uint64),
	}
}

// Create allocates and registers a new circuit for purpose. The
// returned circuit starts in StateBuilding; the caller (the builder)
// is responsible for extending it to MinLength hops.
func (m *Manager) Create(purpose Purpose) (*Circuit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.circuits) >= MaxCircuits {
		return nil, fmt.Errorf("circuit manager: at capacity (%d circuits)", MaxCircuits)
	}

	c, err := NewCircuit(purpose)
	if err != nil {
		return nil, err
	}
	for _, exists := m.circuits[c.ID]; exists; _, exists = m.circuits[c.ID] {
		c, err = NewCircuit(purpose)
		if err != nil {
			return nil, err
		}
	}

	m.circuits[c.ID] = c
	m.byPurpose[purpose] = append(m.byPurpose[purpose], c.ID)
	return c, nil
}

// Get returns the circuit with the given id, if present.
func (m *Manager) Get(id uint64) (*Circuit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.circuits[id]
	return c, ok
}

// ByPurpose returns every live circuit registered under purpose.
func (m *Manager) ByPurpose(purpose Purpose) []*Circuit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byPurpose[purpose]
	out := make([]*Circuit, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.circuits[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// MarkFailed transitions the circuit to Failed, if present.
func (m *Manager) MarkFailed(id uint64) {
	m.mu.RLock()
	c, ok := m.circuits[id]
	m.mu.RUnlock()
	if ok {
		c.SetState(StateFailed)
	}
}

// Destroy transitions the circuit to Closed and removes it from the
// manager's indices.
func (m *Manager) Destroy(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.circuits[id]
	if !ok {
		return
	}
	c.SetState(StateClosed)
	delete(m.circuits, id)

	ids := m.byPurpose[c.Purpose]
	for i, pid := range ids {
		if pid == id {
			m.byPurpose[c.Purpose] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Cleanup removes every circuit that is Closed, Failed, or has aged
// past maxAge, returning the number removed. This is the single
// authority that destroys circuits for expiry, per the spec's
// cancellation model.
func (m *Manager) Cleanup(maxAge func(*Circuit) bool) int {
	m.mu.RLock()
	var toRemove []uint64
	for id, c := range m.circuits {
		state := c.State()
		if state == StateClosed || state == StateFailed || maxAge(c) {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range toRemove {
		m.Destroy(id)
	}
	return len(toRemove)
}

// Count returns the number of live circuits.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.circuits)
}

// Ensure lazily tops up the live, Ready circuit count for purpose to at
// least minCount by invoking build for each shortfall. build is
// expected to run the §4.3 extend-by-one handshake and return a
// Ready circuit already registered with this manager (via Create).
func (m *Manager) Ensure(purpose Purpose, minCount int, build func(Purpose) (*Circuit, error)) error {
	ready := 0
	for _, c := range m.ByPurpose(purpose) {
		if c.Ready() {
			ready++
		}
	}
	for ready < minCount {
		c, err := build(purpose)
		if err != nil {
			return fmt.Errorf("circuit manager: ensure %s: %w", purpose, err)
		}
		if c.Ready() {
			ready++
		}
	}
	return nil
}
