// Package circuit models an onion-routed path as an ordered list of
// per-hop AEAD state, generalizing the teacher's pkg/circuit (AES-CTR
// ciphers + SHA-1 running digests, mutex-guarded Manager) onto the
// spec's ChaCha20-Poly1305 LayerState pairs and five-purpose,
// five-state circuit model.
package circuit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/a7maadf/anonnet/pkg/aead"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// MinLength is the minimum hop count before a circuit may transition
// from Building to Ready.
const MinLength = 3

// Purpose identifies why a circuit was built, controlling which pool
// bucket and path-selection criteria apply to it.
type Purpose int

const (
	PurposeGeneral Purpose = iota
	PurposeTesting
	PurposeDirectory
	PurposeRendezvous
	PurposeIntroduction
)

func (p Purpose) String() string {
	switch p {
	case PurposeGeneral:
		return "GENERAL"
	case PurposeTesting:
		return "TESTING"
	case PurposeDirectory:
		return "DIRECTORY"
	case PurposeRendezvous:
		return "RENDEZVOUS"
	case PurposeIntroduction:
		return "INTRODUCTION"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// State is a circuit's position in its lifecycle. State is monotone
// toward Closed; a Failed or expired circuit must not serve new streams.
type State int

const (
	StateBuilding State = iota
	StateReady
	StateClosing
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "BUILDING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// CircuitHop is the per-hop state the originator holds for one leg of
// a circuit: the hop's identity plus the forward/backward LayerState
// pair derived from that hop's DH handshake.
type CircuitHop struct {
	PeerNodeID    identity.NodeID
	PeerPublicKey ed25519.PublicKey
	Forward       *aead.LayerState
	Backward      *aead.LayerState
	AddedAt       time.Time
}

// Circuit is an ordered path of hops plus bookkeeping shared by the
// builder, manager, and relay engine. A Circuit is not safe for
// concurrent mutation from outside the manager; reads of its snapshot
// fields should go through the accessor methods, which take the lock.
type Circuit struct {
	ID      uint64
	Purpose Purpose

	mu            sync.RWMutex
	state         State
	hops          []*CircuitHop
	createdAt     time.Time
	lastUsed      time.Time
	bytesSent     uint64
	bytesReceived uint64
}

// NewCircuit allocates a circuit in the Building state with a random
// 64-bit ID.
func NewCircuit(purpose Purpose) (*Circuit, error) {
	id, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("circuit: generate id: %w", err)
	}
	now := time.Now()
	return &Circuit{
		ID:        id,
		Purpose:   purpose,
		state:     StateBuilding,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

func randomID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// AddHop appends a hop. A circuit only accepts new hops while Building
// or already Ready (extension in place is not part of this spec's
// builder flow, but growth past MinLength is otherwise harmless); hops
// may never be appended to a Closing/Failed/Closed circuit.
func (c *Circuit) AddHop(hop *CircuitHop) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosing || c.state == StateFailed || c.state == StateClosed {
		return fmt.Errorf("circuit: cannot add hop in state %s", c.state)
	}

	c.hops = append(c.hops, hop)
	if c.state == StateBuilding && len(c.hops) >= MinLength {
		c.state = StateReady
	}
	return nil
}

// Hops returns a snapshot of the circuit's hop list.
func (c *Circuit) Hops() []*CircuitHop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CircuitHop, len(c.hops))
	copy(out, c.hops)
	return out
}

// Len reports the current hop count.
func (c *Circuit) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hops)
}

// State returns the circuit's current lifecycle state.
func (c *Circuit) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState forces a state transition; callers are responsible for
// respecting monotonicity toward Closed (the manager is the only
// caller that should invoke this with Closed/Failed).
func (c *Circuit) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Ready reports whether the circuit may serve new streams.
func (c *Circuit) Ready() bool {
	return c.State() == StateReady
}

// Truncate removes every hop at index >= k, per the Truncate cell rule:
// the originator keeps the prefix 0..k-1.
func (c *Circuit) Truncate(k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k < len(c.hops) {
		c.hops = c.hops[:k]
	}
	if c.state == StateReady && len(c.hops) < MinLength {
		c.state = StateBuilding
	}
}

// Age returns how long the circuit has existed.
func (c *Circuit) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.createdAt)
}

// IdleFor returns how long the circuit has gone unused.
func (c *Circuit) IdleFor() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastUsed)
}

// CreatedAt returns the circuit's creation time.
func (c *Circuit) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// MarkUsed updates the last-used timestamp and accrues traffic counters.
func (c *Circuit) MarkUsed(sent, received uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()
	c.bytesSent += sent
	c.bytesReceived += received
}

// Stats returns the cumulative byte counters.
func (c *Circuit) Stats() (sent, received uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytesSent, c.bytesReceived
}
