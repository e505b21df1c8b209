// Package rendezvous implements the Introduce/Rendezvous message flow
// that binds a client's circuit to a hidden service's circuit at a
// rendezvous point, per spec.md §4.9. Grounded on the teacher's
// intro/rendezvous demo wiring (_examples/opd-ai-go-tor/examples
// /rendezvous-demo, onion-service-demo) and generalized off Tor's
// HSDir-based discovery onto this codebase's pkg/dht.
package rendezvous

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// RendezvousIDSize is the width of a rendezvous session identifier.
const RendezvousIDSize = 32

// RendezvousID binds a client-side and a service-side circuit at a
// rendezvous point.
type RendezvousID [RendezvousIDSize]byte

// NewRendezvousID generates a fresh random identifier.
func NewRendezvousID() (RendezvousID, error) {
	var id RendezvousID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("rendezvous: generate id: %w", err)
	}
	return id, nil
}

// State is a rendezvous session's lifecycle, per spec.md §4.9's closing
// paragraph: WaitingForService transitions atomically to Connected on
// the service's arrival; it never transitions back.
type State int

const (
	StateWaitingForService State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateWaitingForService:
		return "WAITING_FOR_SERVICE"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// IntroduceMessage is sent by the client through an Introduction-purpose
// circuit to an introduction point, to be delivered to the service.
type IntroduceMessage struct {
	RendezvousID   RendezvousID
	RendezvousNode identity.NodeID
	ClientAuth     []byte
}

// RendezvousMessage is sent by the service through its own circuit to
// the rendezvous point, completing the splice.
type RendezvousMessage struct {
	RendezvousID RendezvousID
	ServiceAuth  []byte
}

// Session is one rendezvous point's bookkeeping for a single
// RendezvousID: the client-side circuit that arrived first, waiting to
// be spliced to the service-side circuit once it arrives.
type Session struct {
	ID              RendezvousID
	ClientCircuitID uint64
	state           State
	serviceCircID   uint64
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Coordinator is a rendezvous point's registry of in-flight sessions,
// matching client and service circuits by RendezvousID and rejecting
// malformed or duplicate arrivals per spec.md's closing invariant.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[RendezvousID]*Session
}

// NewCoordinator builds an empty rendezvous coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{sessions: make(map[RendezvousID]*Session)}
}

// RegisterClient records a client's circuit arriving at this rendezvous
// point under id, awaiting the matching service arrival. Registering a
// second client circuit for an id already in flight is rejected.
func (c *Coordinator) RegisterClient(id RendezvousID, clientCircuitID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[id]; exists {
		return fmt.Errorf("rendezvous: id %x already registered", id[:8])
	}
	c.sessions[id] = &Session{ID: id, ClientCircuitID: clientCircuitID, state: StateWaitingForService}
	return nil
}

// SpliceResult names the pair of circuit ids a rendezvous point must
// now bridge: cells arriving on one are re-enqueued on the other.
type SpliceResult struct {
	ClientCircuitID  uint64
	ServiceCircuitID uint64
}

// ArriveService handles the service's circuit arriving with a matching
// RendezvousMessage, completing the splice. An unknown id, or a second
// arrival for an already-Connected session, is rejected — the atomic
// WaitingForService→Connected transition per spec.md §4.9.
func (c *Coordinator) ArriveService(id RendezvousID, serviceCircuitID uint64) (*SpliceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("rendezvous: unknown rendezvous id %x", id[:8])
	}
	if session.state == StateConnected {
		return nil, fmt.Errorf("rendezvous: id %x already connected", id[:8])
	}

	session.state = StateConnected
	session.serviceCircID = serviceCircuitID
	return &SpliceResult{ClientCircuitID: session.ClientCircuitID, ServiceCircuitID: serviceCircuitID}, nil
}

// Lookup returns the session for id, if any, for status queries.
func (c *Coordinator) Lookup(id RendezvousID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Close drops the session for id, called on circuit teardown at
// either end.
func (c *Coordinator) Close(id RendezvousID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}
