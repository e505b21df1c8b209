package rendezvous

import (
	"context"
	"fmt"
	"sync"

	"github.com/a7maadf/anonnet/pkg/cell"
)

// CircuitLink forwards a raw cell onward on one circuit leg, satisfied
// by the rendezvous point's connection to whichever peer owns that
// circuit id.
type CircuitLink interface {
	SendCell(ctx context.Context, c *cell.Cell) error
}

// Splicer re-enqueues cells arriving on one leg of a spliced rendezvous
// pair onto the other, without inspecting their contents: the
// rendezvous point never decrypts rendezvous traffic, per spec.md
// §4.9's "neither side learns the other's network location" invariant.
type Splicer struct {
	mu    sync.RWMutex
	links map[uint64]CircuitLink
	peers map[uint64]uint64 // circuit id -> the other leg's circuit id
}

// NewSplicer constructs an empty Splicer.
func NewSplicer() *Splicer {
	return &Splicer{links: make(map[uint64]CircuitLink), peers: make(map[uint64]uint64)}
}

// Splice registers both legs of a SpliceResult, wiring forwarding in
// both directions.
func (s *Splicer) Splice(result *SpliceResult, clientLink, serviceLink CircuitLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[result.ClientCircuitID] = clientLink
	s.links[result.ServiceCircuitID] = serviceLink
	s.peers[result.ClientCircuitID] = result.ServiceCircuitID
	s.peers[result.ServiceCircuitID] = result.ClientCircuitID
}

// Forward relays a cell arriving on circID to its spliced counterpart,
// rewriting CircID to the receiving peer's own id for that leg.
func (s *Splicer) Forward(ctx context.Context, circID uint64, c *cell.Cell) error {
	s.mu.RLock()
	peerCircID, ok := s.peers[circID]
	var link CircuitLink
	if ok {
		link = s.links[peerCircID]
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("rendezvous: circuit %d is not spliced", circID)
	}
	forwarded := &cell.Cell{CircID: uint32(peerCircID), Command: c.Command, Payload: c.Payload}
	return link.SendCell(ctx, forwarded)
}

// Unsplice removes both legs of the pairing rooted at either circuit id.
func (s *Splicer) Unsplice(circID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peerCircID, ok := s.peers[circID]
	delete(s.links, circID)
	delete(s.peers, circID)
	if ok {
		delete(s.links, peerCircID)
		delete(s.peers, peerCircID)
	}
}
