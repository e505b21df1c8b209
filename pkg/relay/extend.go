package relay

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/circuit"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// CircuitExtender implements circuit.Extender by sending a RelayExtend
// cell through a circuit's already-built prefix and parsing the
// genuine ephemeral public key out of the resulting RelayExtended
// reply, resolving the extend-through-circuit seam left open in
// pkg/circuit/builder.go. The client only ever holds one physical
// connection open, to its entry hop; extension of later hops travels
// as onion-wrapped relay cells over that same link.
type CircuitExtender struct {
	link HopLink

	mu   sync.Mutex
	seqs map[uint64]*uint64
}

// HopLink is the subset of the entry-hop connection CircuitExtender
// needs: the same contract pkg/circuit.HopLink uses for the hop-0
// handshake, reused here for all subsequent relay traffic on the
// circuit since it travels over that same connection.
type HopLink interface {
	SendCell(ctx context.Context, c *cell.Cell) error
	ReceiveCell(ctx context.Context) (*cell.Cell, error)
}

// NewCircuitExtender builds an extender that speaks to the entry hop
// over link.
func NewCircuitExtender(link HopLink) *CircuitExtender {
	return &CircuitExtender{link: link, seqs: make(map[uint64]*uint64)}
}

func (ex *CircuitExtender) nextSequence(circID uint64) uint64 {
	ex.mu.Lock()
	counter, ok := ex.seqs[circID]
	if !ok {
		var c uint64
		counter = &c
		ex.seqs[circID] = counter
	}
	ex.mu.Unlock()
	return atomic.AddUint64(counter, 1)
}

// extendPayloadLen is the wire size of a RelayExtend cell's data: a
// NodeID, an ed25519 public key, and an X25519 ephemeral public key.
const extendPayloadLen = identity.NodeIDSize + ed25519.PublicKeySize + 32

// ExtendTo satisfies circuit.Extender.
func (ex *CircuitExtender) ExtendTo(ctx context.Context, c *circuit.Circuit, targetPeer identity.NodeID, targetPublicKey ed25519.PublicKey, ephemeralPublic [32]byte) ([32]byte, error) {
	var zero [32]byte

	data := make([]byte, 0, extendPayloadLen)
	data = append(data, targetPeer[:]...)
	data = append(data, targetPublicKey...)
	data = append(data, ephemeralPublic[:]...)

	req := cell.NewRelayCell(cell.RelayExtend, 0, ex.nextSequence(c.ID), data)
	req.SetDigest()
	wrapped, err := circuit.WrapForward(c, req.Encode())
	if err != nil {
		return zero, fmt.Errorf("relay: wrap extend request: %w", err)
	}

	if err := ex.link.SendCell(ctx, &cell.Cell{CircID: uint32(c.ID), Command: cell.CmdRelay, Payload: wrapped}); err != nil {
		return zero, fmt.Errorf("relay: send extend request: %w", err)
	}

	reply, err := ex.link.ReceiveCell(ctx)
	if err != nil {
		return zero, fmt.Errorf("relay: await extended reply: %w", err)
	}
	if reply.Command != cell.CmdRelay {
		return zero, fmt.Errorf("relay: expected a relay cell reply, got %s", reply.Command)
	}

	opened, err := circuit.PeelBackward(c, reply.Payload)
	if err != nil {
		return zero, fmt.Errorf("relay: peel extended reply: %w", err)
	}
	rc, err := cell.DecodeRelayCell(opened)
	if err != nil {
		return zero, fmt.Errorf("relay: decode extended reply: %w", err)
	}
	if !rc.VerifyDigest() {
		return zero, fmt.Errorf("relay: extended reply failed digest check")
	}
	if rc.Command != cell.RelayExtended {
		return zero, fmt.Errorf("relay: expected RELAY_EXTENDED, got %s", rc.Command)
	}
	if len(rc.Data) != 32 {
		return zero, fmt.Errorf("relay: extended reply carries %d bytes, want 32", len(rc.Data))
	}

	var peerEphemeral [32]byte
	copy(peerEphemeral[:], rc.Data)
	return peerEphemeral, nil
}
