package relay

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// Dialer opens a fresh connection to a peer for this node to use as
// the HopLink of a CreateCircuit handshake, satisfied by the
// connection manager/dispatcher.
type Dialer interface {
	DialHop(ctx context.Context, peerNodeID identity.NodeID) (HopLink, error)
}

// ServeExtend is the exit-relay counterpart to CircuitExtender.ExtendTo:
// called by this node's cell dispatcher when it peels a recognized
// RelayExtend cell off a circuit it currently terminates. It dials the
// named target, performs a direct CreateCircuit handshake for the new
// hop, and returns a RelayExtended cell's payload (the target's
// genuine ephemeral public key) ready to be sealed backward and
// forwarded to the requester.
func ServeExtend(ctx context.Context, dialer Dialer, req *cell.RelayCell) (*cell.RelayCell, error) {
	if req.Command != cell.RelayExtend {
		return nil, fmt.Errorf("relay: ServeExtend called with non-extend cell %s", req.Command)
	}
	if len(req.Data) != extendPayloadLen {
		return nil, fmt.Errorf("relay: malformed extend payload: %d bytes", len(req.Data))
	}

	var targetPeer identity.NodeID
	copy(targetPeer[:], req.Data[:identity.NodeIDSize])
	targetPublicKey := ed25519.PublicKey(append([]byte(nil), req.Data[identity.NodeIDSize:identity.NodeIDSize+ed25519.PublicKeySize]...))
	var originEphemeral [32]byte
	copy(originEphemeral[:], req.Data[identity.NodeIDSize+ed25519.PublicKeySize:])

	if identity.DeriveNodeID(targetPublicKey) != targetPeer {
		return nil, fmt.Errorf("relay: extend target %s claims a public key that doesn't match its node id", targetPeer.ShortString())
	}

	link, err := dialer.DialHop(ctx, targetPeer)
	if err != nil {
		return nil, fmt.Errorf("relay: dial extend target %s: %w", targetPeer.ShortString(), err)
	}

	create := &cell.Cell{Command: cell.CmdCreateCircuit, Payload: originEphemeral[:]}
	if err := link.SendCell(ctx, create); err != nil {
		return nil, fmt.Errorf("relay: forward create to %s: %w", targetPeer.ShortString(), err)
	}
	reply, err := link.ReceiveCell(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: await created from %s: %w", targetPeer.ShortString(), err)
	}
	if reply.Command != cell.CmdCircuitCreated || len(reply.Payload) != 32 {
		return nil, fmt.Errorf("relay: extend target %s refused circuit creation", targetPeer.ShortString())
	}

	resp := cell.NewRelayCell(cell.RelayExtended, req.StreamID, req.Sequence, append([]byte(nil), reply.Payload...))
	resp.SetDigest()
	return resp, nil
}
