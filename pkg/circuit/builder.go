package circuit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/a7maadf/anonnet/pkg/aead"
	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// HandshakeTimeout bounds a single hop's CreateCircuit/Extend exchange;
// per spec.md §4.3 a timed-out extension is treated as a build failure.
const HandshakeTimeout = 30 * time.Second

// HopLink exchanges raw Cells with the peer for hop 0 directly over the
// transport, before any circuit hops exist to wrap the traffic.
type HopLink interface {
	SendCell(ctx context.Context, c *cell.Cell) error
	ReceiveCell(ctx context.Context) (*cell.Cell, error)
}

// Extender sends a RelayExtend cell through a circuit's already-built
// prefix and returns the new hop's ephemeral public key from the real
// Extended reply, implemented by the message dispatcher/relay engine
// once a live connection to the current exit peer exists. This is the
// seam that resolves extend-through-circuit: callers must parse the
// genuine E'_i carried back through the peeled layers rather than
// fabricate one.
type Extender interface {
	ExtendTo(ctx context.Context, c *Circuit, targetPeer identity.NodeID, targetPublicKey ed25519.PublicKey, ephemeralPublic [32]byte) (ephemeralPeerPublic [32]byte, err error)
}

// generateEphemeral produces a one-shot X25519 keypair. The private
// scalar is never stored on the returned hop state past the single DH
// operation that consumes it, per the spec's one-shot-secret invariant.
func generateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("circuit builder: generate ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

func sharedSecret(priv, peerPub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("circuit builder: x25519: %w", err)
	}
	return secret, nil
}

// BuildFirstHop performs the hop-0 CreateCircuit handshake directly
// against link, the transport connection to the target peer, and
// appends the resulting hop to c.
func BuildFirstHop(ctx context.Context, c *Circuit, peerNodeID identity.NodeID, peerPublicKey ed25519.PublicKey, link HopLink) error {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	priv, pub, err := generateEphemeral()
	if err != nil {
		return err
	}

	req := &cell.Cell{CircID: uint32(c.ID), Command: cell.CmdCreateCircuit, Payload: pub[:]}
	if err := link.SendCell(ctx, req); err != nil {
		return fmt.Errorf("circuit builder: send CreateCircuit: %w", err)
	}

	reply, err := link.ReceiveCell(ctx)
	if err != nil {
		return fmt.Errorf("circuit builder: await CircuitCreated: %w", err)
	}
	if reply.Command != cell.CmdCircuitCreated || len(reply.Payload) != 32 {
		return fmt.Errorf("circuit builder: hop 0 failed to create circuit")
	}

	var peerEphemeral [32]byte
	copy(peerEphemeral[:], reply.Payload)

	return appendDerivedHop(c, peerNodeID, peerPublicKey, priv, peerEphemeral)
}

// ExtendHop performs the Extend/Extended handshake for hop i > 0,
// routed through the circuit's existing prefix via extender, and
// appends the resulting hop to c.
func ExtendHop(ctx context.Context, c *Circuit, peerNodeID identity.NodeID, peerPublicKey ed25519.PublicKey, extender Extender) error {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	priv, pub, err := generateEphemeral()
	if err != nil {
		return err
	}

	peerEphemeral, err := extender.ExtendTo(ctx, c, peerNodeID, peerPublicKey, pub)
	if err != nil {
		return fmt.Errorf("circuit builder: extend to %s: %w", peerNodeID.ShortString(), err)
	}

	return appendDerivedHop(c, peerNodeID, peerPublicKey, priv, peerEphemeral)
}

// ServeCreateCircuit performs the responder half of the hop-0
// handshake (spec.md §4.3): given the initiator's ephemeral public key
// carried in a CreateCircuit cell, it generates this node's own
// ephemeral keypair, derives the bidirectional layer state, and
// returns both the hop to register with the relay engine and this
// node's ephemeral public key for the CircuitCreated reply.
// peerNodeID/peerPublicKey come from the already-authenticated
// connection handshake (§6), not from this cell.
func ServeCreateCircuit(peerNodeID identity.NodeID, peerPublicKey ed25519.PublicKey, peerEphemeralPublic [32]byte) (ownEphemeralPublic [32]byte, hop *CircuitHop, err error) {
	priv, pub, err := generateEphemeral()
	if err != nil {
		return ownEphemeralPublic, nil, err
	}
	secret, err := sharedSecret(priv, peerEphemeralPublic)
	if err != nil {
		return ownEphemeralPublic, nil, err
	}
	forward, backward, err := aead.DeriveBidirectional(secret)
	if err != nil {
		return ownEphemeralPublic, nil, fmt.Errorf("circuit: derive layer state: %w", err)
	}
	hop = &CircuitHop{
		PeerNodeID:    peerNodeID,
		PeerPublicKey: peerPublicKey,
		Forward:       forward,
		Backward:      backward,
		AddedAt:       time.Now(),
	}
	return pub, hop, nil
}

func appendDerivedHop(c *Circuit, peerNodeID identity.NodeID, peerPublicKey ed25519.PublicKey, ephemeralPriv, peerEphemeralPub [32]byte) error {
	secret, err := sharedSecret(ephemeralPriv, peerEphemeralPub)
	if err != nil {
		return err
	}
	forward, backward, err := aead.DeriveBidirectional(secret)
	if err != nil {
		return fmt.Errorf("circuit builder: derive layer state: %w", err)
	}

	hop := &CircuitHop{
		PeerNodeID:    peerNodeID,
		PeerPublicKey: peerPublicKey,
		Forward:       forward,
		Backward:      backward,
		AddedAt:       time.Now(),
	}
	return c.AddHop(hop)
}
