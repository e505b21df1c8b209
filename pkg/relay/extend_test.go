package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/a7maadf/anonnet/pkg/aead"
	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/circuit"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// extendTestLink wires CircuitExtender's SendCell/ReceiveCell calls to
// an in-memory "entry relay" that peels the circuit's single hop layer
// the same way a real entry peer would, runs ServeExtend against a
// fake target responder, and seals the RelayExtended reply back with
// the matching Backward key — exercising the real onion wrap/peel path
// end to end without any transport.
type extendTestLink struct {
	t        *testing.T
	entryHop *circuit.CircuitHop
	c        *circuit.Circuit
	reply    chan *cell.Cell
}

func (l *extendTestLink) SendCell(ctx context.Context, c *cell.Cell) error {
	if c.Command != cell.CmdRelay {
		l.t.Fatalf("expected a relay cell, got %s", c.Command)
	}
	opened, err := l.entryHop.Forward.Open(nil, c.Payload, nil)
	if err != nil {
		l.t.Fatalf("entry relay: open forward layer: %v", err)
	}
	req, err := cell.DecodeRelayCell(opened)
	if err != nil {
		l.t.Fatalf("entry relay: decode relay cell: %v", err)
	}
	if !req.VerifyDigest() {
		l.t.Fatalf("entry relay: extend request failed digest check")
	}

	resp, err := ServeExtend(ctx, &loopbackDialer{}, req)
	if err != nil {
		l.t.Fatalf("ServeExtend: %v", err)
	}

	sealed, err := l.entryHop.Backward.Seal(nil, resp.Encode(), nil)
	if err != nil {
		l.t.Fatalf("entry relay: seal backward layer: %v", err)
	}
	l.reply <- &cell.Cell{CircID: c.CircID, Command: cell.CmdRelay, Payload: sealed}
	return nil
}

func (l *extendTestLink) ReceiveCell(ctx context.Context) (*cell.Cell, error) {
	select {
	case c := <-l.reply:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type loopbackDialer struct{}

func (d *loopbackDialer) DialHop(ctx context.Context, peerNodeID identity.NodeID) (HopLink, error) {
	return &targetResponderLink{}, nil
}

type targetResponderLink struct{}

func (l *targetResponderLink) SendCell(ctx context.Context, c *cell.Cell) error { return nil }
func (l *targetResponderLink) ReceiveCell(ctx context.Context) (*cell.Cell, error) {
	var priv, pub [32]byte
	rand.Read(priv[:])
	curve25519.ScalarBaseMult(&pub, &priv)
	return &cell.Cell{Command: cell.CmdCircuitCreated, Payload: pub[:]}, nil
}

func TestCircuitExtenderRoundTrip(t *testing.T) {
	c, err := circuit.NewCircuit(circuit.PurposeGeneral)
	if err != nil {
		t.Fatalf("NewCircuit: %v", err)
	}

	entryPub, _, _ := ed25519.GenerateKey(nil)

	var entryPriv, entryEphemeralPub [32]byte
	rand.Read(entryPriv[:])
	curve25519.ScalarBaseMult(&entryEphemeralPub, &entryPriv)

	firstHopLink := &staticCreateLink{reply: entryEphemeralPub}
	if err := circuit.BuildFirstHop(context.Background(), c, identity.DeriveNodeID(entryPub), entryPub, firstHopLink); err != nil {
		t.Fatalf("BuildFirstHop: %v", err)
	}

	// The entry relay holds its own layer states, derived from the same
	// DH secret as the client's hop 0 but with independent nonce counters.
	secret, err := curve25519.X25519(entryPriv[:], firstHopLink.sent)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	entryForward, entryBackward, err := aead.DeriveBidirectional(secret)
	if err != nil {
		t.Fatalf("DeriveBidirectional: %v", err)
	}
	entryHop := &circuit.CircuitHop{Forward: entryForward, Backward: entryBackward}
	link :=&extendTestLink{t: t, entryHop: entryHop, c: c, reply: make(chan *cell.Cell, 1)}
	extender := NewCircuitExtender(link)

	targetPub, _, _ := ed25519.GenerateKey(nil)
	if err := circuit.ExtendHop(context.Background(), c, identity.DeriveNodeID(targetPub), targetPub, extender); err != nil {
		t.Fatalf("ExtendHop: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

type staticCreateLink struct {
	reply [32]byte
	sent  []byte
}

func (l *staticCreateLink) SendCell(ctx context.Context, c *cell.Cell) error {
	l.sent = append([]byte(nil), c.Payload...)
	return nil
}
func (l *staticCreateLink) ReceiveCell(ctx context.Context) (*cell.Cell, error) {
	return &cell.Cell{Command: cell.CmdCircuitCreated, Payload: l.reply[:]}, nil
}
