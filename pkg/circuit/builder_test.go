package circuit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// fakeResponderLink simulates the peer's side of a CreateCircuit
// handshake entirely in memory: it holds the responder's own ephemeral
// keypair and replies to a CreateCircuit with a real CircuitCreated
// carrying its genuine ephemeral public key.
type fakeResponderLink struct {
	sent    chan *cell.Cell
	replies chan *cell.Cell
}

func newFakeResponderLink() *fakeResponderLink {
	l := &fakeResponderLink{sent: make(chan *cell.Cell, 1), replies: make(chan *cell.Cell, 1)}
	go l.respond()
	return l
}

func (l *fakeResponderLink) respond() {
	req := <-l.sent
	var priv, pub [32]byte
	rand.Read(priv[:])
	curve25519.ScalarBaseMult(&pub, &priv)
	_ = req // the originator's E_i isn't needed by this fake beyond presence
	l.replies <- &cell.Cell{CircID: req.CircID, Command: cell.CmdCircuitCreated, Payload: pub[:]}
}

func (l *fakeResponderLink) SendCell(ctx context.Context, c *cell.Cell) error {
	l.sent <- c
	return nil
}

func (l *fakeResponderLink) ReceiveCell(ctx context.Context) (*cell.Cell, error) {
	select {
	case c := <-l.replies:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestBuildFirstHopDerivesUsableLayerState(t *testing.T) {
	c, err := NewCircuit(PurposeGeneral)
	if err != nil {
		t.Fatalf("NewCircuit: %v", err)
	}

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	peerNodeID := identity.DeriveNodeID(pub)

	link := newFakeResponderLink()
	if err := BuildFirstHop(context.Background(), c, peerNodeID, pub, link); err != nil {
		t.Fatalf("BuildFirstHop: %v", err)
	}

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	hop := c.Hops()[0]
	if hop.PeerNodeID != peerNodeID {
		t.Error("hop PeerNodeID mismatch")
	}
	if _, err := hop.Forward.Seal(nil, []byte("probe"), nil); err != nil {
		t.Errorf("derived Forward LayerState unusable: %v", err)
	}
}

func TestBuildFirstHopFailsOnMalformedReply(t *testing.T) {
	c, _ := NewCircuit(PurposeGeneral)
	pub, _, _ := ed25519.GenerateKey(nil)

	link := &staticReplyLink{reply: &cell.Cell{Command: cell.CmdDestroy}}
	if err := BuildFirstHop(context.Background(), c, identity.DeriveNodeID(pub), pub, link); err == nil {
		t.Error("expected BuildFirstHop to fail on a non-CircuitCreated reply")
	}
}

type staticReplyLink struct {
	reply *cell.Cell
}

func (l *staticReplyLink) SendCell(ctx context.Context, c *cell.Cell) error { return nil }
func (l *staticReplyLink) ReceiveCell(ctx context.Context) (*cell.Cell, error) {
	return l.reply, nil
}

// fakeExtender simulates a relay engine's extend-through-circuit
// implementation: it generates the new hop's real ephemeral keypair
// and returns its public half, exercising the same contract the
// dispatcher must honor (a genuine E'_i, not a fabricated one).
type fakeExtender struct{}

func (fakeExtender) ExtendTo(ctx context.Context, c *Circuit, targetPeer identity.NodeID, targetPublicKey ed25519.PublicKey, ephemeralPublic [32]byte) ([32]byte, error) {
	var priv, pub [32]byte
	rand.Read(priv[:])
	curve25519.ScalarBaseMult(&pub, &priv)
	return pub, nil
}

func TestExtendHopAppendsHopTwo(t *testing.T) {
	c, _ := NewCircuit(PurposeGeneral)
	pub, _, _ := ed25519.GenerateKey(nil)
	link := newFakeResponderLink()
	if err := BuildFirstHop(context.Background(), c, identity.DeriveNodeID(pub), pub, link); err != nil {
		t.Fatalf("BuildFirstHop: %v", err)
	}

	pub2, _, _ := ed25519.GenerateKey(nil)
	if err := ExtendHop(context.Background(), c, identity.DeriveNodeID(pub2), pub2, fakeExtender{}); err != nil {
		t.Fatalf("ExtendHop: %v", err)
	}

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}
