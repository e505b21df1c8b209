package dispatch

import (
	"context"
	"testing"

	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
)

type fakeRequester struct {
	reply *Message
	err   error
	calls int
}

func (f *fakeRequester) Request(ctx context.Context, peer *kademlia.BucketEntry, msg *Message) (*Message, error) {
	f.calls++
	return f.reply, f.err
}

func newTestPeerEntry(t *testing.T) *kademlia.BucketEntry {
	t.Helper()
	id, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return &kademlia.BucketEntry{NodeID: id.NodeID, PublicKey: id.PublicKey}
}

func TestRPCFinderFindNodeAdmitsDiscoveredPeers(t *testing.T) {
	localID, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	table := kademlia.NewRoutingTable(localID.NodeID)

	discovered, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	reply, err := newMessage(MsgNodesFound, nodesFoundBody{Nodes: []WireNode{{
		NodeID:    discovered.NodeID,
		PublicKey: discovered.PublicKey,
	}}})
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}

	finder := NewRPCFinder(&fakeRequester{reply: reply}, table, kademlia.K)
	entries, err := finder.FindNode(context.Background(), newTestPeerEntry(t), discovered.NodeID)
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	if len(entries) != 1 || entries[0].NodeID != discovered.NodeID {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if table.Size() != 1 {
		t.Errorf("Size() = %d, want 1", table.Size())
	}
}

func TestRPCFinderFindNodeRejectsWrongReplyType(t *testing.T) {
	localID, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	table := kademlia.NewRoutingTable(localID.NodeID)

	reply, err := newMessage(MsgPong, pongBody{Nonce: 1})
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}
	finder := NewRPCFinder(&fakeRequester{reply: reply}, table, kademlia.K)
	if _, err := finder.FindNode(context.Background(), newTestPeerEntry(t), localID.NodeID); err == nil {
		t.Error("expected an error for a reply of the wrong type")
	}
}

func TestRPCFinderFindValueReturnsValuesWhenFound(t *testing.T) {
	localID, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	table := kademlia.NewRoutingTable(localID.NodeID)

	reply, err := newMessage(MsgValueFound, valueFoundBody{Found: true, Values: [][]byte{[]byte("payload")}})
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}
	finder := NewRPCFinder(&fakeRequester{reply: reply}, table, kademlia.K)
	values, nodes, err := finder.FindValue(context.Background(), newTestPeerEntry(t), localID.NodeID)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected no closer-node results when a value is found, got %d", len(nodes))
	}
	if len(values) != 1 || string(values[0].Data) != "payload" {
		t.Fatalf("unexpected values: %+v", values)
	}
}

func TestRPCFinderFindValueReturnsCloserNodesWhenMissing(t *testing.T) {
	localID, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	table := kademlia.NewRoutingTable(localID.NodeID)

	closer, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	reply, err := newMessage(MsgValueFound, valueFoundBody{Found: false, Nodes: []WireNode{{
		NodeID:    closer.NodeID,
		PublicKey: closer.PublicKey,
	}}})
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}
	finder := NewRPCFinder(&fakeRequester{reply: reply}, table, kademlia.K)
	values, nodes, err := finder.FindValue(context.Background(), newTestPeerEntry(t), localID.NodeID)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected no values on a miss, got %d", len(values))
	}
	if len(nodes) != 1 || nodes[0].NodeID != closer.NodeID {
		t.Fatalf("unexpected closer nodes: %+v", nodes)
	}
}

func TestRPCFinderPropagatesRequestError(t *testing.T) {
	localID, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	table := kademlia.NewRoutingTable(localID.NodeID)

	finder := NewRPCFinder(&fakeRequester{err: context.DeadlineExceeded}, table, kademlia.K)
	if _, err := finder.FindNode(context.Background(), newTestPeerEntry(t), localID.NodeID); err == nil {
		t.Error("expected FindNode to propagate the requester's error")
	}
}
