package dispatch

import (
	"context"
	"fmt"

	"github.com/a7maadf/anonnet/pkg/dht"
	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
)

// Requester performs a single correlated request/response round trip
// with peer: send msg and block for the matching reply (or ctx/timeout
// failure). The connection manager implements this by writing the
// request envelope and waiting on a reply keyed by message id — the
// transport-level concern this package does not itself own.
type Requester interface {
	Request(ctx context.Context, peer *kademlia.BucketEntry, msg *Message) (*Message, error)
}

// RPCFinder drives kademlia.Lookup and dht.IterativeFindValue over a
// live Requester, turning their abstract FindNode/FindValue calls into
// real FindNode/FindValue wire messages and admitting replies' nodes
// into the shared routing table as they arrive.
type RPCFinder struct {
	requester Requester
	table     *kademlia.RoutingTable
	k         int
}

// NewRPCFinder builds a finder that issues requests via requester and
// feeds discovered peers into table.
func NewRPCFinder(requester Requester, table *kademlia.RoutingTable, k int) *RPCFinder {
	return &RPCFinder{requester: requester, table: table, k: k}
}

// FindNode implements kademlia.Finder.
func (f *RPCFinder) FindNode(ctx context.Context, peer *kademlia.BucketEntry, target identity.NodeID) ([]*kademlia.BucketEntry, error) {
	req, err := newMessage(MsgFindNode, findNodeBody{Target: target, Count: f.k})
	if err != nil {
		return nil, err
	}
	reply, err := f.requester.Request(ctx, peer, req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: FindNode to %s: %w", peer.NodeID.ShortString(), err)
	}
	if reply.Type != MsgNodesFound {
		return nil, fmt.Errorf("dispatch: FindNode to %s: unexpected reply type %s", peer.NodeID.ShortString(), reply.Type)
	}
	var body nodesFoundBody
	if err := decodeBody(reply, &body); err != nil {
		return nil, err
	}
	return f.admitWireNodes(body.Nodes), nil
}

// FindValue implements dht.ValueFinder.
func (f *RPCFinder) FindValue(ctx context.Context, peer *kademlia.BucketEntry, key identity.NodeID) ([]*dht.StoredValue, []*kademlia.BucketEntry, error) {
	req, err := newMessage(MsgFindValue, findValueBody{Key: key})
	if err != nil {
		return nil, nil, err
	}
	reply, err := f.requester.Request(ctx, peer, req)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: FindValue to %s: %w", peer.NodeID.ShortString(), err)
	}
	if reply.Type != MsgValueFound {
		return nil, nil, fmt.Errorf("dispatch: FindValue to %s: unexpected reply type %s", peer.NodeID.ShortString(), reply.Type)
	}
	var body valueFoundBody
	if err := decodeBody(reply, &body); err != nil {
		return nil, nil, err
	}
	if body.Found {
		values := make([]*dht.StoredValue, 0, len(body.Values))
		for _, data := range body.Values {
			values = append(values, &dht.StoredValue{Data: data})
		}
		return values, nil, nil
	}
	return nil, f.admitWireNodes(body.Nodes), nil
}

// admitWireNodes runs the Sybil gate (node_id == hash(public_key)) on
// each reported node, inserts the survivors into the shared table, and
// returns them for the caller's Lookup/IterativeFindValue bookkeeping.
// RoutingTable.Insert itself re-checks node_id/public_key consistency
// (kademlia.RejectedSybil), so the check here only avoids constructing
// and logging candidates we already know are bogus.
func (f *RPCFinder) admitWireNodes(nodes []WireNode) []*kademlia.BucketEntry {
	out := make([]*kademlia.BucketEntry, 0, len(nodes))
	for _, n := range nodes {
		if identity.DeriveNodeID(n.PublicKey) != n.NodeID {
			continue
		}
		entry := &kademlia.BucketEntry{
			NodeID:       n.NodeID,
			PublicKey:    n.PublicKey,
			Addresses:    n.Addresses,
			AcceptsRelay: n.AcceptsRelay,
		}
		f.table.Insert(entry)
		out = append(out, entry)
	}
	return out
}
