package dispatch

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/circuit"
	"github.com/a7maadf/anonnet/pkg/dht"
	neterrors "github.com/a7maadf/anonnet/pkg/errors"
	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
	"github.com/a7maadf/anonnet/pkg/logger"
	"github.com/a7maadf/anonnet/pkg/ratelimit"
	"github.com/a7maadf/anonnet/pkg/relay"
)

// Dispatcher is the single entry point for decoded peer messages. It
// holds the DHT routing table and value store, the circuit manager,
// and the relay engine. Forwarding a RelayCell past this node needs no
// injected sender: relay.Engine.HandleUpstream already returns the
// downstream PeerLink registered for the circuit at RegisterHop time,
// so the dispatcher reaches the next hop through that, not through a
// separately wired connection-manager reference.
type Dispatcher struct {
	localIdentity *identity.Identity
	table         *kademlia.RoutingTable
	store         *dht.Store
	circuits      *circuit.Manager
	engine        *relay.Engine
	limiter       *ratelimit.Limiter
	minPoWDiff    uint8
	log           *logger.Logger
}

// New constructs a dispatcher. limiter may be nil to disable per-peer
// rate limiting (e.g. in tests that don't exercise it).
func New(localIdentity *identity.Identity, table *kademlia.RoutingTable, store *dht.Store, circuits *circuit.Manager, engine *relay.Engine, limiter *ratelimit.Limiter, minPoWDiff uint8, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Dispatcher{
		localIdentity: localIdentity,
		table:         table,
		store:         store,
		circuits:      circuits,
		engine:        engine,
		limiter:       limiter,
		minPoWDiff:    minPoWDiff,
		log:           log.Component("dispatch"),
	}
}

// Dispatch routes a decoded message from peer, returning a reply
// message to send back (nil if none is warranted). Unknown message
// types are logged and dropped per spec.md §4.10's closing paragraph:
// no error is returned to reduce oracle surface. Every message is
// first charged against the peer's token bucket (spec.md §5, §7): a
// rejected charge returns the rate-limit error directly rather than
// reaching any handler.
func (d *Dispatcher) Dispatch(ctx context.Context, from identity.NodeID, msg *Message) (*Message, error) {
	if d.limiter != nil {
		if err := d.limiter.CheckAndConsume(from, uint64(len(msg.Body))); err != nil {
			d.log.Debug("rate limit rejected message", "peer", from.ShortString(), "type", msg.Type.String(), "error", err)
			return nil, err
		}
	}

	switch msg.Type {
	case MsgFindNode:
		return d.handleFindNode(msg)
	case MsgNodesFound:
		return nil, d.handleNodesFound(msg)
	case MsgStore:
		return d.handleStore(msg)
	case MsgFindValue:
		return d.handleFindValue(msg)
	case MsgPing:
		return d.handlePing(msg)
	case MsgCreateCircuit:
		return d.handleCreateCircuit(from, msg)
	case MsgRelayCell:
		return d.handleRelayCell(ctx, from, msg)
	default:
		d.log.Debug("dropping unhandled or out-of-context message", "type", msg.Type.String(), "peer", from.ShortString())
		return nil, nil
	}
}

func (d *Dispatcher) handleFindNode(msg *Message) (*Message, error) {
	var body findNodeBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}
	count := body.Count
	if count > kademlia.K {
		count = kademlia.K
	}
	closest := d.table.Closest(body.Target, count)
	return newMessage(MsgNodesFound, nodesFoundBody{Nodes: toWireNodes(closest)})
}

func (d *Dispatcher) handleNodesFound(msg *Message) error {
	var body nodesFoundBody
	if err := decodeBody(msg, &body); err != nil {
		return err
	}

	// Admission only: an in-flight kademlia.Lookup is fed directly from
	// the Finder.FindNode call that solicited this reply (see finder.go),
	// since Lookup.Run awaits that return value synchronously rather
	// than listening for a later Dispatch callback.
	now := time.Now()
	for _, n := range body.Nodes {
		if identity.DeriveNodeID(n.PublicKey) != n.NodeID {
			d.log.Debug("rejecting node with mismatched node_id/public_key in NodesFound", "node", n.NodeID.ShortString())
			continue
		}
		d.table.Insert(&kademlia.BucketEntry{
			NodeID:       n.NodeID,
			PublicKey:    ed25519.PublicKey(n.PublicKey),
			Addresses:    n.Addresses,
			LastSeen:     now,
			AcceptsRelay: n.AcceptsRelay,
		})
	}
	return nil
}

func (d *Dispatcher) handleStore(msg *Message) (*Message, error) {
	var body storeBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}

	// The local node never appears as a BucketEntry in its own table, so
	// "am I in the k-closest for key" is a distance comparison against
	// the farthest of the k peers the table already knows, not a
	// membership search.
	closest := d.table.Closest(body.Key, kademlia.K)
	if len(closest) >= kademlia.K {
		localDist := d.localIdentity.NodeID.Distance(body.Key)
		farthest := closest[len(closest)-1].NodeID.Distance(body.Key)
		if farthest.Less(localDist) {
			return newMessage(MsgStoreResponse, storeResponseBody{Success: false, Reason: "not in k-closest for key"})
		}
	}

	d.store.Put(body.Key, &dht.StoredValue{
		Data:      body.Value,
		Publisher: body.Publisher,
		StoredAt:  time.Now(),
		TTL:       ttlToDuration(body.TTL),
		Signature: body.Signature,
	})
	return newMessage(MsgStoreResponse, storeResponseBody{Success: true})
}

func (d *Dispatcher) handleFindValue(msg *Message) (*Message, error) {
	var body findValueBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}

	now := time.Now()
	var values [][]byte
	for _, v := range d.store.Get(body.Key) {
		if !v.Expired(now) {
			values = append(values, v.Data)
		}
	}
	if len(values) > 0 {
		return newMessage(MsgValueFound, valueFoundBody{Found: true, Values: values})
	}

	closest := d.table.Closest(body.Key, kademlia.K)
	return newMessage(MsgValueFound, valueFoundBody{Found: false, Nodes: toWireNodes(closest)})
}

func (d *Dispatcher) handlePing(msg *Message) (*Message, error) {
	var body pingBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}
	return newMessage(MsgPong, pongBody{Nonce: body.Nonce})
}

func (d *Dispatcher) handleCreateCircuit(from identity.NodeID, msg *Message) (*Message, error) {
	var body createCircuitBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}

	entries := d.table.Closest(from, 1)
	var peerPublicKey ed25519.PublicKey
	if len(entries) > 0 && entries[0].NodeID == from {
		peerPublicKey = entries[0].PublicKey
	}

	ownEphemeral, hop, err := circuit.ServeCreateCircuit(from, peerPublicKey, body.EphemeralPublic)
	if err != nil {
		d.log.Warn("CreateCircuit handshake failed", "peer", from.ShortString(), "error", err)
		return newMessage(MsgCircuitFailed, circuitFailedBody{CircuitID: body.CircuitID, Reason: err.Error()})
	}

	d.engine.RegisterHop(uint64(body.CircuitID), hop, nil, relay.RoleExit)
	return newMessage(MsgCircuitCreated, circuitCreatedBody{CircuitID: body.CircuitID, EphemeralPublic: ownEphemeral})
}

func (d *Dispatcher) handleRelayCell(ctx context.Context, from identity.NodeID, msg *Message) (*Message, error) {
	var body relayCellBody
	if err := decodeBody(msg, &body); err != nil {
		return nil, err
	}

	circID := uint64(body.CircuitID)
	rc, forwardPayload, downstream, err := d.engine.HandleUpstream(circID, body.Payload)
	if err != nil {
		return nil, neterrors.CircuitError("relay upstream", err)
	}

	if rc != nil {
		return d.handleOwnRelayCell(circID, rc)
	}

	// downstream carries the next-hop link directly; the dispatcher does
	// not need the peer's NodeID to use it.
	if err := downstream.SendCell(ctx, &cell.Cell{CircID: body.CircuitID, Command: cell.CmdRelay, Payload: forwardPayload}); err != nil {
		return nil, fmt.Errorf("dispatch: forward relay cell on circuit %d: %w", circID, err)
	}
	return nil, nil
}

// handleOwnRelayCell processes a RelayCell this node was the intended
// recipient of (the digest-recognized case), per spec.md §4.4's
// exit/application delivery path. Stream-layer delivery (Begin/Data/
// End handling into an actual application socket) is a collaborator
// this package does not itself implement; here we only acknowledge
// flow-control bookkeeping that belongs to every relay position. When
// the deliver window requires a circuit-level SENDME, it travels back
// to the upstream peer the same way every other reply does: as the
// *Message Dispatch returns, for the caller to write back over the
// stream the originating RelayCell arrived on.
func (d *Dispatcher) handleOwnRelayCell(circID uint64, rc *cell.RelayCell) (*Message, error) {
	if rc.Command == cell.RelaySendme {
		if err := d.engine.OnSendmeReceived(circID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ok, sendSendme, err := d.engine.ConsumeDeliverWindow(circID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dispatch: deliver window exhausted on circuit %d", circID)
	}
	if !sendSendme {
		return nil, nil
	}

	sendme := cell.NewRelayCell(cell.RelaySendme, 0, 0, nil)
	sendme.SetDigest()
	sealed, err := d.engine.HandleDownstream(circID, sendme.Encode())
	if err != nil {
		return nil, fmt.Errorf("dispatch: seal upstream sendme on circuit %d: %w", circID, err)
	}
	return newMessage(MsgRelayCell, relayCellBody{CircuitID: uint32(circID), Payload: sealed})
}

func toWireNodes(entries []*kademlia.BucketEntry) []WireNode {
	out := make([]WireNode, 0, len(entries))
	for _, e := range entries {
		out = append(out, WireNode{
			NodeID:       e.NodeID,
			PublicKey:    []byte(e.PublicKey),
			Addresses:    e.Addresses,
			AcceptsRelay: e.AcceptsRelay,
		})
	}
	return out
}
