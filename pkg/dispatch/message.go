// Package dispatch implements the single entry point for decoded
// messages arriving from peers, routing each to the DHT, circuit
// manager, or relay engine per spec.md §4.10. It holds handles to
// those components directly; forwarding a relay cell past this node
// reaches the next hop through the relay.Engine-registered downstream
// link rather than a separately injected sender, grounded on the
// teacher's pkg/connection + pkg/circuit wiring pattern.
package dispatch

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// MessageType tags the payload variant carried inside a wire.Envelope,
// the tagged union named in spec.md §6.
type MessageType byte

const (
	MsgFindNode MessageType = iota + 1
	MsgNodesFound
	MsgStore
	MsgStoreResponse
	MsgFindValue
	MsgValueFound
	MsgPing
	MsgPong
	MsgCreateCircuit
	MsgCircuitCreated
	MsgCircuitFailed
	MsgRelayCell
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgFindNode:
		return "FIND_NODE"
	case MsgNodesFound:
		return "NODES_FOUND"
	case MsgStore:
		return "STORE"
	case MsgStoreResponse:
		return "STORE_RESPONSE"
	case MsgFindValue:
		return "FIND_VALUE"
	case MsgValueFound:
		return "VALUE_FOUND"
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgCreateCircuit:
		return "CREATE_CIRCUIT"
	case MsgCircuitCreated:
		return "CIRCUIT_CREATED"
	case MsgCircuitFailed:
		return "CIRCUIT_FAILED"
	case MsgRelayCell:
		return "RELAY_CELL"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Message is the decoded form of a wire.Envelope's payload: a type tag
// plus a CBOR-encoded body specific to that type.
type Message struct {
	Type MessageType `cbor:"1,keyasint"`
	Body []byte      `cbor:"2,keyasint"`
}

// Marshal encodes the message for use as a wire.Envelope payload.
func (m *Message) Marshal() ([]byte, error) {
	return cbor.Marshal(m)
}

// UnmarshalMessage decodes a message from an envelope payload.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dispatch: decode message: %w", err)
	}
	return &m, nil
}

// newMessage CBOR-encodes body and wraps it with typ.
func newMessage(typ MessageType, body any) (*Message, error) {
	data, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode %s body: %w", typ, err)
	}
	return &Message{Type: typ, Body: data}, nil
}

func decodeBody(m *Message, out any) error {
	if err := cbor.Unmarshal(m.Body, out); err != nil {
		return fmt.Errorf("dispatch: decode %s body: %w", m.Type, err)
	}
	return nil
}

// WireNode is a BucketEntry's wire representation within NodesFound.
// Proof-of-work is an admission-time credential (spec.md §4.1), not a
// per-gossip one, so a re-told BucketEntry carries only what the
// Sybil gate here re-checks: that NodeID really is hash(PublicKey).
type WireNode struct {
	NodeID       identity.NodeID `cbor:"1,keyasint"`
	PublicKey    []byte          `cbor:"2,keyasint"`
	Addresses    []string        `cbor:"3,keyasint"`
	AcceptsRelay bool            `cbor:"4,keyasint"`
}

type findNodeBody struct {
	Target identity.NodeID `cbor:"1,keyasint"`
	Count  int             `cbor:"2,keyasint"`
}

type nodesFoundBody struct {
	Nodes []WireNode `cbor:"1,keyasint"`
}

type storeBody struct {
	Key       identity.NodeID `cbor:"1,keyasint"`
	Value     []byte          `cbor:"2,keyasint"`
	Publisher identity.NodeID `cbor:"3,keyasint"`
	TTL       int64           `cbor:"4,keyasint"` // seconds
	Signature []byte          `cbor:"5,keyasint"`
}

type storeResponseBody struct {
	Success bool   `cbor:"1,keyasint"`
	Reason  string `cbor:"2,keyasint,omitempty"`
}

type findValueBody struct {
	Key identity.NodeID `cbor:"1,keyasint"`
}

type valueFoundBody struct {
	Found  bool       `cbor:"1,keyasint"`
	Values [][]byte   `cbor:"2,keyasint"`
	Nodes  []WireNode `cbor:"3,keyasint"`
}

type pingBody struct {
	Nonce uint64 `cbor:"1,keyasint"`
}

type pongBody struct {
	Nonce uint64 `cbor:"1,keyasint"`
}

type createCircuitBody struct {
	CircuitID       uint32   `cbor:"1,keyasint"`
	EphemeralPublic [32]byte `cbor:"2,keyasint"`
}

type circuitCreatedBody struct {
	CircuitID       uint32   `cbor:"1,keyasint"`
	EphemeralPublic [32]byte `cbor:"2,keyasint"`
}

type circuitFailedBody struct {
	CircuitID uint32 `cbor:"1,keyasint"`
	Reason    string `cbor:"2,keyasint"`
}

type relayCellBody struct {
	CircuitID uint32 `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint"`
}

type errorBody struct {
	Code    int    `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

func ttlToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
