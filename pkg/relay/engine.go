// Package relay implements the per-hop forwarding engine: recognition
// of cells addressed to this node via digest verification, circuit and
// stream flow-control windows, and onward relaying of cells this node
// is merely forwarding, grounded on the teacher's pkg/circuit
// DeliverRelayCell/verifyRelayCellDigest logic (_examples/opd-ai-go-tor
// /pkg/circuit/circuit.go), generalized onto pkg/circuit's AEAD layers.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/a7maadf/anonnet/pkg/cell"
	"github.com/a7maadf/anonnet/pkg/circuit"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// Role classifies this node's position on a given circuit, per
// spec.md §4.4.
type Role int

const (
	RoleOrigin Role = iota
	RoleMiddle
	RoleExit
)

func (r Role) String() string {
	switch r {
	case RoleOrigin:
		return "ORIGIN"
	case RoleMiddle:
		return "MIDDLE"
	case RoleExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// PeerLink forwards raw Cells toward one adjacent peer on a circuit's
// path, satisfied by the connection manager/dispatcher.
type PeerLink interface {
	SendCell(ctx context.Context, c *cell.Cell) error
}

// hopState is the per-circuit bookkeeping this relay keeps for a
// circuit it is forwarding, as distinct from the originator's
// multi-hop circuit.Circuit view: a relay only ever holds the single
// CircuitHop shared secret negotiated with its immediate upstream
// peer, plus the link to its immediate downstream peer (nil at the
// exit position).
type hopState struct {
	role       Role
	upstream   *circuit.CircuitHop
	downstream PeerLink
	window     *Window
}

// Engine forwards relay traffic for circuits this node participates in
// as a middle or exit relay, and serves extend requests addressed to it.
type Engine struct {
	mu       sync.RWMutex
	localID  identity.NodeID
	circuits map[uint64]*hopState
}

// NewEngine constructs an empty relay engine for localID.
func NewEngine(localID identity.NodeID) *Engine {
	return &Engine{localID: localID, circuits: make(map[uint64]*hopState)}
}

// RegisterHop records this node's participation in circID: the shared
// secret negotiated with the upstream peer (client or previous relay),
// the link to the downstream peer (nil if this node is the exit), and
// this node's role on the circuit.
func (e *Engine) RegisterHop(circID uint64, upstream *circuit.CircuitHop, downstream PeerLink, role Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.circuits[circID] = &hopState{role: role, upstream: upstream, downstream: downstream, window: NewWindow()}
}

// Unregister drops all state for circID, called on circuit teardown.
func (e *Engine) Unregister(circID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.circuits, circID)
}

func (e *Engine) get(circID uint64) (*hopState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hs, ok := e.circuits[circID]
	if !ok {
		return nil, fmt.Errorf("relay: unknown circuit %d", circID)
	}
	return hs, nil
}

// HandleUpstream processes a relay payload arriving from the upstream
// peer (travelling away from the origin). It peels this node's own
// forward layer; if the resulting cell is recognized (digest matches),
// it is this node's own RelayCell to act on and nil is returned for
// the forward payload. Otherwise the opened payload still carries
// further onion layers and must be relayed unchanged to the downstream
// peer, which the caller is responsible for doing with the returned
// bytes and link.
func (e *Engine) HandleUpstream(circID uint64, sealed []byte) (recognized *cell.RelayCell, forwardPayload []byte, downstream PeerLink, err error) {
	hs, err := e.get(circID)
	if err != nil {
		return nil, nil, nil, err
	}

	opened, err := hs.upstream.Forward.Open(nil, sealed, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("relay: peel forward layer on circuit %d: %w", circID, err)
	}

	if rc, perr := cell.DecodeRelayCell(opened); perr == nil && rc.VerifyDigest() {
		return rc, nil, nil, nil
	}

	if hs.downstream == nil {
		return nil, nil, nil, fmt.Errorf("relay: circuit %d unrecognized cell at exit position", circID)
	}
	return nil, opened, hs.downstream, nil
}

// HandleDownstream processes a payload arriving from the downstream
// peer (travelling back toward the origin): this node seals one
// backward layer and the caller forwards the result to the upstream
// peer.
func (e *Engine) HandleDownstream(circID uint64, payload []byte) ([]byte, error) {
	hs, err := e.get(circID)
	if err != nil {
		return nil, err
	}
	sealed, err := hs.upstream.Backward.Seal(nil, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: seal backward layer on circuit %d: %w", circID, err)
	}
	return sealed, nil
}

// ConsumeSendWindow reports whether this circuit's outgoing flow
// control budget permits sending one more cell downstream.
func (e *Engine) ConsumeSendWindow(circID uint64) (bool, error) {
	hs, err := e.get(circID)
	if err != nil {
		return false, err
	}
	return hs.window.ConsumeSend(), nil
}

// ConsumeDeliverWindow accounts for one more cell delivered to this
// node's application layer (only meaningful at the exit position) and
// reports whether a circuit-level SENDME must now be sent upstream.
func (e *Engine) ConsumeDeliverWindow(circID uint64) (ok, sendSendme bool, err error) {
	hs, gerr := e.get(circID)
	if gerr != nil {
		return false, false, gerr
	}
	ok, sendSendme = hs.window.ConsumeDeliver()
	return ok, sendSendme, nil
}

// OnSendmeReceived records receipt of a circuit-level SENDME from the
// upstream peer, replenishing this node's send budget toward downstream.
func (e *Engine) OnSendmeReceived(circID uint64) error {
	hs, err := e.get(circID)
	if err != nil {
		return err
	}
	hs.window.OnSendmeReceived()
	return nil
}

// Role returns the role this node occupies on circID.
func (e *Engine) Role(circID uint64) (Role, error) {
	hs, err := e.get(circID)
	if err != nil {
		return 0, err
	}
	return hs.role, nil
}
