// Package memtransport is an in-memory transport.Endpoint/Connection
// implementation for tests, generalized from the teacher's mockConnection
// test-double convention into a reusable fake that needs no real sockets.
package memtransport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/a7maadf/anonnet/pkg/transport"
)

// Network is a shared registry of memtransport Endpoints, analogous to
// a local-only DNS: Endpoints register an address and accept connections
// dialed to it.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewNetwork creates an empty in-memory network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

// Endpoint is an in-memory transport.Endpoint bound to an address within
// a Network.
type Endpoint struct {
	network   *Network
	address   string
	incoming  chan transport.Connection
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewEndpoint creates and registers an Endpoint at address on net.
func (net_ *Network) NewEndpoint(address string) (*Endpoint, error) {
	net_.mu.Lock()
	defer net_.mu.Unlock()

	if _, exists := net_.endpoints[address]; exists {
		return nil, fmt.Errorf("memtransport: address %q already registered", address)
	}
	ep := &Endpoint{
		network:  net_,
		address:  address,
		incoming: make(chan transport.Connection, 16),
		closeCh:  make(chan struct{}),
	}
	net_.endpoints[address] = ep
	return ep, nil
}

// Connect dials the peer registered at address within the same Network.
func (e *Endpoint) Connect(ctx context.Context, address string) (transport.Connection, error) {
	e.network.mu.Lock()
	peer, ok := e.network.endpoints[address]
	e.network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memtransport: no endpoint registered at %q", address)
	}

	local := newPipeConnection(e.address, address)
	remote := local.peerView()

	select {
	case peer.incoming <- remote:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-peer.closeCh:
		return nil, fmt.Errorf("memtransport: peer %q is closed", address)
	}

	return local, nil
}

// Accept blocks until a peer dials this Endpoint.
func (e *Endpoint) Accept(ctx context.Context) (transport.Connection, error) {
	select {
	case conn := <-e.incoming:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.closeCh:
		return nil, fmt.Errorf("memtransport: endpoint %q closed", e.address)
	}
}

// Close stops accepting new connections on this Endpoint.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closeCh) })
	e.network.mu.Lock()
	delete(e.network.endpoints, e.address)
	e.network.mu.Unlock()
	return nil
}

// pipeConnection implements transport.Connection by opening one net.Pipe
// per requested bidirectional stream. outbox carries streams this side
// opened (for the peer's AcceptBi); inbox carries streams the peer
// opened (for this side's AcceptBi). A peerView() shares the same pair
// of channels with outbox/inbox swapped.
type pipeConnection struct {
	localAddr, remoteAddr string
	outbox                chan transport.Stream
	inbox                 chan transport.Stream
	closeCh               chan struct{}
	closeOnce             sync.Once
}

func newPipeConnection(local, remote string) *pipeConnection {
	return &pipeConnection{
		localAddr:  local,
		remoteAddr: remote,
		outbox:     make(chan transport.Stream, 16),
		inbox:      make(chan transport.Stream, 16),
		closeCh:    make(chan struct{}),
	}
}

// peerView returns a pipeConnection representing this connection from
// the remote side's perspective, sharing the same pair of channels.
func (c *pipeConnection) peerView() *pipeConnection {
	return &pipeConnection{
		localAddr:  c.remoteAddr,
		remoteAddr: c.localAddr,
		outbox:     c.inbox,
		inbox:      c.outbox,
		closeCh:    c.closeCh,
	}
}

// OpenBi opens a bidirectional stream over a fresh net.Pipe, handing one
// end to the peer's AcceptBi and keeping the other.
func (c *pipeConnection) OpenBi(ctx context.Context) (transport.Stream, error) {
	a, b := net.Pipe()
	select {
	case c.outbox <- pipeStream{Conn: b}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, fmt.Errorf("memtransport: connection closed")
	}
	return pipeStream{Conn: a}, nil
}

// AcceptBi blocks until the peer opens a bidirectional stream.
func (c *pipeConnection) AcceptBi(ctx context.Context) (transport.Stream, error) {
	select {
	case s := <-c.inbox:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, fmt.Errorf("memtransport: connection closed")
	}
}

func (c *pipeConnection) RemoteAddress() string { return c.remoteAddr }

func (c *pipeConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

// pipeStream adapts net.Conn (from net.Pipe) to transport.Stream.
type pipeStream struct {
	net.Conn
}

func (s pipeStream) Finish() error         { return s.Conn.Close() }
func (s pipeStream) Reset(code uint32) error { return s.Conn.Close() }
