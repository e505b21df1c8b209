// Package transport defines the interfaces the core consumes to move
// bytes between nodes. The concrete networked implementation (QUIC, TLS
// over TCP, or otherwise) is an external collaborator; this package
// names only the shapes the rest of the core depends on, plus an
// in-memory test double under transport/memtransport.
package transport

import "context"

// SendStream is the write half of an ordered, reliable byte stream.
type SendStream interface {
	Write(p []byte) (n int, err error)
	// Finish signals a graceful, orderly close of the write side.
	Finish() error
	// Reset aborts the stream, signaling an error to the remote peer.
	Reset(code uint32) error
}

// RecvStream is the read half of an ordered, reliable byte stream.
type RecvStream interface {
	Read(p []byte) (n int, err error)
}

// Stream is a bidirectional ordered byte stream multiplexed over a
// Connection.
type Stream interface {
	SendStream
	RecvStream
}

// Connection is an established, authenticated link to one peer capable
// of multiplexing many bidirectional streams — one per circuit hop, in
// this core's usage.
type Connection interface {
	// OpenBi opens a new bidirectional stream to the peer.
	OpenBi(ctx context.Context) (Stream, error)
	// AcceptBi blocks until the peer opens a bidirectional stream.
	AcceptBi(ctx context.Context) (Stream, error)
	// RemoteAddress returns an implementation-defined peer address, for
	// logging only.
	RemoteAddress() string
	// Close tears down the connection and all its streams.
	Close() error
}

// Endpoint is a local network identity capable of dialing out to peers
// and accepting inbound connections.
type Endpoint interface {
	// Connect dials a peer at address.
	Connect(ctx context.Context, address string) (Connection, error)
	// Accept blocks until a peer connects inbound.
	Accept(ctx context.Context) (Connection, error)
	// Close stops accepting new connections.
	Close() error
}
