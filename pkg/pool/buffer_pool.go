// Package pool provides resource pooling: byte-buffer reuse for cell
// encoding, a ready-for-reuse circuit pool layered on pkg/circuit's
// manager, and a peer-connection pool layered on pkg/transport.
// Adapted from the teacher's pkg/pool (_examples/opd-ai-go-tor/pkg/pool
// /buffer_pool.go, circuit_pool.go, connection_pool.go).
package pool

import "sync"

// BufferPool reuses fixed-size byte slices across cell encode/decode
// and AEAD operations, adapted directly from the teacher's BufferPool.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of buffers of the given size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

// Get retrieves a buffer of this pool's configured size.
func (p *BufferPool) Get() []byte {
	obj := p.pool.Get()
	bufPtr, ok := obj.(*[]byte)
	if !ok {
		return make([]byte, p.size)
	}
	return (*bufPtr)[:p.size]
}

// Put returns a buffer to the pool. Buffers smaller than the pool's
// configured size are discarded rather than pooled.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// CellBufferPool sizes buffers for a full top-level cell: 4-byte circ
// id + 1-byte command + 2-byte length + up to 498 bytes of relay payload.
var CellBufferPool = NewBufferPool(505)

// RelayPayloadBufferPool sizes buffers for the per-cell payload cap
// named in spec.md §4.4.
var RelayPayloadBufferPool = NewBufferPool(498)

// CryptoBufferPool sizes buffers for general AEAD scratch space.
var CryptoBufferPool = NewBufferPool(1024)
