package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/a7maadf/anonnet/pkg/logger"
	"github.com/a7maadf/anonnet/pkg/transport"
)

// ConnectionPoolConfig configures idle lifetime and the per-peer
// connection cap for pooled peer connections, adapted from the
// teacher's ConnectionPoolConfig.
type ConnectionPoolConfig struct {
	MaxIdlePerPeer int
	MaxLifetime    time.Duration
	// MaxConnectionsPerPeer is the MAX_CONNECTIONS_PER_PEER resource cap
	// named in spec.md §5: the most simultaneous connections (idle plus
	// in-use) the pool will hold open to one address. A value <= 0 falls
	// back to DefaultConnectionPoolConfig's.
	MaxConnectionsPerPeer int
}

// DefaultConnectionPoolConfig returns sensible defaults.
func DefaultConnectionPoolConfig() *ConnectionPoolConfig {
	return &ConnectionPoolConfig{
		MaxIdlePerPeer:        1,
		MaxLifetime:           10 * time.Minute,
		MaxConnectionsPerPeer: 8,
	}
}

type pooledConnection struct {
	conn      transport.Connection
	inUse     bool
	lastUsed  time.Time
	createdAt time.Time
}

// ConnectionPool reuses transport.Connections to peers keyed by
// address, dialing through an Endpoint only on a cache miss, adapted
// from the teacher's ConnectionPool (pkg/pool/connection_pool.go).
// Each address may hold up to maxPerPeer simultaneous connections;
// Get rejects a dial once that cap is reached and nothing is idle.
type ConnectionPool struct {
	mu          sync.Mutex
	endpoint    transport.Endpoint
	connections map[string][]*pooledConnection
	maxLifetime time.Duration
	maxPerPeer  int
	logger      *logger.Logger
}

// NewConnectionPool builds a pool that dials through endpoint.
func NewConnectionPool(endpoint transport.Endpoint, cfg *ConnectionPoolConfig, log *logger.Logger) *ConnectionPool {
	if cfg == nil {
		cfg = DefaultConnectionPoolConfig()
	}
	maxPerPeer := cfg.MaxConnectionsPerPeer
	if maxPerPeer <= 0 {
		maxPerPeer = DefaultConnectionPoolConfig().MaxConnectionsPerPeer
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &ConnectionPool{
		endpoint:    endpoint,
		connections: make(map[string][]*pooledConnection),
		maxLifetime: cfg.MaxLifetime,
		maxPerPeer:  maxPerPeer,
		logger:      log.Component("conn-pool"),
	}
}

// Get returns an idle connection to address if one is fresh enough,
// dials a new one through the pool's endpoint if the per-peer cap
// allows it, or returns an error once maxPerPeer connections to
// address are already open and none are idle.
func (p *ConnectionPool) Get(ctx context.Context, address string) (transport.Connection, error) {
	p.mu.Lock()
	conns := p.connections[address]
	live := conns[:0]
	var reuse *pooledConnection
	for _, pc := range conns {
		if pc.inUse {
			live = append(live, pc)
			continue
		}
		if time.Since(pc.createdAt) >= p.maxLifetime {
			p.logger.Debug("closing expired pooled connection", "address", address)
			pc.conn.Close()
			continue
		}
		if reuse == nil {
			reuse = pc
		}
		live = append(live, pc)
	}
	p.connections[address] = live

	if reuse != nil {
		reuse.inUse = true
		reuse.lastUsed = time.Now()
		p.mu.Unlock()
		p.logger.Debug("reusing pooled connection", "address", address)
		return reuse.conn, nil
	}

	if len(live) >= p.maxPerPeer {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: max connections per peer (%d) reached for %s", p.maxPerPeer, address)
	}
	p.mu.Unlock()

	conn, err := p.endpoint.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("pool: connect to %s: %w", address, err)
	}

	p.mu.Lock()
	now := time.Now()
	p.connections[address] = append(p.connections[address], &pooledConnection{conn: conn, inUse: true, lastUsed: now, createdAt: now})
	p.mu.Unlock()
	return conn, nil
}

// Put returns conn to the pool as idle, if it is one of the
// connections currently tracked for address.
func (p *ConnectionPool) Put(address string, conn transport.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.connections[address] {
		if pc.conn == conn {
			pc.inUse = false
			pc.lastUsed = time.Now()
			return
		}
	}
}

// Remove closes and forgets every pooled connection for address.
func (p *ConnectionPool) Remove(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.connections[address] {
		pc.conn.Close()
	}
	delete(p.connections, address)
}

// CleanupIdle closes idle connections untouched for longer than
// maxIdleTime.
func (p *ConnectionPool) CleanupIdle(maxIdleTime time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	removed := 0
	for address, conns := range p.connections {
		live := conns[:0]
		for _, pc := range conns {
			if !pc.inUse && now.Sub(pc.lastUsed) > maxIdleTime {
				pc.conn.Close()
				removed++
				continue
			}
			live = append(live, pc)
		}
		if len(live) == 0 {
			delete(p.connections, address)
		} else {
			p.connections[address] = live
		}
	}
	return removed
}

// Close tears down every pooled connection.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for address, conns := range p.connections {
		for _, pc := range conns {
			pc.conn.Close()
		}
		delete(p.connections, address)
	}
	return nil
}

// Stats reports pool occupancy.
type Stats struct {
	Total int
	InUse int
	Idle  int
}

// Stats returns a snapshot of the pool's occupancy.
func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	for _, conns := range p.connections {
		s.Total += len(conns)
		for _, pc := range conns {
			if pc.inUse {
				s.InUse++
			} else {
				s.Idle++
			}
		}
	}
	return s
}
