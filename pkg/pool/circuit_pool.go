package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/a7maadf/anonnet/pkg/circuit"
)

// Default aging/reuse policy, per spec.md §4.6.
const (
	DefaultMaxAge     = 1 * time.Hour
	DefaultMaxReuse   = 100
	DefaultMinIdle    = 0
)

// entry is a pool's bookkeeping for one idle-or-in-use circuit.
type entry struct {
	circuit    *circuit.Circuit
	createdAt  time.Time
	lastUsed   time.Time
	reuseCount int
	inUse      bool
}

// Builder constructs a fresh circuit of purpose, used when no pooled
// circuit satisfies an acquire request.
type Builder func(purpose circuit.Purpose) (*circuit.Circuit, error)

// CircuitPool layers ready-for-reuse bookkeeping on top of
// pkg/circuit.Manager: acquire/release/age/reuse-cap semantics keyed by
// purpose, per spec.md §4.6.
type CircuitPool struct {
	mu       sync.Mutex
	manager  *circuit.Manager
	build    Builder
	byID     map[uint64]*entry
	byPurpose map[circuit.Purpose][]uint64

	MaxAge   time.Duration
	MaxReuse int
	MinIdle  time.Duration
}

// NewCircuitPool constructs a pool backed by manager, building new
// circuits via build when no idle entry satisfies an acquire.
func NewCircuitPool(manager *circuit.Manager, build Builder) *CircuitPool {
	return &CircuitPool{
		manager:   manager,
		build:     build,
		byID:      make(map[uint64]*entry),
		byPurpose: make(map[circuit.Purpose][]uint64),
		MaxAge:    DefaultMaxAge,
		MaxReuse:  DefaultMaxReuse,
		MinIdle:   DefaultMinIdle,
	}
}

// Acquire returns the oldest idle circuit of purpose whose age, reuse
// count, and idle time satisfy the pool's policy; otherwise it builds
// a fresh one via the pool's Builder.
func (p *CircuitPool) Acquire(purpose circuit.Purpose) (*circuit.Circuit, error) {
	p.mu.Lock()
	now := time.Now()
	ids := p.byPurpose[purpose]

	var bestIdx = -1
	var best *entry
	for i, id := range ids {
		e, ok := p.byID[id]
		if !ok || e.inUse {
			continue
		}
		if now.Sub(e.createdAt) > p.MaxAge {
			continue
		}
		if e.reuseCount >= p.MaxReuse {
			continue
		}
		if now.Sub(e.lastUsed) < p.MinIdle {
			continue
		}
		if best == nil || e.lastUsed.Before(best.lastUsed) {
			best = e
			bestIdx = i
		}
	}

	if best != nil {
		best.inUse = true
		best.reuseCount++
		_ = bestIdx
		p.mu.Unlock()
		return best.circuit, nil
	}
	p.mu.Unlock()

	c, err := p.build(purpose)
	if err != nil {
		return nil, fmt.Errorf("pool: build circuit for purpose %s: %w", purpose, err)
	}

	p.mu.Lock()
	p.byID[c.ID] = &entry{circuit: c, createdAt: now, lastUsed: now, inUse: true}
	p.byPurpose[purpose] = append(p.byPurpose[purpose], c.ID)
	p.mu.Unlock()
	return c, nil
}

// Release marks id idle again and stamps its last-used time.
func (p *CircuitPool) Release(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		e.inUse = false
		e.lastUsed = time.Now()
	}
}

// Cleanup retires over-aged or over-reused idle entries, tearing down
// their circuits via the manager, and reports how many were removed.
func (p *CircuitPool) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	removed := 0
	for purpose, ids := range p.byPurpose {
		kept := ids[:0]
		for _, id := range ids {
			e, ok := p.byID[id]
			if !ok {
				continue
			}
			if !e.inUse && (now.Sub(e.createdAt) > p.MaxAge || e.reuseCount >= p.MaxReuse) {
				delete(p.byID, id)
				if p.manager != nil {
					p.manager.Destroy(id)
				}
				removed++
				continue
			}
			kept = append(kept, id)
		}
		p.byPurpose[purpose] = kept
	}
	return removed
}

// Size returns the number of circuits currently tracked by the pool,
// in use or idle.
func (p *CircuitPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
