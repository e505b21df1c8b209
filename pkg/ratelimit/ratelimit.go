// Package ratelimit implements the per-peer token-bucket rate limit
// named in spec.md §5 and §7, generalized from the original Rust
// implementation's RateLimiter (original_source/crates/core/src/
// network/rate_limit.rs): a token bucket keyed by NodeID, refilled
// continuously at a configured bytes/sec rate, capped at MaxTokens,
// with a penalty window applied whenever a single charge exceeds the
// burst size, the first time included; a charge the bucket cannot
// cover is refused without a penalty.
package ratelimit

import (
	"sync"
	"time"

	neterrors "github.com/a7maadf/anonnet/pkg/errors"
	"github.com/a7maadf/anonnet/pkg/identity"
)

// Config configures a Limiter. Bytes, not cell counts, are the unit
// spec.md §5 names ("configurable bytes/s with burst").
type Config struct {
	MaxTokens        uint64        // cap on accumulated tokens (bytes)
	RefillRate       uint64        // tokens (bytes) restored per second
	BurstSize        uint64        // largest single consume() allowed before triggering a penalty
	ViolationPenalty time.Duration // how long a peer is refused after a violation
}

// DefaultConfig mirrors the Rust original's RateLimitConfig::default().
func DefaultConfig() Config {
	return Config{
		MaxTokens:        10 * 1024 * 1024,
		RefillRate:       1024 * 1024,
		BurstSize:        5 * 1024 * 1024,
		ViolationPenalty: 60 * time.Second,
	}
}

type tokenBucket struct {
	tokens       uint64
	lastRefill   time.Time
	penaltyUntil time.Time
	violations   uint32
}

// Limiter enforces Config's token bucket independently per NodeID.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[identity.NodeID]*tokenBucket
}

// NewLimiter constructs a Limiter. A zero-value Config is invalid;
// callers that want defaults should pass DefaultConfig().
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[identity.NodeID]*tokenBucket),
	}
}

func (l *Limiter) bucket(peer identity.NodeID) *tokenBucket {
	b, ok := l.buckets[peer]
	if !ok {
		b = &tokenBucket{tokens: l.cfg.MaxTokens, lastRefill: time.Now()}
		l.buckets[peer] = b
	}
	return b
}

func (b *tokenBucket) refill(cfg Config) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	gained := uint64(elapsed.Seconds() * float64(cfg.RefillRate))
	b.tokens += gained
	if b.tokens > cfg.MaxTokens {
		b.tokens = cfg.MaxTokens
	}
	b.lastRefill = now
}

func (b *tokenBucket) applyPenalty(cfg Config) {
	b.violations++
	b.penaltyUntil = time.Now().Add(cfg.ViolationPenalty)
	b.tokens = 0
}

// CheckAndConsume charges nBytes against peer's bucket. It returns a
// neterrors.RateLimitError (retryable) when the bucket lacks enough
// tokens, a burst-exceeded error (which also applies a penalty window)
// when nBytes exceeds BurstSize in one call, or a penalized error while
// a prior violation's penalty window is still open.
func (l *Limiter) CheckAndConsume(peer identity.NodeID, nBytes uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucket(peer)

	if !b.penaltyUntil.IsZero() && time.Now().Before(b.penaltyUntil) {
		return neterrors.RateLimitError("peer is within a rate-limit penalty window")
	}
	b.penaltyUntil = time.Time{}

	if nBytes > l.cfg.BurstSize {
		b.applyPenalty(l.cfg)
		return neterrors.RateLimitError("burst size exceeded")
	}

	b.refill(l.cfg)

	if b.tokens < nBytes {
		return neterrors.RateLimitError("rate limit exceeded")
	}
	b.tokens -= nBytes
	return nil
}

// RecordViolation applies a penalty window to peer directly, for
// callers that detect abuse outside the byte-accounting path (e.g. a
// protocol violation unrelated to bandwidth).
func (l *Limiter) RecordViolation(peer identity.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bucket(peer).applyPenalty(l.cfg)
}

// Status reports a peer's current bucket state, for diagnostics.
type Status struct {
	AvailableTokens uint64
	MaxTokens       uint64
	RefillRate      uint64
	Violations      uint32
	Penalized       bool
}

// Status returns peer's current bucket snapshot. The second return
// value is false if peer has never been charged.
func (l *Limiter) Status(peer identity.NodeID) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[peer]
	if !ok {
		return Status{}, false
	}
	b.refill(l.cfg)
	return Status{
		AvailableTokens: b.tokens,
		MaxTokens:       l.cfg.MaxTokens,
		RefillRate:      l.cfg.RefillRate,
		Violations:      b.violations,
		Penalized:       !b.penaltyUntil.IsZero() && time.Now().Before(b.penaltyUntil),
	}, true
}

// Reset discards peer's bucket, restoring it to a fresh MaxTokens
// balance on next use.
func (l *Limiter) Reset(peer identity.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, peer)
}

// Stats summarizes the limiter across every peer it has seen.
type Stats struct {
	TotalPeers      int
	PenalizedPeers  int
	TotalViolations uint32
}

// Stats returns a snapshot across all tracked peers.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{TotalPeers: len(l.buckets)}
	now := time.Now()
	for _, b := range l.buckets {
		if !b.penaltyUntil.IsZero() && now.Before(b.penaltyUntil) {
			s.PenalizedPeers++
		}
		s.TotalViolations += b.violations
	}
	return s
}
