// Package dht implements the replicated, TTL'd, multi-publisher
// key-value store used for service descriptor publication and lookup,
// grounded on beenet's internal/dht storage map generalized to the
// spec's per-key fan-out cap and publisher-overwrite rule.
package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// MaxValuesPerKey bounds how many distinct publishers' values a single
// key may hold; the oldest by StoredAt is evicted on overflow.
const MaxValuesPerKey = 20

// StoredValue is one publisher's record under a DHT key.
type StoredValue struct {
	Data      []byte
	Publisher identity.NodeID
	StoredAt  time.Time
	TTL       time.Duration
	Signature []byte
}

// Expired reports whether the value has outlived its TTL as of now.
func (v *StoredValue) Expired(now time.Time) bool {
	return now.Sub(v.StoredAt) > v.TTL
}

// Store is a local key/value store keyed by a 32-byte NodeID-shaped key,
// holding at most MaxValuesPerKey values per key with at most one value
// per publisher.
type Store struct {
	mu     sync.RWMutex
	values map[identity.NodeID][]*StoredValue
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{values: make(map[identity.NodeID][]*StoredValue)}
}

// Put inserts or overwrites value under key for its publisher, evicting
// the oldest entry by StoredAt if the key is already at MaxValuesPerKey
// distinct publishers.
func (s *Store) Put(key identity.NodeID, value *StoredValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.values[key]
	for i, e := range entries {
		if e.Publisher == value.Publisher {
			entries[i] = value
			s.values[key] = entries
			return
		}
	}

	if len(entries) >= MaxValuesPerKey {
		oldest := 0
		for i := 1; i < len(entries); i++ {
			if entries[i].StoredAt.Before(entries[oldest].StoredAt) {
				oldest = i
			}
		}
		entries = append(entries[:oldest], entries[oldest+1:]...)
	}

	s.values[key] = append(entries, value)
}

// Get returns the non-expired values stored under key.
func (s *Store) Get(key identity.NodeID) []*StoredValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*StoredValue
	for _, v := range s.values[key] {
		if !v.Expired(now) {
			out = append(out, v)
		}
	}
	return out
}

// Has reports whether key has at least one non-expired value.
func (s *Store) Has(key identity.NodeID) bool {
	return len(s.Get(key)) > 0
}

// Sweep removes expired values across all keys, returning the count removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entries := range s.values {
		kept := entries[:0]
		for _, v := range entries {
			if v.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			delete(s.values, key)
		} else {
			s.values[key] = kept
		}
	}
	return removed
}

// Keys returns every key currently holding at least one value (expired
// or not), sorted for deterministic iteration in tests and diagnostics.
func (s *Store) Keys() []identity.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]identity.NodeID, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})
	return keys
}
