// Package kademlia implements the 256-bucket XOR-distance routing table
// and iterative α-parallel lookup used for peer discovery, generalized
// from the teacher's directory-consensus design onto a Kademlia
// substrate grounded on beenet's internal/dht package and Synnergy's
// core/kademlia.go.
package kademlia

import (
	"crypto/ed25519"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// K is the maximum number of entries held in a single KBucket.
const K = 20

// NumBuckets is the number of distance classes in a RoutingTable, one
// per possible leading-zero-bit count of a 256-bit NodeID distance.
const NumBuckets = 256

// MaxFailedAttempts is the failure count at which a BucketEntry is
// considered dead and evicted on the next staleness sweep.
const MaxFailedAttempts = 3

// BucketEntry is a single routing-table record for a known peer.
type BucketEntry struct {
	NodeID         identity.NodeID
	PublicKey      ed25519.PublicKey
	Addresses      []string
	LastSeen       time.Time
	FailedAttempts int
	Reputation     int
	AcceptsRelay   bool
}

// Stale reports whether the entry has not been seen within maxAge or
// has accumulated enough failures to be considered dead.
func (e *BucketEntry) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.LastSeen) > maxAge || e.FailedAttempts >= MaxFailedAttempts
}

// InsertResult reports the outcome of a RoutingTable.Insert call.
type InsertResult int

const (
	// Inserted means a new entry was appended to the bucket's MRU end.
	Inserted InsertResult = iota
	// Updated means an existing entry was refreshed and moved to MRU.
	Updated
	// BucketFull means the target bucket has no room; EvictionCandidate
	// names the LRU entry the caller may probe before replacing.
	BucketFull
	// RejectedSelf means the node_id equals the local node's own id.
	RejectedSelf
	// RejectedSybil means node_id != hash(public_key).
	RejectedSybil
)

// KBucket is an LRU-ordered collection of up to K BucketEntry records
// at one XOR-distance class. Index 0 is LRU, the last index is MRU.
type KBucket struct {
	entries       []*BucketEntry
	lastRefreshed time.Time
}

func newKBucket() *KBucket {
	return &KBucket{lastRefreshed: time.Now()}
}

// find returns the index of the entry for id, or -1.
func (b *KBucket) find(id identity.NodeID) int {
	for i, e := range b.entries {
		if e.NodeID == id {
			return i
		}
	}
	return -1
}

// touch moves the entry at index i to the MRU end.
func (b *KBucket) touch(i int) {
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.entries = append(b.entries, e)
}

// LRU returns the least-recently-seen entry, or nil if the bucket is empty.
func (b *KBucket) LRU() *BucketEntry {
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0]
}

// Entries returns a snapshot of the bucket's entries, LRU-first.
func (b *KBucket) Entries() []*BucketEntry {
	out := make([]*BucketEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the number of entries currently held.
func (b *KBucket) Len() int {
	return len(b.entries)
}

// NeedsRefresh reports whether the bucket has gone unrefreshed longer
// than refreshInterval.
func (b *KBucket) NeedsRefresh(now time.Time, refreshInterval time.Duration) bool {
	return now.Sub(b.lastRefreshed) > refreshInterval
}

// MarkRefreshed records that a lookup targeting this bucket's distance
// class has just completed.
func (b *KBucket) MarkRefreshed(now time.Time) {
	b.lastRefreshed = now
}

// removeAt deletes the entry at index i.
func (b *KBucket) removeAt(i int) {
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
}
