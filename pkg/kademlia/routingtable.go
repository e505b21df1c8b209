package kademlia

import (
	"sort"
	"sync"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// RoutingTable is a Kademlia routing table of NumBuckets KBuckets,
// indexed by the leading-zero-bit count of the XOR distance between the
// local node and a candidate peer.
type RoutingTable struct {
	mu      sync.RWMutex
	localID identity.NodeID
	buckets [NumBuckets]*KBucket
}

// NewRoutingTable creates an empty routing table rooted at localID.
func NewRoutingTable(localID identity.NodeID) *RoutingTable {
	rt := &RoutingTable{localID: localID}
	for i := range rt.buckets {
		rt.buckets[i] = newKBucket()
	}
	return rt
}

// bucketIndex computes the distance class for id relative to the local node.
func (rt *RoutingTable) bucketIndex(id identity.NodeID) int {
	return rt.localID.Distance(id).LeadingZeros()
}

// Insert applies the admission and placement rule from the routing-table
// spec: reject self and Sybil node_ids, update-in-place on a repeat
// sighting, append at MRU on room, else report BucketFull with its
// eviction candidate.
func (rt *RoutingTable) Insert(entry *BucketEntry) (InsertResult, *BucketEntry) {
	if entry.NodeID == rt.localID {
		return RejectedSelf, nil
	}
	if identity.DeriveNodeID(entry.PublicKey) != entry.NodeID {
		return RejectedSybil, nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := rt.bucketIndex(entry.NodeID)
	bucket := rt.buckets[idx]

	if i := bucket.find(entry.NodeID); i >= 0 {
		existing := bucket.entries[i]
		existing.Addresses = entry.Addresses
		existing.LastSeen = entry.LastSeen
		existing.FailedAttempts = 0
		bucket.touch(i)
		return Updated, nil
	}

	if bucket.Len() < K {
		bucket.entries = append(bucket.entries, entry)
		return Inserted, nil
	}

	return BucketFull, bucket.LRU()
}

// Remove deletes the entry for id, reporting whether it was present.
func (rt *RoutingTable) Remove(id identity.NodeID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.buckets[rt.bucketIndex(id)]
	if i := bucket.find(id); i >= 0 {
		bucket.removeAt(i)
		return true
	}
	return false
}

// MarkFailed increments the failed-attempt counter for id, if present.
func (rt *RoutingTable) MarkFailed(id identity.NodeID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.buckets[rt.bucketIndex(id)]
	if i := bucket.find(id); i >= 0 {
		bucket.entries[i].FailedAttempts++
	}
}

// MarkSeen resets the failure counter and last-seen timestamp for id, if present.
func (rt *RoutingTable) MarkSeen(id identity.NodeID, now time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.buckets[rt.bucketIndex(id)]
	if i := bucket.find(id); i >= 0 {
		bucket.entries[i].FailedAttempts = 0
		bucket.entries[i].LastSeen = now
		bucket.touch(i)
	}
}

// Closest returns up to k entries with NodeIDs closest to target,
// ordered nearest-first.
func (rt *RoutingTable) Closest(target identity.NodeID, k int) []*BucketEntry {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	all := make([]*BucketEntry, 0, K)
	for _, bucket := range rt.buckets {
		all = append(all, bucket.entries...)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].NodeID.Distance(target).Less(all[j].NodeID.Distance(target))
	})

	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Size returns the total number of entries across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, bucket := range rt.buckets {
		n += bucket.Len()
	}
	return n
}

// SweepStale evicts every entry that has gone unseen longer than maxAge
// or has MaxFailedAttempts failures, returning the number removed.
func (rt *RoutingTable) SweepStale(maxAge time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, bucket := range rt.buckets {
		kept := bucket.entries[:0]
		for _, e := range bucket.entries {
			if e.Stale(now, maxAge) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		bucket.entries = kept
	}
	return removed
}

// BucketsNeedingRefresh returns the distance-class indices whose bucket
// has gone unrefreshed longer than refreshInterval.
func (rt *RoutingTable) BucketsNeedingRefresh(refreshInterval time.Duration) []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	now := time.Now()
	var stale []int
	for i, bucket := range rt.buckets {
		if bucket.Len() > 0 && bucket.NeedsRefresh(now, refreshInterval) {
			stale = append(stale, i)
		}
	}
	return stale
}

// MarkBucketRefreshed records that distance class idx has just completed
// a refresh lookup.
func (rt *RoutingTable) MarkBucketRefreshed(idx int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.buckets[idx].MarkRefreshed(time.Now())
}
