package kademlia

import (
	"context"
	"sort"
	"sync"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// Finder issues a single FindNode RPC against peer, returning the
// nodes peer reports as closest to target. It is the seam the message
// dispatcher fills in with a real wire call; tests supply a fake.
type Finder interface {
	FindNode(ctx context.Context, peer *BucketEntry, target identity.NodeID) ([]*BucketEntry, error)
}

// Lookup is an iterative α-parallel closest-node search against target,
// per the convergence rule: complete when pending is empty or every
// member of the k closest nodes seen so far has been queried.
type Lookup struct {
	mu      sync.Mutex
	target  identity.NodeID
	alpha   int
	k       int
	queried map[identity.NodeID]bool
	pending map[identity.NodeID]*BucketEntry
	closest []*BucketEntry
	done    bool
}

// NewLookup seeds a lookup for target from seeds, the routing table's
// current closest-known nodes.
func NewLookup(target identity.NodeID, alpha, k int, seeds []*BucketEntry) *Lookup {
	l := &Lookup{
		target:  target,
		alpha:   alpha,
		k:       k,
		queried: make(map[identity.NodeID]bool),
		pending: make(map[identity.NodeID]*BucketEntry),
	}
	for _, s := range seeds {
		l.pending[s.NodeID] = s
	}
	l.recomputeClosest()
	return l
}

// Cancel sets complete and drains pending, per the cancellation rule:
// in-flight responses arriving after this point are discarded by the
// caller, not by Lookup itself.
func (l *Lookup) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = true
	l.pending = make(map[identity.NodeID]*BucketEntry)
}

// Closest returns the current sorted closest-known set, nearest first.
func (l *Lookup) Closest() []*BucketEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*BucketEntry, len(l.closest))
	copy(out, l.closest)
	return out
}

// Complete reports whether the lookup has converged or been cancelled.
func (l *Lookup) Complete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// nextRound selects up to alpha non-queried pending nodes, sorted by
// distance to target, and moves them into queried.
func (l *Lookup) nextRound() []*BucketEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return nil
	}

	candidates := make([]*BucketEntry, 0, len(l.pending))
	for _, e := range l.pending {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NodeID.Distance(l.target).Less(candidates[j].NodeID.Distance(l.target))
	})

	if len(candidates) > l.alpha {
		candidates = candidates[:l.alpha]
	}
	for _, e := range candidates {
		delete(l.pending, e.NodeID)
		l.queried[e.NodeID] = true
	}
	return candidates
}

// onResponse folds newly-discovered nodes into pending (deduped against
// queried and existing pending) and recomputes closest.
func (l *Lookup) onResponse(found []*BucketEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return
	}
	for _, e := range found {
		if l.queried[e.NodeID] {
			continue
		}
		if _, ok := l.pending[e.NodeID]; ok {
			continue
		}
		l.pending[e.NodeID] = e
	}
	l.recomputeClosest()
	l.checkConvergence()
}

// onFailure records peer as queried without contributing to closest —
// a failed query is a tombstone, per the convergence rule.
func (l *Lookup) onFailure(peer identity.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return
	}
	l.queried[peer] = true
	delete(l.pending, peer)
	kept := l.closest[:0]
	for _, e := range l.closest {
		if e.NodeID != peer {
			kept = append(kept, e)
		}
	}
	l.closest = kept
	l.checkConvergence()
}

// recomputeClosest must be called with mu held.
func (l *Lookup) recomputeClosest() {
	union := make([]*BucketEntry, 0, len(l.queried)+len(l.pending))
	seen := make(map[identity.NodeID]bool)
	for _, e := range l.closest {
		if !seen[e.NodeID] {
			union = append(union, e)
			seen[e.NodeID] = true
		}
	}
	for id, e := range l.pending {
		if !seen[id] {
			union = append(union, e)
			seen[id] = true
		}
	}
	sort.Slice(union, func(i, j int) bool {
		return union[i].NodeID.Distance(l.target).Less(union[j].NodeID.Distance(l.target))
	})
	if len(union) > l.k {
		union = union[:l.k]
	}
	l.closest = union
}

// checkConvergence must be called with mu held.
func (l *Lookup) checkConvergence() {
	if len(l.pending) == 0 {
		l.done = true
		return
	}
	for _, e := range l.closest {
		if !l.queried[e.NodeID] {
			return
		}
	}
	l.done = true
}

// Run drives the lookup to convergence using finder, returning the
// final closest set. It dispatches each round's queries concurrently
// and blocks until all of that round's responses (or failures) land
// before starting the next round.
func (l *Lookup) Run(ctx context.Context, finder Finder) []*BucketEntry {
	for {
		if l.Complete() {
			return l.Closest()
		}

		round := l.nextRound()
		if len(round) == 0 {
			l.mu.Lock()
			l.done = true
			l.mu.Unlock()
			return l.Closest()
		}

		var wg sync.WaitGroup
		for _, peer := range round {
			wg.Add(1)
			go func(peer *BucketEntry) {
				defer wg.Done()
				found, err := finder.FindNode(ctx, peer, l.target)
				if err != nil {
					l.onFailure(peer.NodeID)
					return
				}
				l.onResponse(found)
			}(peer)
		}

		select {
		case <-ctx.Done():
			l.Cancel()
			return l.Closest()
		case <-waitDone(&wg):
		}
	}
}

func waitDone(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}
