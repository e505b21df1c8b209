package dht

import (
	"context"
	"sync"

	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
)

// ValueFinder issues a single FindValue RPC against peer. A hit returns
// the stored values for key; a miss returns the peer's k nodes closest
// to key instead, mirroring FindNode.
type ValueFinder interface {
	FindValue(ctx context.Context, peer *kademlia.BucketEntry, key identity.NodeID) (values []*StoredValue, closer []*kademlia.BucketEntry, err error)
}

// IterativeFindValue runs an α-parallel iterative search for key,
// returning the first hit's values, or nil if the search converges
// without any responder reporting the key present.
func IterativeFindValue(ctx context.Context, key identity.NodeID, alpha, k int, seeds []*kademlia.BucketEntry, finder ValueFinder) []*StoredValue {
	queried := make(map[identity.NodeID]bool)
	pending := make(map[identity.NodeID]*kademlia.BucketEntry)
	for _, s := range seeds {
		pending[s.NodeID] = s
	}

	var mu sync.Mutex
	var hit []*StoredValue

	for len(pending) > 0 {
		round := selectRound(pending, queried, key, alpha)
		if len(round) == 0 {
			break
		}
		for _, p := range round {
			delete(pending, p.NodeID)
			queried[p.NodeID] = true
		}

		var wg sync.WaitGroup
		for _, peer := range round {
			wg.Add(1)
			go func(peer *kademlia.BucketEntry) {
				defer wg.Done()
				values, closer, err := finder.FindValue(ctx, peer, key)
				if err != nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if hit != nil {
					return
				}
				if len(values) > 0 {
					hit = values
					return
				}
				for _, c := range closer {
					if queried[c.NodeID] {
						continue
					}
					if _, ok := pending[c.NodeID]; ok {
						continue
					}
					pending[c.NodeID] = c
				}
			}(peer)
		}
		wg.Wait()

		mu.Lock()
		found := hit
		mu.Unlock()
		if found != nil {
			return found
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}

	return hit
}

func selectRound(pending map[identity.NodeID]*kademlia.BucketEntry, queried map[identity.NodeID]bool, target identity.NodeID, alpha int) []*kademlia.BucketEntry {
	candidates := make([]*kademlia.BucketEntry, 0, len(pending))
	for _, e := range pending {
		candidates = append(candidates, e)
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0; j-- {
			if candidates[j].NodeID.Distance(target).Less(candidates[j-1].NodeID.Distance(target)) {
				candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			} else {
				break
			}
		}
	}
	if len(candidates) > alpha {
		candidates = candidates[:alpha]
	}
	return candidates
}
