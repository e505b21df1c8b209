// Package path implements reputation-weighted, diversity-aware hop
// selection over a Kademlia routing table, authored fresh per spec.md
// §4.5 since the teacher's own pkg/path was an unimplemented stub;
// structure follows the teacher's other selector-shaped code (random
// uniform draws within a filtered candidate set, reputation tiers).
package path

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
)

// Reputation tier thresholds, per spec.md §4.5 step 2.
const (
	HighReputationMin   = 200
	MediumReputationMin = 100
)

// Stricter thresholds for the entry guard and exit specializations,
// per spec.md §4.5's closing paragraph.
const (
	ExitReputationMin        = 150
	EntryGuardReputationMin  = 200
)

// Criteria parameterizes a path-selection draw.
type Criteria struct {
	MinReputation int
	RequireRelay  bool
	Excluded      map[identity.NodeID]bool
	Length        int
}

// Result is a selected path plus whether it had to fall back to the
// low reputation tier, per spec.md's "reduced-trust" flag.
type Result struct {
	Hops          []*kademlia.BucketEntry
	ReducedTrust  bool
}

// MaxAge bounds how long a BucketEntry may go unseen before it is
// excluded as a selection candidate, independent of the routing
// table's own staleness sweep interval.
const MaxAge = 2 * time.Hour

// Select draws Length distinct peers from table satisfying criteria,
// per the tiered-draw algorithm in spec.md §4.5.
func Select(table *kademlia.RoutingTable, criteria Criteria) (*Result, error) {
	all := table.Closest(identity.NodeID{}, 1<<20) // effectively "all entries"
	candidates := filterCandidates(all, criteria)

	high, medium, low := partitionByReputation(candidates)

	result := &Result{}
	chosen := make(map[identity.NodeID]bool)

	for hop := 0; hop < criteria.Length; hop++ {
		isEndpoint := hop == 0 || hop == criteria.Length-1

		var entry *kademlia.BucketEntry
		var err error
		if isEndpoint {
			entry, err = drawEndpoint(high, medium, low, chosen, result)
		} else {
			entry, err = drawMiddle(high, medium, low, chosen, result)
		}
		if err != nil {
			return nil, fmt.Errorf("path: hop %d: %w", hop, err)
		}
		chosen[entry.NodeID] = true
		result.Hops = append(result.Hops, entry)
	}

	return result, nil
}

// SelectEntryGuard specializes Select for the entry-guard position:
// highest-reputation candidate only, no randomness.
func SelectEntryGuard(table *kademlia.RoutingTable, excluded map[identity.NodeID]bool) (*kademlia.BucketEntry, error) {
	all := table.Closest(identity.NodeID{}, 1<<20)
	candidates := filterCandidates(all, Criteria{MinReputation: EntryGuardReputationMin, Excluded: excluded})
	if len(candidates) == 0 {
		return nil, fmt.Errorf("path: no entry guard candidates at reputation >= %d", EntryGuardReputationMin)
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Reputation > best.Reputation {
			best = c
		}
	}
	return best, nil
}

// SelectExit specializes Select for the exit position, drawing
// uniformly from candidates at or above ExitReputationMin.
func SelectExit(table *kademlia.RoutingTable, excluded map[identity.NodeID]bool) (*kademlia.BucketEntry, error) {
	all := table.Closest(identity.NodeID{}, 1<<20)
	candidates := filterCandidates(all, Criteria{MinReputation: ExitReputationMin, Excluded: excluded})
	if len(candidates) == 0 {
		return nil, fmt.Errorf("path: no exit candidates at reputation >= %d", ExitReputationMin)
	}
	return uniformDraw(candidates)
}

func filterCandidates(all []*kademlia.BucketEntry, criteria Criteria) []*kademlia.BucketEntry {
	now := time.Now()
	var out []*kademlia.BucketEntry
	for _, e := range all {
		if e.Stale(now, MaxAge) {
			continue
		}
		if e.Reputation < criteria.MinReputation {
			continue
		}
		if criteria.RequireRelay && !e.AcceptsRelay {
			continue
		}
		if criteria.Excluded != nil && criteria.Excluded[e.NodeID] {
			continue
		}
		out = append(out, e)
	}
	return out
}

func partitionByReputation(candidates []*kademlia.BucketEntry) (high, medium, low []*kademlia.BucketEntry) {
	for _, c := range candidates {
		switch {
		case c.Reputation >= HighReputationMin:
			high = append(high, c)
		case c.Reputation >= MediumReputationMin:
			medium = append(medium, c)
		default:
			low = append(low, c)
		}
	}
	return
}

func drawEndpoint(high, medium, low []*kademlia.BucketEntry, chosen map[identity.NodeID]bool, result *Result) (*kademlia.BucketEntry, error) {
	if e, err := drawExcluding(high, chosen); err == nil {
		return e, nil
	}
	if e, err := drawExcluding(medium, chosen); err == nil {
		return e, nil
	}
	if e, err := drawExcluding(low, chosen); err == nil {
		result.ReducedTrust = true
		return e, nil
	}
	return nil, fmt.Errorf("no candidates available for an entry/exit hop")
}

func drawMiddle(high, medium, low []*kademlia.BucketEntry, chosen map[identity.NodeID]bool, result *Result) (*kademlia.BucketEntry, error) {
	// Middle hops draw from high or medium via coin-flip, per spec.md
	// §4.5 step 3; fall back to the other tier, then low as last resort.
	first, second := high, medium
	if coinFlip() {
		first, second = medium, high
	}
	if e, err := drawExcluding(first, chosen); err == nil {
		return e, nil
	}
	if e, err := drawExcluding(second, chosen); err == nil {
		return e, nil
	}
	if e, err := drawExcluding(low, chosen); err == nil {
		result.ReducedTrust = true
		return e, nil
	}
	return nil, fmt.Errorf("no candidates available for a middle hop")
}

func drawExcluding(tier []*kademlia.BucketEntry, chosen map[identity.NodeID]bool) (*kademlia.BucketEntry, error) {
	var available []*kademlia.BucketEntry
	for _, e := range tier {
		if !chosen[e.NodeID] {
			available = append(available, e)
		}
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("tier exhausted")
	}
	return uniformDraw(available)
}

func uniformDraw(candidates []*kademlia.BucketEntry) (*kademlia.BucketEntry, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return nil, fmt.Errorf("path: random draw: %w", err)
	}
	return candidates[n.Int64()], nil
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return true
	}
	return n.Int64() == 0
}
