package onion

import (
	"context"
	"testing"
	"time"

	"github.com/a7maadf/anonnet/pkg/dht"
	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
)

type fakeRequester struct {
	store *dht.Store
}

func (r *fakeRequester) Store(ctx context.Context, peer *kademlia.BucketEntry, key identity.NodeID, value *dht.StoredValue) error {
	r.store.Put(key, value)
	return nil
}

type fakeValueFinder struct {
	store *dht.Store
}

func (f *fakeValueFinder) FindValue(ctx context.Context, peer *kademlia.BucketEntry, key identity.NodeID) ([]*dht.StoredValue, []*kademlia.BucketEntry, error) {
	if f.store.Has(key) {
		return f.store.Get(key), nil, nil
	}
	return nil, nil, nil
}

func newSeed(t *testing.T) *kademlia.BucketEntry {
	t.Helper()
	id, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return &kademlia.BucketEntry{NodeID: id.NodeID, PublicKey: id.PublicKey, LastSeen: time.Now()}
}

func TestPublishThenLookupRoundTrip(t *testing.T) {
	local, err := identity.Generate(4)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	table := kademlia.NewRoutingTable(local.NodeID)
	seed := newSeed(t)
	if res, _ := table.Insert(&kademlia.BucketEntry{NodeID: seed.NodeID, PublicKey: seed.PublicKey, LastSeen: time.Now()}); res != kademlia.Inserted {
		t.Fatalf("Insert: unexpected result %v", res)
	}

	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)
	d, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 2*time.Hour)
	if err != nil {
		t.Fatalf("NewServiceDescriptor: %v", err)
	}

	store := dht.NewStore()
	requester := &fakeRequester{store: store}
	if err := Publish(context.Background(), table, requester, d, local.NodeID, 20); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	finder := &fakeValueFinder{store: store}
	found, err := Lookup(context.Background(), addr, 3, 20, []*kademlia.BucketEntry{seed}, finder)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found.Address != addr {
		t.Error("looked-up descriptor address mismatch")
	}
}

func TestLookupRejectsInvalidStoredDescriptor(t *testing.T) {
	store := dht.NewStore()
	seed := newSeed(t)

	addr := FromPublicKey(mustServiceIdentity(t).PublicKey)
	store.Put(addr.AsNodeID(), &dht.StoredValue{
		Data:      []byte("not a valid descriptor"),
		Publisher: seed.NodeID,
		StoredAt:  time.Now(),
		TTL:       time.Hour,
	})

	finder := &fakeValueFinder{store: store}
	if _, err := Lookup(context.Background(), addr, 3, 20, []*kademlia.BucketEntry{seed}, finder); err == nil {
		t.Error("expected Lookup to reject a malformed descriptor")
	}
}
