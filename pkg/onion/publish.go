package onion

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/a7maadf/anonnet/pkg/dht"
	"github.com/a7maadf/anonnet/pkg/identity"
	"github.com/a7maadf/anonnet/pkg/kademlia"
)

// wireDescriptor is the CBOR-serializable shape of a ServiceDescriptor;
// ServiceAddress/NodeID/ed25519 key types need explicit byte-slice
// fields since CBOR has no notion of Go's fixed-size array aliases.
type wireDescriptor struct {
	Version     int              `cbor:"1,keyasint"`
	Address     []byte           `cbor:"2,keyasint"`
	PublicKey   []byte           `cbor:"3,keyasint"`
	IntroPoints []wireIntroPoint `cbor:"4,keyasint"`
	CreatedAt   int64            `cbor:"5,keyasint"`
	TTLSeconds  int64            `cbor:"6,keyasint"`
	Signature   []byte           `cbor:"7,keyasint"`
}

type wireIntroPoint struct {
	NodeID         []byte `cbor:"1,keyasint"`
	PublicKey      []byte `cbor:"2,keyasint"`
	ConnectionInfo string `cbor:"3,keyasint"`
	AuthSignature  []byte `cbor:"4,keyasint"`
}

// Marshal encodes the descriptor for transport over the DHT.
func (d *ServiceDescriptor) Marshal() ([]byte, error) {
	w := wireDescriptor{
		Version:    d.Version,
		Address:    append([]byte(nil), d.Address[:]...),
		PublicKey:  append([]byte(nil), d.PublicKey...),
		CreatedAt:  d.CreatedAt.Unix(),
		TTLSeconds: int64(d.TTL.Seconds()),
		Signature:  append([]byte(nil), d.Signature...),
	}
	for _, ip := range d.IntroPoints {
		w.IntroPoints = append(w.IntroPoints, wireIntroPoint{
			NodeID:         append([]byte(nil), ip.NodeID[:]...),
			PublicKey:      append([]byte(nil), ip.PublicKey...),
			ConnectionInfo: ip.ConnectionInfo,
			AuthSignature:  append([]byte(nil), ip.AuthSignature...),
		})
	}
	data, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("onion: marshal descriptor: %w", err)
	}
	return data, nil
}

// UnmarshalDescriptor decodes a descriptor previously produced by Marshal.
func UnmarshalDescriptor(data []byte) (*ServiceDescriptor, error) {
	var w wireDescriptor
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("onion: unmarshal descriptor: %w", err)
	}
	if len(w.Address) != AddressSize {
		return nil, fmt.Errorf("onion: decoded address is %d bytes, want %d", len(w.Address), AddressSize)
	}

	d := &ServiceDescriptor{
		Version:   w.Version,
		PublicKey: ed25519.PublicKey(w.PublicKey),
		CreatedAt: time.Unix(w.CreatedAt, 0).UTC(),
		TTL:       time.Duration(w.TTLSeconds) * time.Second,
		Signature: w.Signature,
	}
	copy(d.Address[:], w.Address)

	for _, wip := range w.IntroPoints {
		if len(wip.NodeID) != identity.NodeIDSize {
			return nil, fmt.Errorf("onion: decoded intro point node id is %d bytes, want %d", len(wip.NodeID), identity.NodeIDSize)
		}
		var nodeID identity.NodeID
		copy(nodeID[:], wip.NodeID)
		d.IntroPoints = append(d.IntroPoints, IntroductionPoint{
			NodeID:         nodeID,
			PublicKey:      ed25519.PublicKey(wip.PublicKey),
			ConnectionInfo: wip.ConnectionInfo,
			AuthSignature:  wip.AuthSignature,
		})
	}
	return d, nil
}

// StoreRequester issues a Store{key, value, publisher, ttl, signature}
// request against one candidate node, satisfied by the message
// dispatcher's client-side RPC surface.
type StoreRequester interface {
	Store(ctx context.Context, peer *kademlia.BucketEntry, key identity.NodeID, value *dht.StoredValue) error
}

// Publish stores a descriptor at key = address.bytes on the k nodes
// closest to it, per spec.md §4.9.
func Publish(ctx context.Context, table *kademlia.RoutingTable, requester StoreRequester, d *ServiceDescriptor, publisher identity.NodeID, k int) error {
	if err := d.Validate(time.Now()); err != nil {
		return fmt.Errorf("onion: refusing to publish an invalid descriptor: %w", err)
	}
	data, err := d.Marshal()
	if err != nil {
		return err
	}

	value := &dht.StoredValue{
		Data:      data,
		Publisher: publisher,
		StoredAt:  time.Now(),
		TTL:       d.TTL,
		Signature: d.Signature,
	}

	closest := table.Closest(d.Address.AsNodeID(), k)
	if len(closest) == 0 {
		return fmt.Errorf("onion: no known peers to publish descriptor for %s", d.Address)
	}

	var lastErr error
	successes := 0
	for _, peer := range closest {
		if err := requester.Store(ctx, peer, d.Address.AsNodeID(), value); err != nil {
			lastErr = err
			continue
		}
		successes++
	}
	if successes == 0 {
		return fmt.Errorf("onion: publish failed at all %d candidate nodes: %w", len(closest), lastErr)
	}
	return nil
}

// Lookup resolves addr to a validated descriptor via an iterative
// FindValue search, rejecting any candidate that fails Validate.
func Lookup(ctx context.Context, addr ServiceAddress, alpha, k int, seeds []*kademlia.BucketEntry, finder dht.ValueFinder) (*ServiceDescriptor, error) {
	values := dht.IterativeFindValue(ctx, addr.AsNodeID(), alpha, k, seeds, finder)
	now := time.Now()
	for _, v := range values {
		if v.Expired(now) {
			continue
		}
		d, err := UnmarshalDescriptor(v.Data)
		if err != nil {
			continue
		}
		if err := d.Validate(now); err != nil {
			continue
		}
		return d, nil
	}
	return nil, fmt.Errorf("onion: no valid descriptor found for %s", addr)
}
