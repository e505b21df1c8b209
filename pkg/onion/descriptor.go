package onion

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// MinIntroPoints and MaxIntroPoints bound a descriptor's introduction
// point list, per spec.md §3/§4.9.
const (
	MinIntroPoints = 1
	MaxIntroPoints = 10
)

// MinTTL and MaxTTL bound a descriptor's advertised lifetime.
const (
	MinTTL = 1 * time.Hour
	MaxTTL = 24 * time.Hour
)

// DescriptorVersion is the only descriptor wire version this codebase
// emits or accepts.
const DescriptorVersion = 1

// IntroductionPoint names a relay willing to forward Introduce messages
// to a hidden service, with that relay's own signed consent.
type IntroductionPoint struct {
	NodeID         identity.NodeID
	PublicKey      ed25519.PublicKey
	ConnectionInfo string
	AuthSignature  []byte
}

// authMessage builds the message an introduction point signs: its
// consent is bound to one specific service address.
func (p *IntroductionPoint) authMessage(service ServiceAddress) []byte {
	msg := make([]byte, 0, AddressSize+identity.NodeIDSize+len(p.PublicKey)+len(p.ConnectionInfo))
	msg = append(msg, service[:]...)
	msg = append(msg, p.NodeID[:]...)
	msg = append(msg, p.PublicKey...)
	msg = append(msg, []byte(p.ConnectionInfo)...)
	return msg
}

// SignAuth signs this introduction point's consent for service using
// the intro point node's own identity.
func (p *IntroductionPoint) SignAuth(service ServiceAddress, nodeIdentity *identity.Identity) {
	p.AuthSignature = nodeIdentity.Sign(p.authMessage(service))
}

// VerifyAuth checks the introduction point's consent signature against
// the service address it was issued for.
func (p *IntroductionPoint) VerifyAuth(service ServiceAddress) bool {
	return identity.Verify(p.PublicKey, p.authMessage(service), p.AuthSignature)
}

// ServiceDescriptor is the signed record a hidden service publishes to
// the DHT, mapping its address to its current introduction points.
type ServiceDescriptor struct {
	Version     int
	Address     ServiceAddress
	PublicKey   ed25519.PublicKey
	IntroPoints []IntroductionPoint
	CreatedAt   time.Time
	TTL         time.Duration
	Signature   []byte
}

// signingMessage builds the message the service key signs over:
// version || address || public_key || intro_point_ids || created_at || ttl.
func (d *ServiceDescriptor) signingMessage() []byte {
	msg := make([]byte, 0, 1+AddressSize+len(d.PublicKey)+identity.NodeIDSize*len(d.IntroPoints)+16)
	msg = append(msg, byte(d.Version))
	msg = append(msg, d.Address[:]...)
	msg = append(msg, d.PublicKey...)
	for _, ip := range d.IntroPoints {
		msg = append(msg, ip.NodeID[:]...)
	}
	var createdAt [8]byte
	binary.LittleEndian.PutUint64(createdAt[:], uint64(d.CreatedAt.Unix()))
	msg = append(msg, createdAt[:]...)
	var ttl [8]byte
	binary.LittleEndian.PutUint64(ttl[:], uint64(d.TTL.Seconds()))
	msg = append(msg, ttl[:]...)
	return msg
}

// Sign signs the descriptor using the service's own identity, which
// must own PublicKey.
func (d *ServiceDescriptor) Sign(serviceIdentity *identity.Identity) {
	d.Signature = serviceIdentity.Sign(d.signingMessage())
}

// NewServiceDescriptor builds and signs a descriptor for a service
// identity advertising introPoints, valid for ttl starting at createdAt.
func NewServiceDescriptor(serviceIdentity *identity.Identity, introPoints []IntroductionPoint, createdAt time.Time, ttl time.Duration) (*ServiceDescriptor, error) {
	d := &ServiceDescriptor{
		Version:     DescriptorVersion,
		Address:     FromPublicKey(serviceIdentity.PublicKey),
		PublicKey:   serviceIdentity.PublicKey,
		IntroPoints: introPoints,
		CreatedAt:   createdAt,
		TTL:         ttl,
	}
	if err := d.validateShape(); err != nil {
		return nil, err
	}
	d.Sign(serviceIdentity)
	return d, nil
}

// validateShape checks the structural invariants independent of
// signatures and wall-clock expiry, shared by construction and
// incoming-descriptor validation.
func (d *ServiceDescriptor) validateShape() error {
	if len(d.IntroPoints) < MinIntroPoints || len(d.IntroPoints) > MaxIntroPoints {
		return fmt.Errorf("onion: descriptor has %d intro points, want %d..%d", len(d.IntroPoints), MinIntroPoints, MaxIntroPoints)
	}
	if d.TTL < MinTTL || d.TTL > MaxTTL {
		return fmt.Errorf("onion: descriptor ttl %s out of range [%s, %s]", d.TTL, MinTTL, MaxTTL)
	}
	return nil
}

// Validate checks every invariant a node must confirm before storing
// or trusting a descriptor it received: signature, address binding,
// expiry, introduction-point count and TTL range, and every intro
// point's own consent signature.
func (d *ServiceDescriptor) Validate(now time.Time) error {
	if err := d.validateShape(); err != nil {
		return err
	}
	if !d.Address.Verify(d.PublicKey) {
		return fmt.Errorf("onion: descriptor address does not match hash(public_key)")
	}
	if !identity.Verify(d.PublicKey, d.signingMessage(), d.Signature) {
		return fmt.Errorf("onion: descriptor signature does not verify")
	}
	if now.Sub(d.CreatedAt) > d.TTL {
		return fmt.Errorf("onion: descriptor expired")
	}
	for i, ip := range d.IntroPoints {
		if !ip.VerifyAuth(d.Address) {
			return fmt.Errorf("onion: intro point %d auth signature does not verify", i)
		}
	}
	return nil
}
