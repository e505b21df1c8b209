package onion

import (
	"testing"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
)

func mustServiceIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate(8)
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func mustIntroPoint(t *testing.T, service ServiceAddress) IntroductionPoint {
	t.Helper()
	relay := mustServiceIdentity(t)
	ip := IntroductionPoint{
		NodeID:         relay.NodeID,
		PublicKey:      relay.PublicKey,
		ConnectionInfo: "relay.example:9001",
	}
	ip.SignAuth(service, relay)
	return ip
}

func TestNewServiceDescriptorValidates(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)

	d, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 2*time.Hour)
	if err != nil {
		t.Fatalf("NewServiceDescriptor: %v", err)
	}
	if err := d.Validate(time.Now()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsTooFewIntroPoints(t *testing.T) {
	service := mustServiceIdentity(t)
	if _, err := NewServiceDescriptor(service, nil, time.Now(), 2*time.Hour); err == nil {
		t.Error("expected an error for zero intro points")
	}
}

func TestValidateRejectsTooManyIntroPoints(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	var intros []IntroductionPoint
	for i := 0; i < MaxIntroPoints+1; i++ {
		intros = append(intros, mustIntroPoint(t, addr))
	}
	if _, err := NewServiceDescriptor(service, intros, time.Now(), 2*time.Hour); err == nil {
		t.Error("expected an error for too many intro points")
	}
}

func TestValidateRejectsTTLOutOfRange(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)
	if _, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 30*time.Minute); err == nil {
		t.Error("expected an error for a too-short ttl")
	}
	if _, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 48*time.Hour); err == nil {
		t.Error("expected an error for a too-long ttl")
	}
}

func TestValidateRejectsExpiredDescriptor(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)
	d, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now().Add(-3*time.Hour), 2*time.Hour)
	if err != nil {
		t.Fatalf("NewServiceDescriptor: %v", err)
	}
	if err := d.Validate(time.Now()); err == nil {
		t.Error("expected an error for an expired descriptor")
	}
}

func TestValidateRejectsTamperedIntroPointSignature(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)
	intro.AuthSignature[0] ^= 0xff

	d, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 2*time.Hour)
	if err != nil {
		t.Fatalf("NewServiceDescriptor: %v", err)
	}
	if err := d.Validate(time.Now()); err == nil {
		t.Error("expected an error for a tampered intro point auth signature")
	}
}

func TestValidateRejectsTamperedDescriptorSignature(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)
	d, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 2*time.Hour)
	if err != nil {
		t.Fatalf("NewServiceDescriptor: %v", err)
	}
	d.Signature[0] ^= 0xff
	if err := d.Validate(time.Now()); err == nil {
		t.Error("expected an error for a tampered descriptor signature")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	service := mustServiceIdentity(t)
	addr := FromPublicKey(service.PublicKey)
	intro := mustIntroPoint(t, addr)
	d, err := NewServiceDescriptor(service, []IntroductionPoint{intro}, time.Now(), 2*time.Hour)
	if err != nil {
		t.Fatalf("NewServiceDescriptor: %v", err)
	}

	data, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := UnmarshalDescriptor(data)
	if err != nil {
		t.Fatalf("UnmarshalDescriptor: %v", err)
	}
	if err := decoded.Validate(time.Now()); err != nil {
		t.Errorf("decoded descriptor failed validation: %v", err)
	}
	if decoded.Address != d.Address {
		t.Error("decoded address mismatch")
	}
	if len(decoded.IntroPoints) != 1 || decoded.IntroPoints[0].NodeID != intro.NodeID {
		t.Error("decoded intro points mismatch")
	}
}
