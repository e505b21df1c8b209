// Package onion implements self-authenticating hidden-service
// addresses and signed service descriptors, grounded on the teacher's
// pkg/onion address/service handling (_examples/opd-ai-go-tor/pkg/onion
// /onion.go, service.go), generalized from the teacher's v3 .onion
// scheme (pubkey + checksum + version, base32) onto this spec's
// simpler hash("SERVICE-V1" || public_key) address with a .anon suffix.
package onion

import (
	"crypto/ed25519"
	"encoding/base32"
	"fmt"
	"strings"

	"lukechampine.com/blake3"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// AddressSize is the length in bytes of a ServiceAddress.
const AddressSize = 32

// Suffix is appended to the base32 rendering of a ServiceAddress.
const Suffix = ".anon"

// addressDomain domain-separates service-address derivation from
// identity.DeriveNodeID's own "anonnet-node-id-v1" domain.
const addressDomain = "SERVICE-V1"

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ServiceAddress is a self-authenticating hidden-service identifier:
// 32 bytes equal to hash("SERVICE-V1" || public_key).
type ServiceAddress [AddressSize]byte

// FromPublicKey derives the ServiceAddress bound to publicKey.
func FromPublicKey(publicKey ed25519.PublicKey) ServiceAddress {
	h := blake3.New(32, nil)
	h.Write([]byte(addressDomain))
	h.Write(publicKey)
	var addr ServiceAddress
	copy(addr[:], h.Sum(nil))
	return addr
}

// Verify reports whether addr was derived from publicKey.
func (a ServiceAddress) Verify(publicKey ed25519.PublicKey) bool {
	return a == FromPublicKey(publicKey)
}

// String renders the address as lowercase base32 plus the .anon suffix.
func (a ServiceAddress) String() string {
	return strings.ToLower(base32Encoding.EncodeToString(a[:])) + Suffix
}

// Hostname is an alias for String, matching the teacher's
// to_hostname/from_hostname naming for address round-tripping.
func (a ServiceAddress) Hostname() string { return a.String() }

// FromHostname parses a previously-rendered hostname back into a
// ServiceAddress.
func FromHostname(hostname string) (ServiceAddress, error) {
	var addr ServiceAddress
	trimmed := strings.TrimSuffix(strings.ToLower(hostname), Suffix)
	decoded, err := base32Encoding.DecodeString(strings.ToUpper(trimmed))
	if err != nil {
		return addr, fmt.Errorf("onion: invalid address encoding: %w", err)
	}
	if len(decoded) != AddressSize {
		return addr, fmt.Errorf("onion: invalid address length: %d bytes, want %d", len(decoded), AddressSize)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// AsNodeID reinterprets the address as a DHT key, since the service
// descriptor is stored at key = address.bytes per spec.md §4.9.
func (a ServiceAddress) AsNodeID() identity.NodeID {
	return identity.NodeID(a)
}
