// Package identity provides node identity, key management, and the
// proof-of-work admission gate that ties a NodeId to its public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// NodeIDSize is the length in bytes of a NodeID.
const NodeIDSize = 32

// nodeIDDomain domain-separates NodeID derivation from other BLAKE3 uses
// in this codebase (the PoW hash, the relay-cell digest).
const nodeIDDomain = "anonnet-node-id-v1"

// NodeID uniquely identifies a node in the network. It is always equal
// to hash(public_key) — see Admit.
type NodeID [NodeIDSize]byte

// DeriveNodeID computes the NodeID for a public key.
func DeriveNodeID(publicKey ed25519.PublicKey) NodeID {
	h := blake3.New(32, nil)
	h.Write([]byte(nodeIDDomain))
	h.Write(publicKey)
	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

// String returns the hex encoding of the NodeID.
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// ShortString returns the first 8 bytes of the NodeID as hex, for logging.
func (n NodeID) ShortString() string {
	return hex.EncodeToString(n[:8])
}

// Distance returns the XOR distance between two NodeIDs.
func (n NodeID) Distance(other NodeID) Distance {
	var d Distance
	for i := 0; i < NodeIDSize; i++ {
		d[i] = n[i] ^ other[i]
	}
	return d
}

// Distance is the XOR metric used to order NodeIDs in the DHT keyspace.
type Distance [NodeIDSize]byte

// LeadingZeros returns the number of leading zero bits, used as the
// Kademlia bucket index.
func (d Distance) LeadingZeros() int {
	count := 0
	for _, b := range d {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// Less reports whether d is numerically smaller than other, treating
// both as big-endian integers. Used to rank candidates by closeness.
func (d Distance) Less(other Distance) bool {
	for i := 0; i < NodeIDSize; i++ {
		if d[i] != other[i] {
			return d[i] < other[i]
		}
	}
	return false
}

// Identity is a node's long-term key material plus the admission proof
// that binds its NodeID to its public key.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	NodeID     NodeID
	PoW        ProofOfWork
}

// Generate creates a new Identity, mining a proof-of-work at the given
// difficulty before returning.
func Generate(difficulty uint8) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	var key [32]byte
	copy(key[:], pub)
	pow := Mine(key, difficulty)
	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		NodeID:     DeriveNodeID(pub),
		PoW:        pow,
	}, nil
}

// Sign signs a message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.PrivateKey, message)
}

// Verify reports whether signature is a valid Ed25519 signature over
// message under publicKey.
func Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// Admit is the Sybil gate: a peer-asserted (nodeID, publicKey, pow) triple
// is only admitted into the routing table if the NodeID really is
// hash(public_key) and the proof-of-work meets the minimum difficulty.
func Admit(nodeID NodeID, publicKey ed25519.PublicKey, pow ProofOfWork, minDifficulty uint8) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("admission: invalid public key length %d", len(publicKey))
	}
	if DeriveNodeID(publicKey) != nodeID {
		return fmt.Errorf("admission: node_id does not match hash(public_key)")
	}
	var key [32]byte
	copy(key[:], publicKey)
	if !pow.Verify(key) {
		return fmt.Errorf("admission: proof-of-work does not verify")
	}
	if pow.Difficulty < minDifficulty {
		return fmt.Errorf("admission: proof-of-work difficulty %d below minimum %d", pow.Difficulty, minDifficulty)
	}
	return nil
}
