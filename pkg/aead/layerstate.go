// Package aead implements the per-hop onion encryption layer: a forward
// and backward ChaCha20-Poly1305 AEAD keyed from a shared secret derived
// during circuit extension, with a monotonic per-direction nonce counter.
package aead

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	neterrors "github.com/a7maadf/anonnet/pkg/errors"
)

// KeySize is the ChaCha20-Poly1305 key size.
const KeySize = chacha20poly1305.KeySize

// forwardDomain and backwardDomain domain-separate key derivation for
// the two directions of a single hop, per spec.md §4.2.
const (
	forwardDomain  = "forward-v1"
	backwardDomain = "backward-v1"
)

// nonceBaseDomain domain-separates the per-direction nonce base from
// the AEAD key derivation above. The spec names nonce_base as "12 fresh
// random bytes", but both ends of a hop must agree on the same base to
// compute the same nonce for a given counter value, so this codebase
// derives it from the shared secret the same way it derives the keys,
// rather than transmitting it explicitly.
const nonceBaseDomain = "nonce-base-v1"

// DeriveKeys derives the forward and backward AEAD keys for one hop from
// a shared secret established by the circuit-extension handshake.
func DeriveKeys(sharedSecret []byte) (forwardKey, backwardKey [KeySize]byte, err error) {
	fk, err := keyedHash(sharedSecret, forwardDomain)
	if err != nil {
		return forwardKey, backwardKey, err
	}
	bk, err := keyedHash(sharedSecret, backwardDomain)
	if err != nil {
		return forwardKey, backwardKey, err
	}
	copy(forwardKey[:], fk)
	copy(backwardKey[:], bk)
	return forwardKey, backwardKey, nil
}

// DeriveNonceBases derives the forward and backward nonce bases for one
// hop from the same shared secret used by DeriveKeys.
func DeriveNonceBases(sharedSecret []byte) (forwardBase, backwardBase [chacha20poly1305.NonceSize]byte, err error) {
	fb, err := keyedHash(sharedSecret, nonceBaseDomain+"/"+forwardDomain)
	if err != nil {
		return forwardBase, backwardBase, err
	}
	bb, err := keyedHash(sharedSecret, nonceBaseDomain+"/"+backwardDomain)
	if err != nil {
		return forwardBase, backwardBase, err
	}
	copy(forwardBase[:], fb)
	copy(backwardBase[:], bb)
	return forwardBase, backwardBase, nil
}

func keyedHash(secret []byte, domain string) ([]byte, error) {
	h, err := blake2b.New256(secret)
	if err != nil {
		return nil, fmt.Errorf("init blake2b keyed hash: %w", err)
	}
	h.Write([]byte(domain))
	return h.Sum(nil), nil
}

// LayerState holds one direction's AEAD cipher and nonce counter for one
// hop of a circuit. It is not safe for concurrent use; callers serialize
// access per circuit (see pkg/circuit).
type LayerState struct {
	aead      cipher.AEAD
	nonceBase [chacha20poly1305.NonceSize]byte
	counter   uint64
	exhausted bool
}

// NewLayerState constructs a LayerState from a key and a random nonce
// base. The nonce used per message is nonceBase XOR little-endian(counter).
func NewLayerState(key [KeySize]byte, nonceBase [chacha20poly1305.NonceSize]byte) (*LayerState, error) {
	a, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init chacha20poly1305: %w", err)
	}
	return &LayerState{aead: a, nonceBase: nonceBase}, nil
}

// Seal encrypts and authenticates plaintext, appending the result to dst.
// It returns a NonceExhaustion error if the counter would wrap.
func (s *LayerState) Seal(dst, plaintext, additionalData []byte) ([]byte, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	return s.aead.Seal(dst, nonce[:], plaintext, additionalData), nil
}

// Open decrypts and authenticates ciphertext, appending the plaintext to
// dst. It returns a NonceExhaustion error if the counter would wrap.
func (s *LayerState) Open(dst, ciphertext, additionalData []byte) ([]byte, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	out, err := s.aead.Open(dst, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, neterrors.CryptoError("aead open failed", err)
	}
	return out, nil
}

// nextNonce computes and advances the per-direction nonce. The call
// that would hand out the nonce for counter == math.MaxUint64 fails
// fatally instead: per spec.md, nonce wraparound is fatal and
// non-retryable, and the circuit hop must be torn down rather than
// ever reuse a nonce, so the at-limit counter value itself is never
// consumed.
func (s *LayerState) nextNonce() ([chacha20poly1305.NonceSize]byte, error) {
	var nonce [chacha20poly1305.NonceSize]byte
	if s.exhausted || s.counter == ^uint64(0) {
		s.exhausted = true
		return nonce, neterrors.NonceExhaustionError("layer state nonce counter exhausted")
	}

	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], s.counter)
	copy(nonce[:], s.nonceBase[:])
	for i := 0; i < 8; i++ {
		nonce[i] ^= counterBytes[i]
	}

	s.counter++
	return nonce, nil
}

// DeriveBidirectional builds the matching forward/backward LayerState
// pair both ends of a hop compute independently from the same DH
// shared secret, per spec.md §4.3 step 4.
func DeriveBidirectional(sharedSecret []byte) (forward, backward *LayerState, err error) {
	fk, bk, err := DeriveKeys(sharedSecret)
	if err != nil {
		return nil, nil, err
	}
	fb, bb, err := DeriveNonceBases(sharedSecret)
	if err != nil {
		return nil, nil, err
	}
	forward, err = NewLayerState(fk, fb)
	if err != nil {
		return nil, nil, err
	}
	backward, err = NewLayerState(bk, bb)
	if err != nil {
		return nil, nil, err
	}
	return forward, backward, nil
}

// Counter returns the current nonce counter value, for tests and metrics.
func (s *LayerState) Counter() uint64 { return s.counter }

// Exhausted reports whether this LayerState's nonce counter has wrapped
// and the state can no longer be used.
func (s *LayerState) Exhausted() bool { return s.exhausted }
