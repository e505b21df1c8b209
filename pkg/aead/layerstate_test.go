package aead

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func TestDeriveKeysDeterministicAndDistinct(t *testing.T) {
	secret := []byte("a shared secret from the circuit extension handshake")

	fk1, bk1, err := DeriveKeys(secret)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	fk2, bk2, err := DeriveKeys(secret)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	if fk1 != fk2 || bk1 != bk2 {
		t.Error("DeriveKeys must be deterministic for the same secret")
	}
	if fk1 == bk1 {
		t.Error("forward and backward keys must differ (domain separation)")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	secret := []byte("shared secret")
	fk, _, err := DeriveKeys(secret)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	var nonceBase [chacha20poly1305.NonceSize]byte
	sender, err := NewLayerState(fk, nonceBase)
	if err != nil {
		t.Fatalf("NewLayerState: %v", err)
	}
	receiver, err := NewLayerState(fk, nonceBase)
	if err != nil {
		t.Fatalf("NewLayerState: %v", err)
	}

	plaintext := []byte("relay cell payload")
	ciphertext, err := sender.Seal(nil, plaintext, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	decrypted, err := receiver.Open(nil, ciphertext, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypted plaintext does not match original")
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	fk, _, _ := DeriveKeys([]byte("secret"))
	var nonceBase [chacha20poly1305.NonceSize]byte
	sender, _ := NewLayerState(fk, nonceBase)
	receiver, _ := NewLayerState(fk, nonceBase)

	ciphertext, err := sender.Seal(nil, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ciphertext[0] ^= 0xff

	if _, err := receiver.Open(nil, ciphertext, nil); err == nil {
		t.Error("expected Open to fail on tampered ciphertext")
	}
}

func TestNonceCounterAdvances(t *testing.T) {
	fk, _, _ := DeriveKeys([]byte("secret"))
	var nonceBase [chacha20poly1305.NonceSize]byte
	s, _ := NewLayerState(fk, nonceBase)

	if _, err := s.Seal(nil, []byte("a"), nil); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if s.Counter() != 1 {
		t.Errorf("expected counter 1 after one Seal, got %d", s.Counter())
	}
	if _, err := s.Seal(nil, []byte("b"), nil); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if s.Counter() != 2 {
		t.Errorf("expected counter 2 after two Seals, got %d", s.Counter())
	}
}

func TestDeriveBidirectionalProducesUsableMatchingPair(t *testing.T) {
	secretAtoB := []byte("the DH shared secret for this hop")

	aForward, aBackward, err := DeriveBidirectional(secretAtoB)
	if err != nil {
		t.Fatalf("DeriveBidirectional (originator side): %v", err)
	}
	bForward, bBackward, err := DeriveBidirectional(secretAtoB)
	if err != nil {
		t.Fatalf("DeriveBidirectional (hop side): %v", err)
	}

	ciphertext, err := aForward.Seal(nil, []byte("toward the exit"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plaintext, err := bForward.Open(nil, ciphertext, nil)
	if err != nil {
		t.Fatalf("Open with the hop's independently-derived forward state: %v", err)
	}
	if string(plaintext) != "toward the exit" {
		t.Errorf("plaintext mismatch: %q", plaintext)
	}

	reply, err := bBackward.Seal(nil, []byte("toward the client"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := aBackward.Open(nil, reply, nil); err != nil {
		t.Fatalf("Open with the originator's independently-derived backward state: %v", err)
	}
}

func TestNonceExhaustionIsFatal(t *testing.T) {
	fk, _, _ := DeriveKeys([]byte("secret"))
	var nonceBase [chacha20poly1305.NonceSize]byte
	s, _ := NewLayerState(fk, nonceBase)
	s.counter = ^uint64(0)

	if _, err := s.Seal(nil, []byte("one too many"), nil); err == nil {
		t.Fatal("expected Seal to fail fatally at the max counter value, not hand out one more nonce")
	}
	if !s.Exhausted() {
		t.Fatal("expected LayerState to be marked exhausted after the rejected call")
	}
	if _, err := s.Seal(nil, []byte("still refused"), nil); err == nil {
		t.Error("expected Seal to keep failing once the nonce counter is exhausted")
	}
}
