package identity

import (
	"encoding/binary"
	"time"

	"lukechampine.com/blake3"
)

// powDomain domain-separates the proof-of-work hash from NodeID derivation.
const powDomain = "anonnet-pow-v1"

// ProofOfWork is the evidence an identity presents to justify its initial
// credit grant and to deter Sybil identity churn: a nonce such that
// hash(public_key || nonce || timestamp) has at least Difficulty leading
// zero bits.
type ProofOfWork struct {
	Nonce      uint64
	Difficulty uint8
	Timestamp  uint64
}

// MinimumDifficulty is the lowest difficulty the network accepts.
func MinimumDifficulty() uint8 { return 8 }

// RecommendedDifficulty balances mining cost against credit reward.
func RecommendedDifficulty() uint8 { return 12 }

// MaximumDifficulty is the highest difficulty worth mining for.
func MaximumDifficulty() uint8 { return 28 }

// Mine searches for a nonce satisfying difficulty leading zero bits,
// stamping the proof with the current time.
func Mine(publicKey [32]byte, difficulty uint8) ProofOfWork {
	timestamp := uint64(time.Now().Unix())
	for nonce := uint64(0); ; nonce++ {
		if powHash(publicKey, nonce, timestamp).leadingZeroBits() >= difficulty {
			return ProofOfWork{Nonce: nonce, Difficulty: difficulty, Timestamp: timestamp}
		}
	}
}

// Verify reports whether the proof is valid for publicKey.
func (p ProofOfWork) Verify(publicKey [32]byte) bool {
	return powHash(publicKey, p.Nonce, p.Timestamp).leadingZeroBits() >= p.Difficulty
}

// CalculateCredits returns the initial credit grant for this proof.
// Credits double every 4 difficulty levels above the floor of 8; below
// the floor a node still receives a minimal grant of 100 credits.
func (p ProofOfWork) CalculateCredits() uint64 {
	if p.Difficulty < 8 {
		return 100
	}
	const baseCredits = uint64(1000)
	factor := uint(p.Difficulty-8) / 4
	return baseCredits << factor
}

type powDigest [32]byte

func (d powDigest) leadingZeroBits() uint8 {
	count := 0
	for _, b := range d {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				if count > 255 {
					return 255
				}
				return uint8(count)
			}
			count++
		}
	}
	if count > 255 {
		return 255
	}
	return uint8(count)
}

func powHash(publicKey [32]byte, nonce, timestamp uint64) powDigest {
	h := blake3.New(32, nil)
	h.Write([]byte(powDomain))
	h.Write(publicKey[:])
	var nb, tb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	binary.LittleEndian.PutUint64(tb[:], timestamp)
	h.Write(nb[:])
	h.Write(tb[:])
	var d powDigest
	copy(d[:], h.Sum(nil))
	return d
}
