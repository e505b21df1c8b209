package cell

import "lukechampine.com/blake3"

// digestDomain domain-separates the relay-cell recognition digest from
// other BLAKE3 uses in this codebase.
const digestDomain = "anonnet-relay-digest-v1"

// ComputeDigest returns the 4-byte recognition digest for a relay cell,
// computed over its wire encoding with the digest field zeroed.
func (c *RelayCell) ComputeDigest() [DigestSize]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(digestDomain))
	h.Write(c.encodeForDigest())
	var d [DigestSize]byte
	copy(d[:], h.Sum(nil))
	return d
}

// SetDigest computes and stores the recognition digest on the cell.
func (c *RelayCell) SetDigest() {
	c.Digest = c.ComputeDigest()
}

// VerifyDigest reports whether the cell's stored digest matches a
// freshly-computed one — the "recognized" check used to determine
// whether this hop is the cell's intended destination.
func (c *RelayCell) VerifyDigest() bool {
	return c.Digest == c.ComputeDigest()
}
