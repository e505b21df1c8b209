// Package credit defines the relay-proof data model referenced by the
// circuit and relay packages when crediting relayed bytes. Settlement
// (turning proofs into ledger balance changes) is the blockchain/
// consensus layer's job and is explicitly out of scope here per
// spec.md §1 — this package only shapes, signs, and verifies the
// record a relay accumulates evidence in, grounded on the record
// style of Synnergy's core/mining_node.go (a plain accounting struct
// signed and handed off to a ledger it does not itself implement).
package credit

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/a7maadf/anonnet/pkg/identity"
)

// RelayProof is the unsettled evidence a relay accumulates for one
// circuit: the byte counts it forwarded, attested by its own
// signature so an external settlement layer can verify provenance
// without trusting the relay's self-report alone.
type RelayProof struct {
	CircuitID     uint64
	RelayNodeID   identity.NodeID
	BytesForward  uint64
	BytesBackward uint64
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Signature     []byte
}

// signingMessage builds the message the relay's identity signs over.
func (p *RelayProof) signingMessage() []byte {
	buf := make([]byte, 0, 8+identity.NodeIDSize+8+8+16)
	var circID [8]byte
	binary.LittleEndian.PutUint64(circID[:], p.CircuitID)
	buf = append(buf, circID[:]...)
	buf = append(buf, p.RelayNodeID[:]...)
	var fwd, back [8]byte
	binary.LittleEndian.PutUint64(fwd[:], p.BytesForward)
	binary.LittleEndian.PutUint64(back[:], p.BytesBackward)
	buf = append(buf, fwd[:]...)
	buf = append(buf, back[:]...)
	var start, end [8]byte
	binary.LittleEndian.PutUint64(start[:], uint64(p.PeriodStart.Unix()))
	binary.LittleEndian.PutUint64(end[:], uint64(p.PeriodEnd.Unix()))
	buf = append(buf, start[:]...)
	buf = append(buf, end[:]...)
	return buf
}

// NewRelayProof builds and signs a proof covering [periodStart,
// periodEnd) for relayNodeIdentity's own relaying activity on circID.
func NewRelayProof(relayNodeIdentity *identity.Identity, circID uint64, bytesForward, bytesBackward uint64, periodStart, periodEnd time.Time) (*RelayProof, error) {
	if !periodEnd.After(periodStart) {
		return nil, fmt.Errorf("credit: period end %s is not after start %s", periodEnd, periodStart)
	}
	p := &RelayProof{
		CircuitID:     circID,
		RelayNodeID:   relayNodeIdentity.NodeID,
		BytesForward:  bytesForward,
		BytesBackward: bytesBackward,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
	}
	p.Signature = relayNodeIdentity.Sign(p.signingMessage())
	return p, nil
}

// Verify checks that the proof's signature was produced by the holder
// of publicKey over this proof's exact fields, and that it claims to
// be from RelayNodeID (the Sybil gate at admission is the caller's job,
// via identity.DeriveNodeID(publicKey) == p.RelayNodeID).
func (p *RelayProof) Verify(publicKey []byte) bool {
	if identity.DeriveNodeID(publicKey) != p.RelayNodeID {
		return false
	}
	return identity.Verify(publicKey, p.signingMessage(), p.Signature)
}

// TotalBytes is the sum of both directions, the quantity an external
// settlement layer would convert into credits.
func (p *RelayProof) TotalBytes() uint64 {
	return p.BytesForward + p.BytesBackward
}

// Accumulator tracks in-progress byte counts per circuit between proof
// emissions, the bookkeeping a relay engine updates as it forwards
// cells and periodically flushes into a signed RelayProof.
type Accumulator struct {
	forward  map[uint64]uint64
	backward map[uint64]uint64
}

// NewAccumulator builds an empty per-circuit byte accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{forward: make(map[uint64]uint64), backward: make(map[uint64]uint64)}
}

// AddForward records n bytes relayed toward the exit on circID.
func (a *Accumulator) AddForward(circID uint64, n uint64) {
	a.forward[circID] += n
}

// AddBackward records n bytes relayed toward the origin on circID.
func (a *Accumulator) AddBackward(circID uint64, n uint64) {
	a.backward[circID] += n
}

// Flush emits a signed RelayProof for circID covering everything
// accumulated since the last Flush (or since tracking began), resetting
// its counters to zero.
func (a *Accumulator) Flush(relayNodeIdentity *identity.Identity, circID uint64, periodStart, periodEnd time.Time) (*RelayProof, error) {
	proof, err := NewRelayProof(relayNodeIdentity, circID, a.forward[circID], a.backward[circID], periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	delete(a.forward, circID)
	delete(a.backward, circID)
	return proof, nil
}
