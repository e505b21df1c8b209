// Package wire implements the length-prefixed, CBOR-encoded envelope
// used to frame every message exchanged between nodes.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	neterrors "github.com/a7maadf/anonnet/pkg/errors"
)

// MaxMessageSize bounds a single envelope's encoded payload, guarding
// against memory-exhaustion from a malicious or buggy peer.
const MaxMessageSize = 10 * 1024 * 1024 // 10 MiB

// lengthPrefixSize is the width of the frame's length prefix.
const lengthPrefixSize = 4

// Envelope is the outermost wire structure carried over a transport
// stream. Encoding is canonical CBOR so that, for a fixed MessageID, the
// byte representation is deterministic — required for Signature to be
// meaningful.
type Envelope struct {
	Payload   []byte    `cbor:"1,keyasint"`
	MessageID uuid.UUID `cbor:"2,keyasint"`
	Timestamp int64     `cbor:"3,keyasint"`
	Signature []byte    `cbor:"4,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building canonical cbor encoder: %v", err))
	}
	return mode
}()

// NewEnvelope builds an envelope around payload, generating a fresh
// message id and stamping it with timestamp.
func NewEnvelope(payload []byte, timestamp int64) *Envelope {
	return &Envelope{
		Payload:   payload,
		MessageID: uuid.New(),
		Timestamp: timestamp,
	}
}

// Marshal encodes the envelope as canonical CBOR.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := encMode.Marshal(e)
	if err != nil {
		return nil, neterrors.ProtocolError("encode envelope", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes a canonical CBOR envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, neterrors.ProtocolError("decode envelope", err)
	}
	return &e, nil
}

// SignedBytes returns the canonical encoding of the envelope fields that
// participate in the signature (everything except Signature itself).
func (e *Envelope) SignedBytes() ([]byte, error) {
	unsigned := &Envelope{Payload: e.Payload, MessageID: e.MessageID, Timestamp: e.Timestamp}
	return unsigned.Marshal()
}

// WriteTo frames the envelope with a 4-byte little-endian length prefix
// and writes it to w.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	data, err := e.Marshal()
	if err != nil {
		return 0, err
	}
	if len(data) > MaxMessageSize {
		return 0, neterrors.ProtocolError(fmt.Sprintf("envelope exceeds max message size: %d > %d", len(data), MaxMessageSize), nil)
	}

	var prefix [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))

	n1, err := w.Write(prefix[:])
	if err != nil {
		return int64(n1), fmt.Errorf("write length prefix: %w", err)
	}
	n2, err := w.Write(data)
	return int64(n1 + n2), err
}

// ReadEnvelope reads one length-prefixed CBOR envelope from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > MaxMessageSize {
		return nil, neterrors.ProtocolError(fmt.Sprintf("envelope length %d exceeds max message size", length), nil)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read envelope body: %w", err)
	}
	return UnmarshalEnvelope(data)
}
