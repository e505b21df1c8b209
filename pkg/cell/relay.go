package cell

import (
	"encoding/binary"
	"fmt"
)

// RelayCommand identifies the kind of a relay cell.
type RelayCommand byte

const (
	RelayBegin RelayCommand = iota + 1
	RelayData
	RelayEnd
	RelaySendme
	RelayExtend
	RelayExtended
	RelayTruncate
	RelayTruncated
	RelayDrop
)

func (c RelayCommand) String() string {
	switch c {
	case RelayBegin:
		return "RELAY_BEGIN"
	case RelayData:
		return "RELAY_DATA"
	case RelayEnd:
		return "RELAY_END"
	case RelaySendme:
		return "RELAY_SENDME"
	case RelayExtend:
		return "RELAY_EXTEND"
	case RelayExtended:
		return "RELAY_EXTENDED"
	case RelayTruncate:
		return "RELAY_TRUNCATE"
	case RelayTruncated:
		return "RELAY_TRUNCATED"
	case RelayDrop:
		return "RELAY_DROP"
	default:
		return fmt.Sprintf("RELAY_UNKNOWN(%d)", byte(c))
	}
}

// DigestSize is the width of a relay cell's recognition digest: the
// first 4 bytes of a hash over the cell with the digest field zeroed.
const DigestSize = 4

// RelayHeaderLen is the size of a RelayCell's fixed-width header.
const RelayHeaderLen = 1 /* command */ + 2 /* stream id */ + 8 /* sequence */ + DigestSize + 2 /* data len */

// RelayCell is the per-hop decrypted unit carried inside a CmdRelay Cell.
type RelayCell struct {
	Command  RelayCommand
	StreamID uint16
	Sequence uint64
	Digest   [DigestSize]byte
	Data     []byte
}

// NewRelayCell builds a RelayCell with a zeroed digest; callers compute
// and set the digest before transmission via SetDigest.
func NewRelayCell(command RelayCommand, streamID uint16, sequence uint64, data []byte) *RelayCell {
	return &RelayCell{Command: command, StreamID: streamID, Sequence: sequence, Data: data}
}

// Encode serializes the relay cell to its wire representation.
func (c *RelayCell) Encode() []byte {
	buf := make([]byte, RelayHeaderLen+len(c.Data))
	buf[0] = byte(c.Command)
	binary.LittleEndian.PutUint16(buf[1:3], c.StreamID)
	binary.LittleEndian.PutUint64(buf[3:11], c.Sequence)
	copy(buf[11:11+DigestSize], c.Digest[:])
	binary.LittleEndian.PutUint16(buf[11+DigestSize:13+DigestSize], uint16(len(c.Data)))
	copy(buf[RelayHeaderLen:], c.Data)
	return buf
}

// DecodeRelayCell parses a relay cell from its wire representation.
func DecodeRelayCell(buf []byte) (*RelayCell, error) {
	if len(buf) < RelayHeaderLen {
		return nil, fmt.Errorf("relay cell: buffer too short: %d bytes", len(buf))
	}
	c := &RelayCell{
		Command:  RelayCommand(buf[0]),
		StreamID: binary.LittleEndian.Uint16(buf[1:3]),
		Sequence: binary.LittleEndian.Uint64(buf[3:11]),
	}
	copy(c.Digest[:], buf[11:11+DigestSize])
	length := binary.LittleEndian.Uint16(buf[11+DigestSize : 13+DigestSize])
	if int(length) > len(buf)-RelayHeaderLen {
		return nil, fmt.Errorf("relay cell: declared length %d exceeds buffer", length)
	}
	c.Data = append([]byte(nil), buf[RelayHeaderLen:RelayHeaderLen+int(length)]...)
	return c, nil
}

// encodeForDigest returns the wire encoding with the digest field forced
// to zero, the input to the recognition digest computation.
func (c *RelayCell) encodeForDigest() []byte {
	saved := c.Digest
	c.Digest = [DigestSize]byte{}
	buf := c.Encode()
	c.Digest = saved
	return buf
}
