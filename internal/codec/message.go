// Package codec implements the mesh's closed message catalog and its
// compact, deterministic binary wire encoding, grounded on the fixed-header-
// plus-length-prefixed-fields shape this codebase already uses for FTN
// Type-2+ packets (see the teacher's internal/ftn package).
package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meshnet/node/internal/identity"
)

// MessageID is 32 uniformly random bytes identifying one logical message
// for dedup purposes. Treated as opaque for equality.
type MessageID [32]byte

// NewMessageID draws a fresh random MessageID.
func NewMessageID() (MessageID, error) {
	var id MessageID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("codec: generate message id: %w", err)
	}
	return id, nil
}

var (
	// ErrTruncated is returned when a buffer ends before a required field.
	ErrTruncated = errors.New("codec: truncated message")
	// ErrPayloadTooLarge guards against a corrupt or hostile length field
	// requesting an unreasonable allocation.
	ErrPayloadTooLarge = errors.New("codec: payload length exceeds frame limit")
)

// MeshMessage is the wire entity exchanged between nodes, either inside a
// framed stream connection or (for Discovery only) as a standalone UDP
// datagram.
type MeshMessage struct {
	Type        Type
	Sender      identity.NodeID
	ID          MessageID
	TTL         uint8
	Destination *identity.NodeID // nil means broadcast
	Payload     []byte
	Signature   []byte // optional; present only on signed message types
}

// IsForUs reports whether m should be treated as addressed to self: true
// for every broadcast message, and for direct messages whose destination
// equals self.
func (m *MeshMessage) IsForUs(self identity.NodeID) bool {
	if m.Destination == nil {
		return true
	}
	return *m.Destination == self
}

// IsBroadcast reports whether m carries no destination.
func (m *MeshMessage) IsBroadcast() bool {
	return m.Destination == nil
}

// Encode serializes m deterministically: identical field values always
// produce identical bytes, though the encoding is not required to be
// canonical across different-but-equivalent representations.
func (m *MeshMessage) Encode() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(byte(m.Type))
	buf.Write(m.Sender[:])
	buf.Write(m.ID[:])
	buf.WriteByte(m.TTL)

	if m.Destination != nil {
		buf.WriteByte(1)
		buf.Write(m.Destination[:])
	} else {
		buf.WriteByte(0)
	}

	if err := writeLenPrefixed(&buf, m.Payload); err != nil {
		return nil, err
	}

	if m.Signature != nil {
		buf.WriteByte(1)
		if err := writeLenPrefixed(&buf, m.Signature); err != nil {
			return nil, err
		}
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// Decode parses a MeshMessage from data, which must contain exactly one
// encoded message (no trailing bytes are tolerated so callers can't
// accidentally smuggle extra data past a length field).
func Decode(data []byte) (*MeshMessage, error) {
	r := bytes.NewReader(data)
	m := &MeshMessage{}

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	m.Type = Type(typeByte)

	if _, err := readFull(r, m.Sender[:]); err != nil {
		return nil, err
	}
	if _, err := readFull(r, m.ID[:]); err != nil {
		return nil, err
	}

	ttl, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	m.TTL = ttl

	hasDest, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	if hasDest == 1 {
		var dest identity.NodeID
		if _, err := readFull(r, dest[:]); err != nil {
			return nil, err
		}
		m.Destination = &dest
	}

	payload, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	m.Payload = payload

	hasSig, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	if hasSig == 1 {
		sig, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		m.Signature = sig
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes after message", r.Len())
	}

	return m, nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, ErrTruncated
	}
	if n > MaxFrameLen {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, n)
	if _, err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := r.Read(buf)
	if err != nil || n != len(buf) {
		return n, ErrTruncated
	}
	return n, nil
}
