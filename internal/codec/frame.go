package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen is the largest payload the stream framing will accept. A
// length prefix above this closes the connection immediately.
const MaxFrameLen = 1_000_000

// WriteFrame writes msg to w as a 4-byte big-endian length followed by its
// encoded bytes.
func WriteFrame(w io.Writer, msg *MeshMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("codec: encode frame: %w", err)
	}
	if len(data) > MaxFrameLen {
		return fmt.Errorf("codec: encoded message is %d bytes, exceeds %d limit", len(data), MaxFrameLen)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it. A
// length prefix greater than MaxFrameLen is reported as an error without
// reading the (oversized) payload, so the caller can close the connection
// within one frame boundary instead of buffering attacker-controlled data.
func ReadFrame(r io.Reader) (*MeshMessage, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("codec: frame length %d exceeds %d limit", length, MaxFrameLen)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return Decode(data)
}
