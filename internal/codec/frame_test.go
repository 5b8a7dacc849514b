package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/meshnet/node/internal/identity"
)

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	id, _ := NewMessageID()
	var sender identity.NodeID
	sender[3] = 9

	msg := &MeshMessage{
		Type:    TypeText,
		Sender:  sender,
		ID:      id,
		TTL:     5,
		Payload: []byte("framed payload"),
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", got.Payload, msg.Payload)
	}
}

func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameLen+1)
	buf.Write(header[:])

	// No payload bytes follow — ReadFrame must reject based on the length
	// prefix alone, without trying to read (MaxFrameLen+1) bytes.
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("ReadFrame with oversized length prefix = nil error, want error")
	}
	if buf.Len() != 0 {
		t.Errorf("ReadFrame consumed payload bytes after rejecting header, %d bytes left unread", buf.Len())
	}
}

func TestReadFrameStopsAtEOFOnShortHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x01})
	if _, err := ReadFrame(buf); err != io.ErrUnexpectedEOF && err != io.EOF {
		t.Errorf("ReadFrame(short header) = %v, want io.EOF or io.ErrUnexpectedEOF", err)
	}
}

func TestWriteFrameRejectsOversizedMessage(t *testing.T) {
	id, _ := NewMessageID()
	var sender identity.NodeID

	msg := &MeshMessage{
		Type:    TypeFileChunk,
		Sender:  sender,
		ID:      id,
		TTL:     1,
		Payload: make([]byte, MaxFrameLen+1),
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err == nil {
		t.Error("WriteFrame with oversized payload = nil error, want error")
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	var sender identity.NodeID

	for i := 0; i < 3; i++ {
		id, _ := NewMessageID()
		msg := &MeshMessage{Type: TypePing, Sender: sender, ID: id, TTL: 1}
		if err := WriteFrame(&buf, msg); err != nil {
			t.Fatalf("WriteFrame #%d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		if _, err := ReadFrame(&buf); err != nil {
			t.Fatalf("ReadFrame #%d: %v", i, err)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("%d bytes left unread after consuming 3 frames", buf.Len())
	}
}
