package codec

import (
	"bytes"
	"testing"

	"github.com/meshnet/node/internal/identity"
)

func TestMeshMessageEncodeDecodeRoundTrip(t *testing.T) {
	id, err := NewMessageID()
	if err != nil {
		t.Fatalf("NewMessageID: %v", err)
	}
	var sender identity.NodeID
	sender[0] = 0xAB

	msg := &MeshMessage{
		Type:    TypeText,
		Sender:  sender,
		ID:      id,
		TTL:     7,
		Payload: []byte("hello mesh"),
	}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Type != msg.Type || got.Sender != msg.Sender || got.ID != msg.ID || got.TTL != msg.TTL {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, msg)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", got.Payload, msg.Payload)
	}
	if got.Destination != nil {
		t.Error("expected nil destination on broadcast message")
	}
	if !got.IsBroadcast() {
		t.Error("IsBroadcast() = false, want true")
	}
}

func TestMeshMessageWithDestinationAndSignature(t *testing.T) {
	id, _ := NewMessageID()
	var sender, dest identity.NodeID
	sender[0] = 1
	dest[0] = 2

	msg := &MeshMessage{
		Type:        TypeFileChunk,
		Sender:      sender,
		ID:          id,
		TTL:         3,
		Destination: &dest,
		Payload:     []byte{1, 2, 3, 4},
		Signature:   []byte("sig-bytes"),
	}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Destination == nil || *got.Destination != dest {
		t.Errorf("destination mismatch: got %v, want %v", got.Destination, dest)
	}
	if !bytes.Equal(got.Signature, msg.Signature) {
		t.Errorf("signature mismatch: got %q, want %q", got.Signature, msg.Signature)
	}
	if got.IsForUs(dest) != true {
		t.Error("IsForUs(dest) = false, want true")
	}
	if got.IsForUs(sender) != false {
		t.Error("IsForUs(sender) = true, want false")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	id, _ := NewMessageID()
	var sender identity.NodeID
	msg := &MeshMessage{Type: TypePing, Sender: sender, ID: id, TTL: 1}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data = append(data, 0xFF)

	if _, err := Decode(data); err == nil {
		t.Error("Decode with trailing byte = nil error, want error")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	id, _ := NewMessageID()
	var sender identity.NodeID
	msg := &MeshMessage{Type: TypePing, Sender: sender, ID: id, TTL: 1}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(data[:len(data)-3]); err == nil {
		t.Error("Decode truncated input = nil error, want error")
	}
}

func TestTypeCatalogCoversAllConstants(t *testing.T) {
	types := []Type{
		TypeDiscovery, TypePing, TypePong,
		TypeText, TypePublicBroadcast, TypeSOS, TypeReadReceipt,
		TypeTypingStart, TypeTypingStop, TypeGroupMessage, TypeGroupJoin,
		TypeGroupLeave, TypeCheckIn, TypeTriage, TypeResourceRequest,
		TypeDisappearing, TypeFileChunk, TypeFileOffer, TypeFileAccept,
		TypeVoiceNote, TypeVoiceStream, TypeCallStart, TypeCallEnd,
		TypePeerExchange, TypeKeyExchange, TypeProfileUpdate,
	}
	for _, ty := range types {
		if !Known(ty) {
			t.Errorf("Known(%v) = false, want true", ty)
		}
		if ty.String() == "Unknown" {
			t.Errorf("%v.String() = Unknown", ty)
		}
	}
	if Known(Type(0xFF)) {
		t.Error("Known(0xFF) = true, want false")
	}
}
