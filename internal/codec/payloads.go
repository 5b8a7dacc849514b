package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/meshnet/node/internal/identity"
)

// DiscoveryPayload is the payload of a Discovery-typed MeshMessage,
// broadcast over UDP every 5s.
type DiscoveryPayload struct {
	NodeID       identity.NodeID
	DisplayName  string
	ListenPort   uint16
	Capabilities []string
	Gateway      bool
}

// EncodeDiscoveryPayload serializes p.
func EncodeDiscoveryPayload(p DiscoveryPayload) []byte {
	var buf bytes.Buffer
	buf.Write(p.NodeID[:])
	writeString(&buf, p.DisplayName)
	binary.Write(&buf, binary.BigEndian, p.ListenPort)
	writeStringList(&buf, p.Capabilities)
	writeBool(&buf, p.Gateway)
	return buf.Bytes()
}

// DecodeDiscoveryPayload parses a DiscoveryPayload.
func DecodeDiscoveryPayload(data []byte) (DiscoveryPayload, error) {
	var p DiscoveryPayload
	r := bytes.NewReader(data)

	if _, err := readFull(r, p.NodeID[:]); err != nil {
		return p, err
	}
	var err error
	if p.DisplayName, err = readString(r); err != nil {
		return p, err
	}
	if err := binary.Read(r, binary.BigEndian, &p.ListenPort); err != nil {
		return p, ErrTruncated
	}
	if p.Capabilities, err = readStringList(r); err != nil {
		return p, err
	}
	if p.Gateway, err = readBool(r); err != nil {
		return p, err
	}
	return p, nil
}

// TextPayload carries a Text, PublicBroadcast, CheckIn, Triage or
// ResourceRequest body. SOS and GroupMessage have their own payloads.
type TextPayload struct {
	Text string
}

func EncodeTextPayload(text string) []byte {
	var buf bytes.Buffer
	writeString(&buf, text)
	return buf.Bytes()
}

func DecodeTextPayload(data []byte) (TextPayload, error) {
	r := bytes.NewReader(data)
	text, err := readString(r)
	return TextPayload{Text: text}, err
}

// SOSPayload carries the emergency text and an optional GPS fix.
type SOSPayload struct {
	Text      string
	HasCoords bool
	Lat, Lon  float64
}

func EncodeSOSPayload(p SOSPayload) []byte {
	var buf bytes.Buffer
	writeString(&buf, p.Text)
	writeBool(&buf, p.HasCoords)
	if p.HasCoords {
		binary.Write(&buf, binary.BigEndian, p.Lat)
		binary.Write(&buf, binary.BigEndian, p.Lon)
	}
	return buf.Bytes()
}

func DecodeSOSPayload(data []byte) (SOSPayload, error) {
	var p SOSPayload
	r := bytes.NewReader(data)
	var err error
	if p.Text, err = readString(r); err != nil {
		return p, err
	}
	if p.HasCoords, err = readBool(r); err != nil {
		return p, err
	}
	if p.HasCoords {
		if err := binary.Read(r, binary.BigEndian, &p.Lat); err != nil {
			return p, ErrTruncated
		}
		if err := binary.Read(r, binary.BigEndian, &p.Lon); err != nil {
			return p, ErrTruncated
		}
	}
	return p, nil
}

// DisappearingPayload carries a TTL-in-seconds field distinct from the
// message's hop-count TTL.
type DisappearingPayload struct {
	Text       string
	TTLSeconds uint32
}

func EncodeDisappearingPayload(p DisappearingPayload) []byte {
	var buf bytes.Buffer
	writeString(&buf, p.Text)
	binary.Write(&buf, binary.BigEndian, p.TTLSeconds)
	return buf.Bytes()
}

func DecodeDisappearingPayload(data []byte) (DisappearingPayload, error) {
	var p DisappearingPayload
	r := bytes.NewReader(data)
	var err error
	if p.Text, err = readString(r); err != nil {
		return p, err
	}
	if err := binary.Read(r, binary.BigEndian, &p.TTLSeconds); err != nil {
		return p, ErrTruncated
	}
	return p, nil
}

// GroupPayload carries a group name plus, for GroupMessage, body text.
type GroupPayload struct {
	Group string
	Text  string
}

func EncodeGroupPayload(p GroupPayload) []byte {
	var buf bytes.Buffer
	writeString(&buf, p.Group)
	writeString(&buf, p.Text)
	return buf.Bytes()
}

func DecodeGroupPayload(data []byte) (GroupPayload, error) {
	var p GroupPayload
	r := bytes.NewReader(data)
	var err error
	if p.Group, err = readString(r); err != nil {
		return p, err
	}
	if p.Text, err = readString(r); err != nil {
		return p, err
	}
	return p, nil
}

// FileOfferPayload describes an incoming file before any bytes are sent.
type FileOfferPayload struct {
	FileID      [16]byte
	Filename    string
	TotalBytes  uint64
	ChunkCount  uint32
	ContentHash [32]byte
}

func EncodeFileOfferPayload(p FileOfferPayload) []byte {
	var buf bytes.Buffer
	buf.Write(p.FileID[:])
	writeString(&buf, p.Filename)
	binary.Write(&buf, binary.BigEndian, p.TotalBytes)
	binary.Write(&buf, binary.BigEndian, p.ChunkCount)
	buf.Write(p.ContentHash[:])
	return buf.Bytes()
}

func DecodeFileOfferPayload(data []byte) (FileOfferPayload, error) {
	var p FileOfferPayload
	r := bytes.NewReader(data)
	if _, err := readFull(r, p.FileID[:]); err != nil {
		return p, err
	}
	var err error
	if p.Filename, err = readString(r); err != nil {
		return p, err
	}
	if err := binary.Read(r, binary.BigEndian, &p.TotalBytes); err != nil {
		return p, ErrTruncated
	}
	if err := binary.Read(r, binary.BigEndian, &p.ChunkCount); err != nil {
		return p, ErrTruncated
	}
	if _, err := readFull(r, p.ContentHash[:]); err != nil {
		return p, err
	}
	return p, nil
}

// FileAcceptPayload acknowledges a FileOffer.
type FileAcceptPayload struct {
	FileID [16]byte
}

func EncodeFileAcceptPayload(p FileAcceptPayload) []byte {
	return append([]byte{}, p.FileID[:]...)
}

func DecodeFileAcceptPayload(data []byte) (FileAcceptPayload, error) {
	var p FileAcceptPayload
	if len(data) != 16 {
		return p, ErrTruncated
	}
	copy(p.FileID[:], data)
	return p, nil
}

// FileChunkPayload carries one ordered slice of file bytes.
type FileChunkPayload struct {
	FileID   [16]byte
	Sequence uint32
	Data     []byte
}

func EncodeFileChunkPayload(p FileChunkPayload) []byte {
	var buf bytes.Buffer
	buf.Write(p.FileID[:])
	binary.Write(&buf, binary.BigEndian, p.Sequence)
	writeLenPrefixed(&buf, p.Data)
	return buf.Bytes()
}

func DecodeFileChunkPayload(data []byte) (FileChunkPayload, error) {
	var p FileChunkPayload
	r := bytes.NewReader(data)
	if _, err := readFull(r, p.FileID[:]); err != nil {
		return p, err
	}
	if err := binary.Read(r, binary.BigEndian, &p.Sequence); err != nil {
		return p, ErrTruncated
	}
	chunk, err := readLenPrefixed(r)
	if err != nil {
		return p, err
	}
	p.Data = chunk
	return p, nil
}

// KeyExchangePayload carries an ephemeral X25519 public key.
type KeyExchangePayload struct {
	EphemeralPublic [32]byte
}

func EncodeKeyExchangePayload(p KeyExchangePayload) []byte {
	return append([]byte{}, p.EphemeralPublic[:]...)
}

func DecodeKeyExchangePayload(data []byte) (KeyExchangePayload, error) {
	var p KeyExchangePayload
	if len(data) != 32 {
		return p, ErrTruncated
	}
	copy(p.EphemeralPublic[:], data)
	return p, nil
}

// ProfileUpdatePayload carries a peer's updated display name and bio.
type ProfileUpdatePayload struct {
	DisplayName string
	Bio         string
}

func EncodeProfileUpdatePayload(p ProfileUpdatePayload) []byte {
	var buf bytes.Buffer
	writeString(&buf, p.DisplayName)
	writeString(&buf, p.Bio)
	return buf.Bytes()
}

func DecodeProfileUpdatePayload(data []byte) (ProfileUpdatePayload, error) {
	var p ProfileUpdatePayload
	r := bytes.NewReader(data)
	var err error
	if p.DisplayName, err = readString(r); err != nil {
		return p, err
	}
	if p.Bio, err = readString(r); err != nil {
		return p, err
	}
	return p, nil
}

// PeerExchangePayload shares a batch of known peer addresses, used to
// speed up mesh convergence beyond what broadcast discovery alone finds.
type PeerExchangePayload struct {
	Peers []PeerExchangeEntry
}

type PeerExchangeEntry struct {
	NodeID      identity.NodeID
	DisplayName string
	Address     string
}

func EncodePeerExchangePayload(p PeerExchangePayload) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint16(len(p.Peers)))
	for _, e := range p.Peers {
		buf.Write(e.NodeID[:])
		writeString(&buf, e.DisplayName)
		writeString(&buf, e.Address)
	}
	return buf.Bytes()
}

func DecodePeerExchangePayload(data []byte) (PeerExchangePayload, error) {
	var p PeerExchangePayload
	r := bytes.NewReader(data)
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return p, ErrTruncated
	}
	for i := 0; i < int(count); i++ {
		var e PeerExchangeEntry
		if _, err := readFull(r, e.NodeID[:]); err != nil {
			return p, err
		}
		var err error
		if e.DisplayName, err = readString(r); err != nil {
			return p, err
		}
		if e.Address, err = readString(r); err != nil {
			return p, err
		}
		p.Peers = append(p.Peers, e)
	}
	return p, nil
}

// VoicePayload carries a complete voice note or one frame of a live
// VoiceStream. CallStart/CallEnd do not use it; they are sent without a
// VoicePayload.
type VoicePayload struct {
	Data       []byte
	DurationMs uint32
}

func EncodeVoicePayload(p VoicePayload) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, p.DurationMs)
	writeLenPrefixed(&buf, p.Data)
	return buf.Bytes()
}

func DecodeVoicePayload(data []byte) (VoicePayload, error) {
	var p VoicePayload
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &p.DurationMs); err != nil {
		return p, ErrTruncated
	}
	chunk, err := readLenPrefixed(r)
	if err != nil {
		return p, err
	}
	p.Data = chunk
	return p, nil
}

// --- shared primitive helpers -------------------------------------------------

func writeString(buf *bytes.Buffer, s string) {
	writeLenPrefixed(buf, []byte(s))
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readLenPrefixed(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeStringList(buf *bytes.Buffer, ss []string) {
	binary.Write(buf, binary.BigEndian, uint16(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readStringList(r *bytes.Reader) ([]string, error) {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, ErrTruncated
	}
	out := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, ErrTruncated
	}
	return b != 0, nil
}
