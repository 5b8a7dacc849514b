// Package filetransfer implements chunked file send/receive state
// machines. The ordered-chunk processing and integrity-before-commit
// shape is grounded on the teacher's internal/tosser import/export
// pipeline, which likewise splits a byte stream into ordered units and
// validates them fully before anything is written to disk.
package filetransfer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/meshnet/node/internal/identity"
)

// ChunkSize is the fixed size of every chunk except possibly the last.
const ChunkSize = 64 * 1024

// MaxFileSize rejects any file larger than this from prepare_send.
const MaxFileSize = 100 * 1024 * 1024

var (
	ErrFileTooLarge = errors.New("filetransfer: file exceeds maximum size")
	ErrNotAccepted  = errors.New("filetransfer: transfer not yet accepted")
	ErrUnknownFile  = errors.New("filetransfer: unknown file id")
	ErrMissingChunk = errors.New("filetransfer: missing chunk in sequence")
	ErrHashMismatch = errors.New("filetransfer: content hash mismatch")
)

// FileID uniquely identifies one transfer.
type FileID [16]byte

// NewFileID draws a fresh random file id.
func NewFileID() FileID {
	return FileID(uuid.New())
}

func (id FileID) String() string {
	return uuid.UUID(id).String()
}

// Metadata describes a file transfer as advertised in a FileOffer.
type Metadata struct {
	FileID      FileID
	Filename    string
	TotalBytes  uint64
	ChunkCount  uint32
	ContentHash [32]byte
}

type outgoing struct {
	meta     Metadata
	chunks   [][]byte
	accepted bool
	cursor   uint32
}

type incoming struct {
	meta     Metadata
	sender   identity.NodeID
	accepted bool
	chunks   map[uint32][]byte
}

// Manager tracks every in-flight outgoing and incoming transfer.
type Manager struct {
	saveDir string

	mu       sync.Mutex
	outgoing map[FileID]*outgoing
	incoming map[FileID]*incoming
}

// New creates a Manager that writes completed incoming files under
// saveDir.
func New(saveDir string) *Manager {
	return &Manager{
		saveDir:  saveDir,
		outgoing: make(map[FileID]*outgoing),
		incoming: make(map[FileID]*incoming),
	}
}

// PrepareSend reads the whole file at path, rejects it if it exceeds
// MaxFileSize, splits it into ordered 64 KiB chunks (an empty file
// produces exactly one zero-length chunk), and registers an outgoing
// record awaiting acceptance.
func (m *Manager) PrepareSend(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("filetransfer: read %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return Metadata{}, ErrFileTooLarge
	}

	chunks := splitChunks(data)
	hash := sha256.Sum256(data)

	meta := Metadata{
		FileID:      NewFileID(),
		Filename:    filepath.Base(path),
		TotalBytes:  uint64(len(data)),
		ChunkCount:  uint32(len(chunks)),
		ContentHash: hash,
	}

	m.mu.Lock()
	m.outgoing[meta.FileID] = &outgoing{meta: meta, chunks: chunks}
	m.mu.Unlock()

	return meta, nil
}

func splitChunks(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for offset := 0; offset < len(data); offset += ChunkSize {
		end := offset + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

// MarkAccepted unlocks chunk dispatch for fileID after a FileAccept
// arrives.
func (m *Manager) MarkAccepted(fileID FileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outgoing[fileID]
	if !ok {
		return ErrUnknownFile
	}
	out.accepted = true
	return nil
}

// NextChunk returns the next chunk payload for fileID and advances the
// cursor, or ok=false when the transfer isn't accepted yet or the
// cursor has passed the last chunk.
func (m *Manager) NextChunk(fileID FileID) (sequence uint32, data []byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, exists := m.outgoing[fileID]
	if !exists || !out.accepted || out.cursor >= uint32(len(out.chunks)) {
		return 0, nil, false
	}

	sequence = out.cursor
	data = out.chunks[out.cursor]
	out.cursor++
	if out.cursor >= uint32(len(out.chunks)) {
		delete(m.outgoing, fileID)
	}
	return sequence, data, true
}

// RegisterIncoming installs a pending incoming record for a FileOffer
// received from sender.
func (m *Manager) RegisterIncoming(meta Metadata, sender identity.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incoming[meta.FileID] = &incoming{
		meta:   meta,
		sender: sender,
		chunks: make(map[uint32][]byte),
	}
}

// AcceptIncoming marks fileID as accepted and returns the original
// sender so the caller can emit a FileAccept back to them.
func (m *Manager) AcceptIncoming(fileID FileID) (identity.NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.incoming[fileID]
	if !ok {
		return identity.NodeID{}, ErrUnknownFile
	}
	in.accepted = true
	return in.sender, nil
}

// ReceiveChunk stores an inbound chunk and returns the percent complete
// so far, or ok=false if the transfer is unknown or not yet accepted.
func (m *Manager) ReceiveChunk(fileID FileID, sequence uint32, data []byte) (percent float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, exists := m.incoming[fileID]
	if !exists || !in.accepted {
		return 0, false
	}

	in.chunks[sequence] = data

	if in.meta.ChunkCount == 0 {
		return 100, true
	}
	percent = 100 * float64(len(in.chunks)) / float64(in.meta.ChunkCount)
	return percent, true
}

// IsIncomingComplete reports whether every expected chunk has arrived.
func (m *Manager) IsIncomingComplete(fileID FileID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.incoming[fileID]
	if !ok {
		return false
	}
	return uint32(len(in.chunks)) >= in.meta.ChunkCount
}

// FinalizeIncoming reassembles the chunk map in sequence order,
// verifies the recomputed content hash against the advertised one, and
// writes the file under the manager's save directory.
func (m *Manager) FinalizeIncoming(fileID FileID) (string, error) {
	m.mu.Lock()
	in, ok := m.incoming[fileID]
	m.mu.Unlock()
	if !ok {
		return "", ErrUnknownFile
	}

	discard := func() {
		m.mu.Lock()
		delete(m.incoming, fileID)
		m.mu.Unlock()
	}

	buf := make([]byte, 0, in.meta.TotalBytes)
	for seq := uint32(0); seq < in.meta.ChunkCount; seq++ {
		chunk, present := in.chunks[seq]
		if !present {
			discard()
			return "", ErrMissingChunk
		}
		buf = append(buf, chunk...)
	}

	if sha256.Sum256(buf) != in.meta.ContentHash {
		discard()
		return "", ErrHashMismatch
	}

	if err := os.MkdirAll(m.saveDir, 0755); err != nil {
		return "", fmt.Errorf("filetransfer: create save dir: %w", err)
	}

	outPath := filepath.Join(m.saveDir, in.meta.Filename)
	if err := os.WriteFile(outPath, buf, 0644); err != nil {
		return "", fmt.Errorf("filetransfer: write %s: %w", outPath, err)
	}

	discard()
	return outPath, nil
}
