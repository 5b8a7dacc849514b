// Package identity manages the node's long-lived Ed25519 signing keypair:
// generation, disk persistence, signing, verification, and secure deletion.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
)

// NodeID is a 32-byte Ed25519 public key, globally unique by construction.
type NodeID [32]byte

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns the first 4 bytes of the id, hex-encoded, for use as a
// display fallback when no human name is known for a peer.
func (id NodeID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Identity is a node's persistent cryptographic identity.
type Identity struct {
	NodeID      NodeID
	DisplayName string

	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// secretFileSize is the exact on-disk size of a persisted identity: the
// 32-byte Ed25519 seed. Anything else at the path is a fatal mismatch.
const secretFileSize = ed25519.SeedSize // 32

// Generate produces a fresh signing keypair, not yet persisted.
func Generate(displayName string) (*Identity, error) {
	seed := make([]byte, secretFileSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: generate seed: %w", err)
	}
	return fromSeed(seed, displayName), nil
}

func fromSeed(seed []byte, displayName string) *Identity {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	var id NodeID
	copy(id[:], pub)
	return &Identity{
		NodeID:      id,
		DisplayName: displayName,
		public:      pub,
		private:     priv,
	}
}

// LoadOrCreate loads the identity seed at path if present, else generates and
// persists a new one. A file that exists but is not exactly secretFileSize
// bytes is treated as corrupt and returns an error rather than silently
// overwriting it.
func LoadOrCreate(path, displayName string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != secretFileSize {
			return nil, fmt.Errorf("identity: file %s has %d bytes, want %d", path, len(data), secretFileSize)
		}
		return fromSeed(data, displayName), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	id, genErr := Generate(displayName)
	if genErr != nil {
		return nil, genErr
	}
	if err := id.persist(path); err != nil {
		return nil, err
	}
	return id, nil
}

// persist writes the 32-byte seed to path with owner-only permissions,
// matching the convention this codebase uses for every secret-bearing file.
func (id *Identity) persist(path string) error {
	seed := id.private.Seed()
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify reports whether sig is a valid signature over msg under pub.
func Verify(pub NodeID, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// SafetyNumber computes a deterministic, order-independent short string over
// a pair of NodeIDs, suitable for out-of-band verification by end users.
func SafetyNumber(a, b NodeID) string {
	pair := [][]byte{a[:], b[:]}
	sort.Slice(pair, func(i, j int) bool {
		for k := range pair[i] {
			if pair[i][k] != pair[j][k] {
				return pair[i][k] < pair[j][k]
			}
		}
		return false
	})

	h := sha256.Sum256(append(append([]byte{}, pair[0]...), pair[1]...))
	digits := hex.EncodeToString(h[:])

	out := make([]byte, 0, len(digits)+len(digits)/5)
	for i, c := range digits {
		if i > 0 && i%5 == 0 {
			out = append(out, ' ')
		}
		out = append(out, byte(c))
	}
	return string(out)
}

// SecureDelete overwrites the identity file with zero bytes before removing
// it, used only by the explicit Nuke command.
func SecureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("identity: stat %s: %w", path, err)
	}

	zeros := make([]byte, info.Size())
	if err := os.WriteFile(path, zeros, 0600); err != nil {
		return fmt.Errorf("identity: overwrite %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("identity: remove %s: %w", path, err)
	}
	return nil
}
