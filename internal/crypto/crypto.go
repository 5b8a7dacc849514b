// Package crypto implements the mesh's ephemeral key agreement and
// authenticated symmetric encryption: X25519 for per-pair session key
// derivation, ChaCha20-Poly1305 for sealing frame payloads.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Errors returned by Encrypt and Decrypt. Decrypt failures are
// deliberately uninformative about the cause beyond these three buckets —
// authenticated encryption should not leak why it failed.
var (
	ErrInvalidKeyLength  = errors.New("crypto: invalid key length")
	ErrInvalidCiphertext = errors.New("crypto: ciphertext too short")
	ErrAuthFailure       = errors.New("crypto: authentication failure")
)

const (
	// KeySize is the length in bytes of a derived session key and of the
	// ephemeral secret/public values used in key agreement.
	KeySize = 32
	// NonceSize is the length in bytes of the random nonce prefixed to
	// every ciphertext.
	NonceSize = chacha20poly1305.NonceSize // 12
)

// EphemeralKeyPair holds an X25519 keypair used once per process lifetime
// for session key agreement with every peer.
type EphemeralKeyPair struct {
	Secret [KeySize]byte
	Public [KeySize]byte
}

// GenerateEphemeralKeyPair produces a new X25519 keypair for key agreement.
func GenerateEphemeralKeyPair() (EphemeralKeyPair, error) {
	var kp EphemeralKeyPair
	if _, err := rand.Read(kp.Secret[:]); err != nil {
		return kp, fmt.Errorf("crypto: generate ephemeral secret: %w", err)
	}
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		return kp, fmt.Errorf("crypto: derive ephemeral public: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// DeriveSession mixes mySecret with theirPublic via X25519 and hashes the
// raw agreement output to a 32-byte symmetric key. The derivation is
// symmetric: both sides of a pair compute the same key.
func DeriveSession(mySecret, theirPublic [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	shared, err := curve25519.X25519(mySecret[:], theirPublic[:])
	if err != nil {
		return key, fmt.Errorf("crypto: key agreement: %w", err)
	}
	key = sha256.Sum256(shared)
	return key, nil
}

// Encrypt seals plaintext under key, returning a random 12-byte nonce
// prepended to the ciphertext-with-tag.
func Encrypt(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, ErrInvalidKeyLength
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt splits the nonce prefix from buf and opens the remainder under
// key. It fails (indistinguishably, beyond these three buckets) on short
// input, a malformed key, or tampering of either the nonce or ciphertext.
func Decrypt(key [KeySize]byte, buf []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, ErrInvalidKeyLength
	}

	if len(buf) < NonceSize+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := buf[:NonceSize], buf[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// DeriveBroadcastKey derives a fixed, mesh-wide symmetric key from a shared
// passphrase via HKDF, used to seal PublicBroadcast/SOS payloads that every
// node on the mesh must be able to read without a pairwise session.
func DeriveBroadcastKey(passphrase, salt []byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha256.New, passphrase, salt, []byte("mesh-broadcast-key"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("crypto: derive broadcast key: %w", err)
	}
	return key, nil
}
