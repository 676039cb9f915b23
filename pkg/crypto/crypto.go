// Package crypto implements per-chunk authenticated encryption.
//
// Each chunk is encrypted independently with AES-256-GCM under a key derived
// from the user's opaque secret and a fresh per-chunk salt. The stored frame
// is salt(16) || nonce(12) || tag(16) || ciphertext, a fixed 44 bytes of
// overhead on top of the plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the per-chunk KDF salt length.
	SaltSize = 16

	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	// TagSize is the GCM authentication tag length.
	TagSize = 16

	// Overhead is the total framing overhead added to each chunk.
	Overhead = SaltSize + NonceSize + TagSize

	// KeySize is the derived AES key length (AES-256).
	KeySize = 32

	// KDFIterations is the iteration count for the PBKDF2-SHA256 key
	// derivation. Deliberately expensive; one derivation per chunk.
	KDFIterations = 100_000

	// minFrameSize is the smallest buffer that can possibly be an encrypted
	// frame: full header plus at least one ciphertext byte.
	minFrameSize = Overhead + 1
)

// ErrAuthFail is returned when a chunk fails GCM verification. Callers treat
// this as corruption (or a wrong key).
var ErrAuthFail = errors.New("chunk authentication failed")

// NewUserKey generates a fresh opaque per-user secret.
func NewUserKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate user key: %w", err)
	}
	return key, nil
}

// deriveKey stretches the user secret and salt into an AES-256 key.
func deriveKey(userKey, salt []byte) []byte {
	return pbkdf2.Key(userKey, salt, KDFIterations, KeySize, sha256.New)
}

// Encrypt seals one plaintext chunk under the user's secret. The output is
// the full frame; its length is exactly len(plaintext) + Overhead.
func Encrypt(plaintext, userKey []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(userKey, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	// Seal returns ciphertext || tag; the frame stores the tag before the
	// ciphertext, so split and reorder.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, Overhead+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt opens one chunk frame. Buffers too short to carry a frame header
// are returned untouched: chunks written before encryption was introduced
// have no framing, and this is the safety net that keeps them readable.
func Decrypt(data, userKey []byte) ([]byte, error) {
	if len(data) < minFrameSize {
		return data, nil
	}

	salt := data[:SaltSize]
	nonce := data[SaltSize : SaltSize+NonceSize]
	tag := data[SaltSize+NonceSize : Overhead]
	ct := data[Overhead:]

	block, err := aes.NewCipher(deriveKey(userKey, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFail
	}
	return plaintext, nil
}
