// Package crypto provides the cryptographic primitives for chainxfer transfers.
//
// This package implements:
//   - Content digests (SHA-256 or BLAKE3, hex encoded) for tamper detection
//   - Single-use transfer keys with a fixed-length text form
//   - Self-describing AEAD ciphertexts (AES-256-GCM or XChaCha20-Poly1305)
//   - Secure keystore with Argon2id encryption for the ledger signing key
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the size in bytes of a transfer key.
const KeySize = 32

var keyEncoding = base64.URLEncoding

// EncodedKeySize is the length of a key's text form (44 bytes).
var EncodedKeySize = keyEncoding.EncodedLen(KeySize)

// ErrInvalidKey is returned when a key's text form cannot be decoded.
var ErrInvalidKey = errors.New("invalid transfer key")

// Key is a single-use symmetric transfer key.
// It is created by the sender, travels with the ciphertext and is discarded
// by the receiver once the payload is decrypted.
type Key [KeySize]byte

// GenerateKey returns a fresh random transfer key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("failed to generate transfer key: %w", err)
	}
	return k, nil
}

// Encode returns the URL-safe base64 text form of the key. The base64url
// alphabet never contains '|', so the text form is safe to place in front of
// the wire delimiter.
func (k Key) Encode() []byte {
	out := make([]byte, EncodedKeySize)
	keyEncoding.Encode(out, k[:])
	return out
}

// ParseKey decodes a key from its text form.
func ParseKey(text []byte) (Key, error) {
	if len(text) != EncodedKeySize {
		return Key{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(text), EncodedKeySize)
	}
	buf := make([]byte, keyEncoding.DecodedLen(len(text)))
	n, err := keyEncoding.Decode(buf, text)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if n != KeySize {
		return Key{}, fmt.Errorf("%w: decoded %d bytes", ErrInvalidKey, n)
	}
	var k Key
	copy(k[:], buf[:n])
	return k, nil
}
