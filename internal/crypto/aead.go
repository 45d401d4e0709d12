package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidKeySize is returned when the provided key is not 32 bytes
	ErrInvalidKeySize = errors.New("key must be exactly 32 bytes for AES-256")

	// ErrInvalidNonceSize is returned when the provided nonce is not 12 bytes
	ErrInvalidNonceSize = errors.New("nonce must be exactly 12 bytes for GCM")

	// ErrAuthenticationFailed is returned when AEAD tag verification fails
	ErrAuthenticationFailed = errors.New("authentication failed: ciphertext has been tampered with")

	// ErrUnsupportedSuite is returned for an unknown cipher suite name
	ErrUnsupportedSuite = errors.New("unsupported cipher suite")
)

// Suite identifies the AEAD construction used for a transfer ciphertext.
// Its value is written as the first ciphertext byte.
type Suite byte

const (
	SuiteAES256GCM         Suite = 0x01
	SuiteXChaCha20Poly1305 Suite = 0x02
)

func (s Suite) String() string {
	switch s {
	case SuiteAES256GCM:
		return "aes-256-gcm"
	case SuiteXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return fmt.Sprintf("suite(0x%02x)", byte(s))
	}
}

// ParseSuite maps a configuration name to a Suite.
func ParseSuite(name string) (Suite, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "aes-256-gcm", "aes256gcm":
		return SuiteAES256GCM, nil
	case "xchacha20-poly1305", "xchacha20poly1305":
		return SuiteXChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSuite, name)
	}
}

func newAEAD(s Suite, key []byte) (cipher.AEAD, error) {
	switch s {
	case SuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case SuiteXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSuite, s)
	}
}

// Cipher encrypts transfer payloads under a single-use Key.
//
// Ciphertext layout:
//
//	suite (1 byte) || nonce || sealed plaintext || tag
//
// The suite byte is authenticated as AAD, so Decrypt only needs the key and
// the ciphertext.
type Cipher struct {
	suite Suite
}

// NewCipher returns a Cipher that encrypts with the given suite.
func NewCipher(s Suite) (*Cipher, error) {
	if _, err := newAEAD(s, make([]byte, KeySize)); err != nil {
		return nil, err
	}
	return &Cipher{suite: s}, nil
}

// Suite returns the suite used by Encrypt.
func (c *Cipher) Suite() Suite {
	return c.suite
}

// SealedSize returns the length of Encrypt's output for n plaintext bytes.
func (c *Cipher) SealedSize(n int) int {
	aead, _ := newAEAD(c.suite, make([]byte, KeySize)) // suite checked by NewCipher
	return 1 + aead.NonceSize() + n + aead.Overhead()
}

// Encrypt seals plaintext under key with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte, key Key) ([]byte, error) {
	aead, err := newAEAD(c.suite, key[:])
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	header[0] = byte(c.suite)
	if _, err := rand.Read(header[1:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(header, header[1:], plaintext, header[:1]), nil
}

// Decrypt verifies and opens a ciphertext produced by Encrypt.
// Any failure (wrong key, tampering, truncation, unknown suite) is reported as
// ErrAuthenticationFailed and no plaintext is returned.
func (c *Cipher) Decrypt(ciphertext []byte, key Key) ([]byte, error) {
	if len(ciphertext) < 1 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrAuthenticationFailed)
	}

	s := Suite(ciphertext[0])
	aead, err := newAEAD(s, key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	nonceEnd := 1 + aead.NonceSize()
	if len(ciphertext) < nonceEnd+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrAuthenticationFailed, len(ciphertext))
	}

	plaintext, err := aead.Open(nil, ciphertext[1:nonceEnd], ciphertext[nonceEnd:], ciphertext[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// Seal encrypts and authenticates plaintext using AES-256-GCM with a caller
// supplied nonce.
//
// Security Warning:
//   - NEVER reuse the same nonce with the same key
func Seal(key []byte, nonce []byte, aad []byte, plaintext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	if len(nonce) != 12 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}

	gcm, err := newAEAD(SuiteAES256GCM, key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and verifies ciphertext produced by Seal.
// It never returns partial plaintext when verification fails.
func Open(key []byte, nonce []byte, aad []byte, ciphertext []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	if len(nonce) != 12 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}
	if len(ciphertext) < 16 {
		return nil, errors.New("ciphertext too short (must be at least 16 bytes for tag)")
	}

	gcm, err := newAEAD(SuiteAES256GCM, key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}
