package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrUnsupportedHash is returned for an unknown digest algorithm name.
var ErrUnsupportedHash = errors.New("unsupported hash algorithm")

// HashAlgorithm names a content digest function.
type HashAlgorithm string

const (
	// HashSHA256 produces the same digests as `sha256sum`.
	HashSHA256 HashAlgorithm = "sha256"
	HashBLAKE3 HashAlgorithm = "blake3"
)

// ParseHashAlgorithm maps a configuration name to a HashAlgorithm.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch HashAlgorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", HashSHA256:
		return HashSHA256, nil
	case HashBLAKE3:
		return HashBLAKE3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, name)
	}
}

// Hasher computes hex-encoded content digests.
type Hasher struct {
	alg HashAlgorithm
}

// NewHasher returns a Hasher for alg.
func NewHasher(alg HashAlgorithm) (*Hasher, error) {
	switch alg {
	case HashSHA256, HashBLAKE3:
		return &Hasher{alg: alg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHash, alg)
	}
}

// Algorithm returns the digest algorithm.
func (h *Hasher) Algorithm() HashAlgorithm {
	return h.alg
}

// Digest returns the lowercase hex digest of data.
func (h *Hasher) Digest(data []byte) string {
	var sum [32]byte
	switch h.alg {
	case HashBLAKE3:
		sum = blake3.Sum256(data)
	default:
		sum = sha256.Sum256(data)
	}
	return hex.EncodeToString(sum[:])
}

// DigestFile reads the whole file at path and returns its digest.
func (h *Hasher) DigestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return h.Digest(data), nil
}
