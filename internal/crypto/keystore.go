package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (recommended values for interactive use)
	argon2Time      = 3     // Number of iterations
	argon2Memory    = 65536 // Memory in KiB (64 MiB)
	argon2Threads   = 4     // Parallelism factor
	argon2KeyLen    = 32    // Output key length (AES-256)
	saltSize        = 32    // Salt size in bytes
	keystoreVersion = 1     // Keystore format version

	// SigningKeySize is the size of a raw secp256k1 ledger signing key.
	SigningKeySize = 32

	insecureSuffix = ".insecure"
)

var (
	// ErrInvalidPassphrase is returned when the passphrase fails to decrypt the keystore
	ErrInvalidPassphrase = errors.New("invalid passphrase or corrupted keystore")
)

// KeystoreEntry represents an encrypted ledger signing key stored on disk.
type KeystoreEntry struct {
	Version       int    `json:"version"`        // Format version (currently 1)
	KDF           string `json:"kdf"`            // Key derivation function ("argon2id")
	Argon2Time    int    `json:"argon2_time"`    // Argon2 time parameter
	Argon2Memory  int    `json:"argon2_memory"`  // Argon2 memory in KiB
	Argon2Threads int    `json:"argon2_threads"` // Argon2 parallelism
	Salt          []byte `json:"salt"`           // Random salt for KDF
	Nonce         []byte `json:"nonce"`          // Random nonce for AES-GCM
	Ciphertext    []byte `json:"ciphertext"`     // Encrypted private key + auth tag
}

// SaveKey encrypts and saves a ledger signing key to disk.
//
// If passphrase is empty, the key is stored unencrypted at keystorePath with
// an ".insecure" suffix (testing only). The returned path is the file that
// was written.
func SaveKey(privateKey []byte, keystorePath string, passphrase string) (string, error) {
	if len(privateKey) != SigningKeySize {
		return "", fmt.Errorf("signing key must be %d bytes, got %d", SigningKeySize, len(privateKey))
	}

	if err := os.MkdirAll(filepath.Dir(keystorePath), 0700); err != nil {
		return "", fmt.Errorf("failed to create keystore directory: %w", err)
	}

	var data []byte
	if passphrase == "" {
		data = privateKey
		if filepath.Ext(keystorePath) != insecureSuffix {
			keystorePath += insecureSuffix
		}
	} else {
		entry, err := encryptKey(privateKey, passphrase)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt key: %w", err)
		}
		data, err = json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal keystore entry: %w", err)
		}
	}

	// Owner read/write only
	if err := os.WriteFile(keystorePath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write keystore file: %w", err)
	}
	return keystorePath, nil
}

// LoadKey loads and decrypts a ledger signing key from disk.
// Files ending in ".insecure" are read without decryption.
func LoadKey(keystorePath string, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	if IsInsecureKeystore(keystorePath) {
		if len(data) != SigningKeySize {
			return nil, fmt.Errorf("invalid unencrypted keystore: expected %d bytes", SigningKeySize)
		}
		return data, nil
	}

	var entry KeystoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}

	privateKey, err := decryptKey(&entry, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	return privateKey, nil
}

// IsInsecureKeystore reports whether path names an unencrypted keystore.
func IsInsecureKeystore(path string) bool {
	return filepath.Ext(path) == insecureSuffix
}

func encryptKey(privateKey []byte, passphrase string) (*KeystoreEntry, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	derivedKey := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext, err := Seal(derivedKey, nonce, nil, privateKey)
	if err != nil {
		return nil, err
	}

	return &KeystoreEntry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

func decryptKey(entry *KeystoreEntry, passphrase string) ([]byte, error) {
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", entry.Version)
	}
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}

	derivedKey := argon2.IDKey(
		[]byte(passphrase),
		entry.Salt,
		uint32(entry.Argon2Time),
		uint32(entry.Argon2Memory),
		uint8(entry.Argon2Threads),
		argon2KeyLen,
	)

	plaintext, err := Open(derivedKey, entry.Nonce, nil, entry.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(plaintext) != SigningKeySize {
		return nil, errors.New("decrypted key has invalid size")
	}
	return plaintext, nil
}

// DefaultKeystorePath returns the default signing key location.
// On Windows: %APPDATA%\chainxfer\keys\ledger.key
// On Unix: $XDG_DATA_HOME/chainxfer/keys/ledger.key or ~/.local/share/chainxfer/keys/ledger.key
func DefaultKeystorePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "chainxfer", "keys", "ledger.key")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "chainxfer", "keys", "ledger.key")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "chainxfer", "keys", "ledger.key")
}
