package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestGenerateKey tests that fresh keys are random and distinct
func TestGenerateKey(t *testing.T) {
	seen := make(map[Key]bool)
	for i := 0; i < 100; i++ {
		k, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() failed: %v", err)
		}
		if k == (Key{}) {
			t.Fatal("GenerateKey() returned an all-zero key")
		}
		if seen[k] {
			t.Fatalf("GenerateKey() repeated a key after %d calls", i)
		}
		seen[k] = true
	}
}

// TestKeyEncodeRoundtrip tests the fixed-length text form of a key
func TestKeyEncodeRoundtrip(t *testing.T) {
	for i := 0; i < 1000; i++ {
		k, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey() failed: %v", err)
		}

		text := k.Encode()
		if len(text) != EncodedKeySize {
			t.Fatalf("Encoded length = %d, want %d", len(text), EncodedKeySize)
		}
		if bytes.IndexByte(text, '|') >= 0 {
			t.Fatalf("Encoded key %q contains the wire delimiter", text)
		}

		parsed, err := ParseKey(text)
		if err != nil {
			t.Fatalf("ParseKey() failed: %v", err)
		}
		if parsed != k {
			t.Fatal("Parsed key does not match original")
		}
	}
}

// TestParseKeyRejectsMalformed tests key parsing errors
func TestParseKeyRejectsMalformed(t *testing.T) {
	k, _ := GenerateKey()
	valid := k.Encode()

	bad := append([]byte(nil), valid...)
	bad[3] = '*'

	cases := map[string][]byte{
		"empty":     nil,
		"short":     valid[:EncodedKeySize-1],
		"long":      append(append([]byte(nil), valid...), 'A'),
		"bad chars": bad,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseKey(text); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ParseKey() error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

// TestCipherRoundtrip tests decrypt(encrypt(b, k), k) == b for every suite
func TestCipherRoundtrip(t *testing.T) {
	large := make([]byte, 1<<20)
	rand.Read(large)

	inputs := map[string][]byte{
		"empty": {},
		"small": []byte("Hello from chainxfer!"),
		"delim": []byte("a||b||c"),
		"large": large,
	}

	for _, suite := range []Suite{SuiteAES256GCM, SuiteXChaCha20Poly1305} {
		c, err := NewCipher(suite)
		if err != nil {
			t.Fatalf("NewCipher(%s) failed: %v", suite, err)
		}
		for name, plaintext := range inputs {
			t.Run(suite.String()+"/"+name, func(t *testing.T) {
				key, _ := GenerateKey()
				ciphertext, err := c.Encrypt(plaintext, key)
				if err != nil {
					t.Fatalf("Encrypt() failed: %v", err)
				}
				if len(ciphertext) != c.SealedSize(len(plaintext)) {
					t.Errorf("len(ciphertext) = %d, SealedSize = %d", len(ciphertext), c.SealedSize(len(plaintext)))
				}
				if c.Suite() != suite {
					t.Errorf("Suite() = %s, want %s", c.Suite(), suite)
				}
				if Suite(ciphertext[0]) != suite {
					t.Errorf("Suite byte = 0x%02x, want 0x%02x", ciphertext[0], byte(suite))
				}

				decrypted, err := c.Decrypt(ciphertext, key)
				if err != nil {
					t.Fatalf("Decrypt() failed: %v", err)
				}
				if !bytes.Equal(decrypted, plaintext) {
					t.Error("Decrypted plaintext does not match original")
				}
			})
		}
	}
}

// TestCipherDecryptsOtherSuite tests that the suite byte drives decryption
func TestCipherDecryptsOtherSuite(t *testing.T) {
	enc, _ := NewCipher(SuiteXChaCha20Poly1305)
	dec, _ := NewCipher(SuiteAES256GCM)
	key, _ := GenerateKey()

	ciphertext, err := enc.Encrypt([]byte("payload"), key)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	plaintext, err := dec.Decrypt(ciphertext, key)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}
	if string(plaintext) != "payload" {
		t.Errorf("Decrypt() = %q, want %q", plaintext, "payload")
	}
}

// TestCipherWrongKey tests that decrypting with another key fails loudly
func TestCipherWrongKey(t *testing.T) {
	c, _ := NewCipher(SuiteAES256GCM)
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()

	ciphertext, err := c.Encrypt([]byte("Secret message"), k1)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	plaintext, err := c.Decrypt(ciphertext, k2)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("Decrypt() error = %v, want ErrAuthenticationFailed", err)
	}
	if plaintext != nil {
		t.Error("Decrypt() returned plaintext on failure")
	}
}

// TestCipherTamperDetection tests that any flipped bit is rejected
func TestCipherTamperDetection(t *testing.T) {
	for _, suite := range []Suite{SuiteAES256GCM, SuiteXChaCha20Poly1305} {
		c, _ := NewCipher(suite)
		key, _ := GenerateKey()
		ciphertext, err := c.Encrypt([]byte("integrity matters"), key)
		if err != nil {
			t.Fatalf("Encrypt() failed: %v", err)
		}

		for i := range ciphertext {
			tampered := append([]byte(nil), ciphertext...)
			tampered[i] ^= 0x01
			if _, err := c.Decrypt(tampered, key); !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("%s: Decrypt() with byte %d flipped: error = %v, want ErrAuthenticationFailed", suite, i, err)
			}
		}

		for _, n := range []int{0, 1, 10, len(ciphertext) - 1} {
			if _, err := c.Decrypt(ciphertext[:n], key); !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("%s: Decrypt() of %d-byte prefix: error = %v, want ErrAuthenticationFailed", suite, n, err)
			}
		}
	}
}

// TestParseSuite tests cipher suite name parsing
func TestParseSuite(t *testing.T) {
	cases := []struct {
		name string
		want Suite
		ok   bool
	}{
		{"", SuiteAES256GCM, true},
		{"aes-256-gcm", SuiteAES256GCM, true},
		{"XChaCha20-Poly1305", SuiteXChaCha20Poly1305, true},
		{"rot13", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseSuite(tc.name)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseSuite(%q) = %v, %v; want %v", tc.name, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrUnsupportedSuite) {
			t.Errorf("ParseSuite(%q) error = %v, want ErrUnsupportedSuite", tc.name, err)
		}
	}
}

// TestSealAndOpen tests the explicit-nonce AES-GCM helpers
func TestSealAndOpen(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	rand.Read(key)
	rand.Read(nonce)

	plaintext := []byte("keystore contents")
	aad := []byte("ledger")

	ciphertext, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if len(ciphertext) != len(plaintext)+16 {
		t.Errorf("Ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+16)
	}

	decrypted, err := Open(key, nonce, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("Decrypted plaintext does not match original")
	}

	if _, err := Open(key, nonce, []byte("other"), ciphertext); err == nil {
		t.Error("Open() should fail with mismatched AAD")
	}
}

// TestInvalidKeySize tests that wrong key sizes are rejected
func TestInvalidKeySize(t *testing.T) {
	nonce := make([]byte, 12)
	for _, size := range []int{16, 24, 31, 33, 64} {
		key := make([]byte, size)
		if _, err := Seal(key, nonce, nil, []byte("test")); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("Seal() with %d-byte key: error = %v, want ErrInvalidKeySize", size, err)
		}
	}
}

// TestSaveLoadKeyWithPassphrase tests keystore encryption roundtrip
func TestSaveLoadKeyWithPassphrase(t *testing.T) {
	privateKey := make([]byte, SigningKeySize)
	rand.Read(privateKey)

	keystorePath := filepath.Join(t.TempDir(), "keys", "ledger.key")
	passphrase := "test-passphrase-123"

	written, err := SaveKey(privateKey, keystorePath, passphrase)
	if err != nil {
		t.Fatalf("SaveKey() failed: %v", err)
	}
	if written != keystorePath {
		t.Errorf("SaveKey() wrote %s, want %s", written, keystorePath)
	}

	loadedKey, err := LoadKey(keystorePath, passphrase)
	if err != nil {
		t.Fatalf("LoadKey() failed: %v", err)
	}
	if !bytes.Equal(loadedKey, privateKey) {
		t.Error("Loaded key does not match original")
	}

	if _, err := LoadKey(keystorePath, "wrong-passphrase"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("LoadKey() with wrong passphrase: error = %v, want ErrInvalidPassphrase", err)
	}
}

// TestSaveLoadKeyWithoutPassphrase tests insecure keystore
func TestSaveLoadKeyWithoutPassphrase(t *testing.T) {
	privateKey := make([]byte, SigningKeySize)
	rand.Read(privateKey)

	keystorePath := filepath.Join(t.TempDir(), "ledger.key")

	written, err := SaveKey(privateKey, keystorePath, "")
	if err != nil {
		t.Fatalf("SaveKey() failed: %v", err)
	}

	insecurePath := keystorePath + ".insecure"
	if written != insecurePath {
		t.Errorf("SaveKey() wrote %s, want %s", written, insecurePath)
	}
	if _, err := os.Stat(insecurePath); os.IsNotExist(err) {
		t.Fatal("Insecure keystore file was not created")
	}

	loadedKey, err := LoadKey(insecurePath, "")
	if err != nil {
		t.Fatalf("LoadKey() failed: %v", err)
	}
	if !bytes.Equal(loadedKey, privateKey) {
		t.Error("Loaded key does not match original")
	}
}

// TestSaveKeyRejectsWrongSize tests signing key size validation
func TestSaveKeyRejectsWrongSize(t *testing.T) {
	if _, err := SaveKey(make([]byte, 64), filepath.Join(t.TempDir(), "k"), ""); err == nil {
		t.Error("SaveKey() should reject a 64-byte key")
	}
}
