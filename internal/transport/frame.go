package transport

import (
	"bytes"
	"errors"
	"fmt"
)

// Delimiter separates the encoded key from the ciphertext on the wire.
var Delimiter = []byte("||")

// ErrMalformedPayload is returned when a payload cannot be split into key and ciphertext.
var ErrMalformedPayload = errors.New("malformed payload")

// FramedSize returns the length of Frame's output.
func FramedSize(keyLen, ciphertextLen int) int {
	return keyLen + len(Delimiter) + ciphertextLen
}

// Frame builds key || Delimiter || ciphertext.
func Frame(key, ciphertext []byte) []byte {
	out := make([]byte, 0, FramedSize(len(key), len(ciphertext)))
	out = append(out, key...)
	out = append(out, Delimiter...)
	return append(out, ciphertext...)
}

// Split separates a payload on the first Delimiter. The ciphertext may itself
// contain the delimiter; the key never does.
func Split(payload []byte) (key, ciphertext []byte, err error) {
	i := bytes.Index(payload, Delimiter)
	switch {
	case i < 0:
		return nil, nil, fmt.Errorf("%w: no delimiter in %d bytes", ErrMalformedPayload, len(payload))
	case i == 0:
		return nil, nil, fmt.Errorf("%w: empty key", ErrMalformedPayload)
	}
	return payload[:i], payload[i+len(Delimiter):], nil
}
