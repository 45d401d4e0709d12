// Package validation checks user-supplied names, paths and addresses.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInvalidName   = errors.New("invalid record name")
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrInvalidAddr   = errors.New("invalid address")
)

// ValidateRecordName accepts any non-blank UTF-8 string without control
// characters.
func ValidateRecordName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control character %U", ErrInvalidName, r)
		}
	}
	return nil
}

// ValidateFilePath rejects empty paths and, if mustExist, paths that cannot
// be stat'd.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %w", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateAddr checks a host:port pair without resolving the host. An empty
// host means all interfaces.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: bad port %q", ErrInvalidAddr, port)
	}
	return nil
}

// ValidateDialAddr is ValidateAddr for an address to connect to, where
// port 0 has no meaning.
func ValidateDialAddr(addr string) error {
	if err := ValidateAddr(addr); err != nil {
		return err
	}
	_, port, _ := net.SplitHostPort(addr)
	if n, _ := strconv.Atoi(port); n == 0 {
		return fmt.Errorf("%w: cannot dial port 0", ErrInvalidAddr)
	}
	return nil
}
