// Package ledger records and looks up expected file digests on an external,
// append-only store: an Ethereum FileRegistry contract or a local BoltDB file.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Lookup when no digest was recorded for a name.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrInvalidRecord is returned for an empty name or digest.
	ErrInvalidRecord = errors.New("ledger: invalid record")

	// ErrUnavailable is returned when the ledger cannot be reached.
	ErrUnavailable = errors.New("ledger: unavailable")

	// ErrRejected is returned when the ledger refuses or reverts a write.
	ErrRejected = errors.New("ledger: write rejected")

	// ErrReadOnly is returned by Record on a ledger opened without a signing key.
	ErrReadOnly = errors.New("ledger: opened read-only")

	// ErrUnsupportedBackend is returned by Open for an unknown backend.
	ErrUnsupportedBackend = errors.New("ledger: unsupported backend")
)

// Receipt confirms a durable write.
type Receipt struct {
	Name       string
	Digest     string
	TxID       string
	Block      uint64
	RecordedAt time.Time
}

// Ledger stores (name, digest) pairs.
//
// Record must not return until the write is durable. Lookup returns
// ErrNotFound for a name that was never recorded.
type Ledger interface {
	Record(ctx context.Context, name, digest string) (*Receipt, error)
	Lookup(ctx context.Context, name string) (string, error)
	Close() error
}

// Backend names a Ledger implementation.
type Backend string

const (
	BackendBolt     Backend = "bolt"
	BackendEthereum Backend = "ethereum"
)

// Config selects and configures a backend.
type Config struct {
	Backend  Backend
	Bolt     BoltConfig
	Ethereum EthereumConfig
}

// BoltConfig configures the local ledger.
type BoltConfig struct {
	Path string
}

// Validate checks the configuration of the selected backend.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendBolt:
		if c.Bolt.Path == "" {
			return errors.New("ledger: bolt path is required")
		}
		return nil
	case BackendEthereum:
		return c.Ethereum.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, c.Backend)
	}
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendEthereum:
		return DialEthereum(ctx, cfg.Ethereum)
	default:
		return OpenBolt(cfg.Bolt.Path)
	}
}

func validateRecord(name, digest string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRecord)
	}
	if strings.TrimSpace(digest) == "" {
		return fmt.Errorf("%w: empty digest for %q", ErrInvalidRecord, name)
	}
	return nil
}
