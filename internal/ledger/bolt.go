package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
)

var bucketRecords = []byte("records")

// boltLockTimeout bounds the wait for another process's transaction.
const boltLockTimeout = 5 * time.Second

var errBoltClosed = errors.New("ledger: bolt ledger closed")

// boltEntry is the stored value for one name.
type boltEntry struct {
	Digest     string    `json:"digest"`
	TxID       string    `json:"tx_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// BoltLedger is a single-file local ledger. Each Record is one fsync'd
// transaction; the last write for a name wins.
//
// The file is opened for each operation and closed right after, so the
// bolt file lock is only held for the length of one transaction. A sender
// and a receiver in different processes can share one ledger file.
type BoltLedger struct {
	path   string
	closed atomic.Bool
}

// OpenBolt creates the ledger file at path if needed and checks that it
// can be opened.
func OpenBolt(path string) (*BoltLedger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: create ledger directory: %v", ErrUnavailable, err)
	}
	b := &BoltLedger{path: path}
	err := b.with(context.Background(), false, func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			_, e := tx.CreateBucketIfNotExists(bucketRecords)
			return e
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// with opens the database, runs fn and closes it again. Read-only opens
// take a shared lock.
func (b *BoltLedger) with(ctx context.Context, readOnly bool, fn func(db *bolt.DB) error) error {
	if b.closed.Load() {
		return errBoltClosed
	}
	timeout := boltLockTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	db, err := bolt.Open(b.path, 0600, &bolt.Options{Timeout: timeout, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, b.path, err)
	}
	defer db.Close()
	return fn(db)
}

// Record stores digest under name.
func (b *BoltLedger) Record(ctx context.Context, name, digest string) (*Receipt, error) {
	if err := validateRecord(name, digest); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := boltEntry{
		Digest:     digest,
		TxID:       uuid.New().String(),
		RecordedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger entry: %w", err)
	}

	err = b.with(ctx, false, func(db *bolt.DB) error {
		err := db.Update(func(tx *bolt.Tx) error {
			bk, err := tx.CreateBucketIfNotExists(bucketRecords)
			if err != nil {
				return err
			}
			return bk.Put([]byte(name), value)
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Name:       name,
		Digest:     digest,
		TxID:       entry.TxID,
		RecordedAt: entry.RecordedAt,
	}, nil
}

// Lookup returns the digest last recorded under name.
func (b *BoltLedger) Lookup(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		entry boltEntry
		found bool
	)
	err := b.with(ctx, true, func(db *bolt.DB) error {
		err := db.View(func(tx *bolt.Tx) error {
			bk := tx.Bucket(bucketRecords)
			if bk == nil {
				return nil
			}
			v := bk.Get([]byte(name))
			if v == nil {
				return nil
			}
			found = true
			return json.Unmarshal(v, &entry)
		})
		if err != nil {
			return fmt.Errorf("%w: lookup %q: %v", ErrUnavailable, name, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return entry.Digest, nil
}

// Close marks the ledger closed. The file itself is only open during an
// operation.
func (b *BoltLedger) Close() error {
	b.closed.Store(true)
	return nil
}
