package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
)

func openTestBolt(t *testing.T) (*BoltLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger", "records.db")
	l, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

// TestBoltRecordLookup tests that a recorded digest is returned by Lookup.
func TestBoltRecordLookup(t *testing.T) {
	l, _ := openTestBolt(t)
	ctx := context.Background()

	receipt, err := l.Record(ctx, "file.txt", "abc123")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if receipt.Name != "file.txt" || receipt.Digest != "abc123" {
		t.Errorf("Unexpected receipt: %+v", receipt)
	}
	if receipt.TxID == "" {
		t.Error("Receipt has no transaction id")
	}
	if receipt.RecordedAt.IsZero() {
		t.Error("Receipt has no timestamp")
	}

	got, err := l.Lookup(ctx, "file.txt")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != "abc123" {
		t.Errorf("Lookup = %q, want %q", got, "abc123")
	}
}

// TestBoltOverwrite tests that the last write for a name wins.
func TestBoltOverwrite(t *testing.T) {
	l, _ := openTestBolt(t)
	ctx := context.Background()

	first, err := l.Record(ctx, "report.pdf", "d1")
	if err != nil {
		t.Fatalf("first Record failed: %v", err)
	}
	second, err := l.Record(ctx, "report.pdf", "d2")
	if err != nil {
		t.Fatalf("second Record failed: %v", err)
	}
	if first.TxID == second.TxID {
		t.Error("Two writes share a transaction id")
	}

	got, err := l.Lookup(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != "d2" {
		t.Errorf("Lookup = %q, want %q", got, "d2")
	}
}

// TestBoltLookupNotFound tests the error for an unknown name.
func TestBoltLookupNotFound(t *testing.T) {
	l, _ := openTestBolt(t)

	_, err := l.Lookup(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

// TestBoltRejectsInvalidRecord tests that empty names and digests are refused.
func TestBoltRejectsInvalidRecord(t *testing.T) {
	l, _ := openTestBolt(t)
	ctx := context.Background()

	cases := []struct{ name, digest string }{
		{"", "abc"},
		{"  ", "abc"},
		{"file.txt", ""},
	}
	for _, c := range cases {
		if _, err := l.Record(ctx, c.name, c.digest); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("Record(%q, %q): expected ErrInvalidRecord, got %v", c.name, c.digest, err)
		}
	}
}

// TestBoltPersistsAcrossReopen tests that records survive closing the file.
func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	l, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	if _, err := l.Record(ctx, "file.txt", "feedface"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Lookup(ctx, "file.txt")
	if err != nil {
		t.Fatalf("Lookup after reopen failed: %v", err)
	}
	if got != "feedface" {
		t.Errorf("Lookup = %q, want %q", got, "feedface")
	}
}

// TestBoltHonoursContext tests that a cancelled context fails fast.
func TestBoltHonoursContext(t *testing.T) {
	l, _ := openTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Record(ctx, "file.txt", "abc"); !errors.Is(err, context.Canceled) {
		t.Errorf("Record: expected context.Canceled, got %v", err)
	}
	if _, err := l.Lookup(ctx, "file.txt"); !errors.Is(err, context.Canceled) {
		t.Errorf("Lookup: expected context.Canceled, got %v", err)
	}
}

// TestOpenSelectsBackend tests Config validation and backend dispatch.
func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	l, err := Open(ctx, Config{
		Backend: BackendBolt,
		Bolt:    BoltConfig{Path: filepath.Join(t.TempDir(), "l.db")},
	})
	if err != nil {
		t.Fatalf("Open bolt failed: %v", err)
	}
	defer l.Close()
	if _, ok := l.(*BoltLedger); !ok {
		t.Errorf("Open returned %T, want *BoltLedger", l)
	}

	if _, err := Open(ctx, Config{Backend: "sqlite"}); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Expected ErrUnsupportedBackend, got %v", err)
	}
	if _, err := Open(ctx, Config{Backend: BackendBolt}); err == nil {
		t.Error("Expected error for bolt backend without a path")
	}
}

// TestBoltSharedFile tests that two handles on one file, as held by a
// receiver and a sender in separate processes, can both write and read.
func TestBoltSharedFile(t *testing.T) {
	receiver, path := openTestBolt(t)
	ctx := context.Background()

	sender, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("second OpenBolt failed: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Record(ctx, "file.txt", "abc123"); err != nil {
		t.Fatalf("Record while another handle is open failed: %v", err)
	}
	got, err := receiver.Lookup(ctx, "file.txt")
	if err != nil {
		t.Fatalf("Lookup from the other handle failed: %v", err)
	}
	if got != "abc123" {
		t.Errorf("Lookup = %q, want %q", got, "abc123")
	}

	if _, err := receiver.Record(ctx, "file.txt", "def456"); err != nil {
		t.Fatalf("Record from the first handle failed: %v", err)
	}
	if got, _ := sender.Lookup(ctx, "file.txt"); got != "def456" {
		t.Errorf("Lookup = %q, want %q", got, "def456")
	}
}

// TestBoltWaitsForLock tests that a write waits out a short transaction
// held elsewhere and gives up with ErrUnavailable when the context ends.
func TestBoltWaitsForLock(t *testing.T) {
	l, path := openTestBolt(t)

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("bolt.Open failed: %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Record(short, "file.txt", "abc"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable while locked, got %v", err)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		db.Close()
	}()
	if _, err := l.Record(context.Background(), "file.txt", "abc"); err != nil {
		t.Fatalf("Record after the lock was released failed: %v", err)
	}
}

// TestBoltClosed tests that a closed ledger refuses further operations.
func TestBoltClosed(t *testing.T) {
	l, _ := openTestBolt(t)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := l.Record(context.Background(), "file.txt", "abc"); err == nil {
		t.Error("Expected Record on a closed ledger to fail")
	}
	if _, err := l.Lookup(context.Background(), "file.txt"); err == nil {
		t.Error("Expected Lookup on a closed ledger to fail")
	}
}
