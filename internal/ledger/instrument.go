package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/quantarax/chainxfer/internal/observability"
)

const probeName = "chainxfer.health.probe"

type instrumented struct {
	next    Ledger
	metrics *observability.Metrics
}

// Instrument wraps l so every call is counted and timed in m.
func Instrument(l Ledger, m *observability.Metrics) Ledger {
	if m == nil {
		return l
	}
	return &instrumented{next: l, metrics: m}
}

func (i *instrumented) Record(ctx context.Context, name, digest string) (*Receipt, error) {
	start := time.Now()
	r, err := i.next.Record(ctx, name, digest)
	i.metrics.RecordLedgerOperation("record", err == nil, time.Since(start).Seconds())
	return r, err
}

func (i *instrumented) Lookup(ctx context.Context, name string) (string, error) {
	start := time.Now()
	d, err := i.next.Lookup(ctx, name)
	// A missing record is still an answer from the ledger.
	ok := err == nil || errors.Is(err, ErrNotFound)
	i.metrics.RecordLedgerOperation("lookup", ok, time.Since(start).Seconds())
	return d, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

// Probe issues a read against l and reports whether the backend answered.
func Probe(ctx context.Context, l Ledger) error {
	_, err := l.Lookup(ctx, probeName)
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
