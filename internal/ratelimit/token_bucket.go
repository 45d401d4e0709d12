// Package ratelimit caps outbound bandwidth with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// TokenBucket refills at rate tokens per second up to burst.
type TokenBucket struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	available  float64
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{rate: rate, burst: burst, available: float64(burst), lastRefill: time.Now()}
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.available += elapsed * tb.rate
	if tb.available > float64(tb.burst) {
		tb.available = float64(tb.burst)
	}
	tb.lastRefill = now
}

// allow consumes n tokens if available and returns true, otherwise false.
func (tb *TokenBucket) allow(n int) bool {
	_, ok := tb.reserve(n)
	return ok
}

// reserve takes n tokens or reports how long until they are available.
func (tb *TokenBucket) reserve(n int) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(time.Now())
	if tb.available >= float64(n) {
		tb.available -= float64(n)
		return 0, true
	}
	missing := float64(n) - tb.available
	return time.Duration(missing / tb.rate * float64(time.Second)), false
}

// Wait blocks until n tokens are available or ctx is done. A request larger
// than the burst can never be served and fails at once.
func (tb *TokenBucket) Wait(ctx context.Context, n int) error {
	if n > tb.burst {
		return fmt.Errorf("ratelimit: request of %d tokens exceeds burst %d", n, tb.burst)
	}
	for {
		d, ok := tb.reserve(n)
		if ok {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Writer paces writes to w at bytesPerSec.
type Writer struct {
	ctx context.Context
	w   io.Writer
	tb  *TokenBucket
}

// writeChunk bounds a single paced write.
const writeChunk = 64 * 1024

// NewWriter returns a Writer limited to bytesPerSec. The burst is one
// second of traffic, at least one chunk.
func NewWriter(ctx context.Context, w io.Writer, bytesPerSec int64) *Writer {
	burst := int(bytesPerSec)
	if burst < writeChunk {
		burst = writeChunk
	}
	return &Writer{ctx: ctx, w: w, tb: NewTokenBucket(float64(bytesPerSec), burst)}
}

func (lw *Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > writeChunk {
			n = writeChunk
		}
		if err := lw.tb.Wait(lw.ctx, n); err != nil {
			return written, err
		}
		m, err := lw.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
