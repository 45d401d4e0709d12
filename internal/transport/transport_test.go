package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/quantarax/chainxfer/internal/validation"
)

type acceptResult struct {
	payload []byte
	err     error
}

func acceptAsync(ln *Listener) <-chan acceptResult {
	ch := make(chan acceptResult, 1)
	go func() {
		payload, err := ln.Accept(context.Background())
		ch <- acceptResult{payload, err}
	}()
	return ch
}

func roundTrip(t *testing.T, network Network, payload []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ln, err := Listen(ctx, Options{Network: network, Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	if ln.State() != StateBound {
		t.Errorf("Listener state = %s, want BOUND", ln.State())
	}
	results := acceptAsync(ln)

	initiator, err := NewInitiator(Options{Network: network, Address: ln.Addr().String()})
	if err != nil {
		t.Fatalf("NewInitiator() failed: %v", err)
	}
	if err := initiator.Send(ctx, payload); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if initiator.State() != StateClosed {
		t.Errorf("Initiator state = %s, want CLOSED", initiator.State())
	}

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("Accept() failed: %v", res.err)
		}
		if !bytes.Equal(res.payload, payload) {
			t.Errorf("Received %d bytes, want %d identical bytes", len(res.payload), len(payload))
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for Accept()")
	}

	if ln.State() != StateClosed {
		t.Errorf("Listener state = %s, want CLOSED", ln.State())
	}
	if ln.RemoteAddr() == nil {
		t.Error("RemoteAddr() is nil after accept")
	}
}

func TestTCPRoundTrip(t *testing.T) {
	payload := make([]byte, 3<<20)
	rand.Read(payload)
	roundTrip(t, NetworkTCP, payload)
}

func TestQUICRoundTrip(t *testing.T) {
	payload := make([]byte, 1<<20)
	rand.Read(payload)
	roundTrip(t, NetworkQUIC, payload)
}

func TestListenerRejectsOversizedPayload(t *testing.T) {
	ctx := context.Background()
	ln, err := Listen(ctx, Options{Address: "127.0.0.1:0", MaxPayloadSize: 16})
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	results := acceptAsync(ln)

	// The sender's limit is higher so the listener's guard is what trips.
	initiator, _ := NewInitiator(Options{Address: ln.Addr().String()})
	_ = initiator.Send(ctx, bytes.Repeat([]byte("x"), 64))

	res := <-results
	if !errors.Is(res.err, ErrPayloadTooLarge) {
		t.Fatalf("Accept() error = %v, want ErrPayloadTooLarge", res.err)
	}
}

func TestInitiatorRejectsOversizedPayload(t *testing.T) {
	initiator, _ := NewInitiator(Options{Address: "127.0.0.1:1", MaxPayloadSize: 4})
	if initiator.MaxPayloadSize() != 4 || initiator.Network() != NetworkTCP {
		t.Errorf("Initiator reports %s with limit %d", initiator.Network(), initiator.MaxPayloadSize())
	}
	if err := initiator.Send(context.Background(), []byte("too long")); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Send() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSendWithoutListenerFails(t *testing.T) {
	ctx := context.Background()
	ln, err := Listen(ctx, Options{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	initiator, _ := NewInitiator(Options{Address: addr})
	if err := initiator.Send(ctx, []byte("payload")); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Send() to a closed port error = %v, want ErrConnectFailed", err)
	}
	if initiator.State() != StateClosed {
		t.Errorf("Initiator state = %s, want CLOSED", initiator.State())
	}
}

func TestInitiatorIsSingleShot(t *testing.T) {
	initiator, _ := NewInitiator(Options{Address: "127.0.0.1:1"})
	_ = initiator.Send(context.Background(), []byte("x"))
	if err := initiator.Send(context.Background(), []byte("x")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Send() error = %v, want ErrInvalidState", err)
	}
}

func TestAcceptHonoursContext(t *testing.T) {
	ln, err := Listen(context.Background(), Options{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := ln.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Accept() error = %v, want context.DeadlineExceeded", err)
	}
	if _, err := ln.Accept(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Accept() error = %v, want ErrInvalidState", err)
	}
}

func TestBindConflictFails(t *testing.T) {
	ctx := context.Background()
	ln, err := Listen(ctx, Options{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	defer ln.Close()

	if _, err := Listen(ctx, Options{Address: ln.Addr().String()}); err == nil {
		t.Error("Listen() on a port in use should fail")
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := Options{Address: "127.0.0.1:9999"}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if opts.Network != NetworkTCP || opts.MaxPayloadSize != DefaultMaxPayloadSize {
		t.Errorf("defaults not applied: %+v", opts)
	}

	bad := Options{Network: "udp", Address: "x"}
	if err := bad.Validate(); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Errorf("Validate() error = %v, want ErrUnsupportedNetwork", err)
	}
	if err := (&Options{}).Validate(); !errors.Is(err, validation.ErrInvalidAddr) {
		t.Errorf("Validate() error = %v, want ErrInvalidAddr", err)
	}
	if err := (&Options{Address: "localhost"}).Validate(); !errors.Is(err, validation.ErrInvalidAddr) {
		t.Errorf("Validate() accepted an address without port: %v", err)
	}
}

func TestFrameSplit(t *testing.T) {
	if n := len(Frame([]byte("key"), []byte("ciphertext"))); n != FramedSize(3, 10) {
		t.Errorf("len(Frame) = %d, FramedSize = %d", n, FramedSize(3, 10))
	}
	key := []byte("S0meKeyText=")
	ciphertext := []byte("cipher||text||with delimiters")

	gotKey, gotCT, err := Split(Frame(key, ciphertext))
	if err != nil {
		t.Fatalf("Split() failed: %v", err)
	}
	if !bytes.Equal(gotKey, key) {
		t.Errorf("key = %q, want %q", gotKey, key)
	}
	if !bytes.Equal(gotCT, ciphertext) {
		t.Errorf("ciphertext = %q, want %q", gotCT, ciphertext)
	}
}

func TestSplitMalformed(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("no delimiter"), []byte("||ciphertext")} {
		if _, _, err := Split(payload); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Split(%q) error = %v, want ErrMalformedPayload", payload, err)
		}
	}

	key, ct, err := Split([]byte("key||"))
	if err != nil || string(key) != "key" || len(ct) != 0 {
		t.Errorf("Split(key||) = %q, %q, %v", key, ct, err)
	}
}

func TestRateLimitedSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := Listen(ctx, Options{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	results := acceptAsync(ln)

	payload := bytes.Repeat([]byte("r"), 512*1024)
	initiator, err := NewInitiator(Options{Address: ln.Addr().String(), RateLimit: 1 << 20})
	if err != nil {
		t.Fatalf("NewInitiator() failed: %v", err)
	}
	if err := initiator.Send(ctx, payload); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	res := <-results
	if res.err != nil {
		t.Fatalf("Accept() failed: %v", res.err)
	}
	if !bytes.Equal(res.payload, payload) {
		t.Error("Rate-limited payload corrupted")
	}

	if err := (&Options{Address: "127.0.0.1:1", RateLimit: -1}).Validate(); err == nil {
		t.Error("Validate() accepted a negative rate limit")
	}
}

// TestDrainHonoursContext tests that a peer which connects but never
// finishes its payload cannot hold Accept past the context deadline.
func TestDrainHonoursContext(t *testing.T) {
	for _, network := range []Network{NetworkTCP, NetworkQUIC} {
		t.Run(string(network), func(t *testing.T) {
			ln, err := Listen(context.Background(), Options{Network: network, Address: "127.0.0.1:0"})
			if err != nil {
				t.Fatalf("Listen() failed: %v", err)
			}

			dialCtx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelDial()
			opts := Options{Network: network, Address: ln.Addr().String()}
			if err := opts.Validate(); err != nil {
				t.Fatal(err)
			}

			results := make(chan acceptResult, 1)
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			go func() {
				payload, err := ln.Accept(ctx)
				results <- acceptResult{payload, err}
			}()

			var conn outbound
			if network == NetworkQUIC {
				conn, err = dialQUIC(dialCtx, opts)
			} else {
				conn, err = dialTCP(dialCtx, opts)
			}
			if err != nil {
				t.Fatalf("dial failed: %v", err)
			}
			defer conn.Close()
			// Never close the write side.
			if _, err := conn.Write([]byte("partial")); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			select {
			case res := <-results:
				if !errors.Is(res.err, context.DeadlineExceeded) {
					t.Errorf("Expected context.DeadlineExceeded, got %v", res.err)
				}
				if res.payload != nil {
					t.Error("Partial payload returned")
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("Accept still blocked after its deadline; state=%s", ln.State())
			}
			if ln.State() != StateClosed {
				t.Errorf("Listener state = %s, want CLOSED", ln.State())
			}
		})
	}
}

func TestInitiatorRejectsPortZero(t *testing.T) {
	if _, err := NewInitiator(Options{Address: "127.0.0.1:0"}); !errors.Is(err, validation.ErrInvalidAddr) {
		t.Errorf("NewInitiator() error = %v, want ErrInvalidAddr", err)
	}
	ln, err := Listen(context.Background(), Options{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("Listen() on port 0 failed: %v", err)
	}
	ln.Close()
}
