// Package transfer runs the two sides of a verified file transfer.
//
// The sender records the file's digest on the ledger before anything is
// sent, then ships key || "||" || ciphertext over one connection. The
// receiver decrypts, writes the file, rehashes what it wrote and compares
// the result against the ledger.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/quantarax/chainxfer/internal/crypto"
	"github.com/quantarax/chainxfer/internal/ledger"
	"github.com/quantarax/chainxfer/internal/observability"
	"github.com/quantarax/chainxfer/internal/transport"
	"github.com/quantarax/chainxfer/internal/validation"
)

var tracer = otel.Tracer("github.com/quantarax/chainxfer/internal/transfer")

var (
	// ErrDecryptionFailed is returned when a payload cannot be split,
	// its key cannot be parsed or the ciphertext fails authentication.
	// No digest comparison happens in that case.
	ErrDecryptionFailed = errors.New("transfer: payload decryption failed")

	// ErrInvalidName is returned for a blank or malformed record name.
	ErrInvalidName = errors.New("transfer: invalid record name")

	// ErrNoLedger is returned when Options carries no ledger.
	ErrNoLedger = errors.New("transfer: ledger is required")
)

// VerificationStatus is the outcome of comparing a received file against
// the ledger.
type VerificationStatus int

const (
	StatusVerified VerificationStatus = iota + 1
	StatusTampered
	StatusNotRecorded
)

func (s VerificationStatus) String() string {
	switch s {
	case StatusVerified:
		return "VERIFIED"
	case StatusTampered:
		return "TAMPERED"
	case StatusNotRecorded:
		return "NOT_RECORDED"
	default:
		return "UNKNOWN"
	}
}

// Result describes one completed receive.
type Result struct {
	TransferID     string
	Name           string
	OutputPath     string
	Status         VerificationStatus
	ComputedDigest string
	ExpectedDigest string // empty when NotRecorded
	BytesReceived  int
	CompletedAt    time.Time
}

// Verified reports whether the written file matches the ledger.
func (r *Result) Verified() bool {
	return r != nil && r.Status == StatusVerified
}

// SendReport describes one completed send.
type SendReport struct {
	TransferID string
	Name       string
	Digest     string
	Receipt    *ledger.Receipt
	BytesSent  int
	Duration   time.Duration
}

// PayloadSink delivers one framed payload. *transport.Initiator satisfies it.
type PayloadSink interface {
	Send(ctx context.Context, payload []byte) error
}

// PayloadSource yields one framed payload. *transport.Listener satisfies it.
type PayloadSource interface {
	Accept(ctx context.Context) ([]byte, error)
}

// Options are shared by Sender and Receiver. Only Ledger is required.
type Options struct {
	Hasher  *crypto.Hasher
	Cipher  *crypto.Cipher
	Ledger  ledger.Ledger
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func (o *Options) setDefaults() error {
	if o.Ledger == nil {
		return ErrNoLedger
	}
	var err error
	if o.Hasher == nil {
		if o.Hasher, err = crypto.NewHasher(crypto.HashSHA256); err != nil {
			return err
		}
	}
	if o.Cipher == nil {
		if o.Cipher, err = crypto.NewCipher(crypto.SuiteAES256GCM); err != nil {
			return err
		}
	}
	if o.Logger == nil {
		o.Logger = observability.NewNopLogger()
	}
	return nil
}

func checkName(name string) error {
	if err := validation.ValidateRecordName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	return nil
}

// payloadLimiter is implemented by sinks that bound the payload size.
type payloadLimiter interface {
	MaxPayloadSize() int64
}

func (o *Options) cryptoLogger(id, name string) *observability.Logger {
	return o.Logger.WithTransfer(id, name).
		WithCrypto(string(o.Hasher.Algorithm()), o.Cipher.Suite().String())
}

func networkOf(v interface{}) string {
	if n, ok := v.(interface{ Network() transport.Network }); ok {
		return string(n.Network())
	}
	return "unknown"
}

func describe(v interface{}) string {
	switch t := v.(type) {
	case interface{ RemoteAddr() net.Addr }:
		if addr := t.RemoteAddr(); addr != nil {
			return addr.String()
		}
	case fmt.Stringer:
		return t.String()
	}
	return "unknown"
}
