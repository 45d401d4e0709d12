package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantarax/chainxfer/internal/crypto"
	"github.com/quantarax/chainxfer/internal/ledger"
	"github.com/quantarax/chainxfer/internal/transport"
)

// Receiver accepts one payload, writes the decrypted file and verifies it
// against the ledger.
type Receiver struct {
	opts   Options
	output string
}

// NewReceiver returns a Receiver writing to outputPath.
func NewReceiver(opts Options, outputPath string) (*Receiver, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if outputPath == "" {
		return nil, errors.New("transfer: output path is required")
	}
	return &Receiver{opts: opts, output: outputPath}, nil
}

// Receive takes one payload from src and verifies it against the digest
// recorded under name. A tampered or unrecorded file is reported in the
// Result, not as an error. A payload that fails decryption returns
// ErrDecryptionFailed and nothing is written.
func (r *Receiver) Receive(ctx context.Context, src PayloadSource, name string) (res *Result, err error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := r.opts.cryptoLogger(id, name)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "transfer.Receive", trace.WithAttributes(
		attribute.String("transfer.id", id),
		attribute.String("record.name", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error(err, "receive failed")
		}
		r.opts.Metrics.RecordTransfer("receiver", res.Verified(), time.Since(start).Seconds())
		span.End()
	}()

	payload, err := src.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive payload: %w", err)
	}
	log.ConnectionEstablished(networkOf(src), describe(src))
	log.PayloadReceived(describe(src), len(payload))
	r.opts.Metrics.RecordBytes("received", len(payload))

	plaintext, err := r.open(payload)
	if err != nil {
		log.DecryptFailed(err)
		r.opts.Metrics.RecordVerification("decrypt_failed")
		return nil, err
	}

	if err := os.WriteFile(r.output, plaintext, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", r.output, err)
	}
	log = log.WithFile(r.output, int64(len(plaintext)))

	// Hash what is on disk, not what is in memory.
	computed, err := r.opts.Hasher.DigestFile(r.output)
	if err != nil {
		return nil, err
	}

	res = &Result{
		TransferID:     id,
		Name:           name,
		OutputPath:     r.output,
		ComputedDigest: computed,
		BytesReceived:  len(payload),
	}

	expected, err := r.opts.Ledger.Lookup(ctx, name)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		res.Status = StatusNotRecorded
	case err != nil:
		return nil, fmt.Errorf("lookup digest: %w", err)
	case expected == computed:
		res.Status = StatusVerified
		res.ExpectedDigest = expected
	default:
		res.Status = StatusTampered
		res.ExpectedDigest = expected
	}
	res.CompletedAt = time.Now().UTC()

	span.SetAttributes(attribute.String("verification.status", res.Status.String()))
	log.VerificationCompleted(res.Status.String(), computed, res.ExpectedDigest)
	r.opts.Metrics.RecordVerification(strings.ToLower(res.Status.String()))
	return res, nil
}

func (r *Receiver) open(payload []byte) ([]byte, error) {
	keyText, ciphertext, err := transport.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	key, err := crypto.ParseKey(keyText)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	start := time.Now()
	plaintext, err := r.opts.Cipher.Decrypt(ciphertext, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	r.opts.Metrics.RecordCryptoOperation("decrypt", time.Since(start).Seconds())
	return plaintext, nil
}
