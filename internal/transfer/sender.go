package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantarax/chainxfer/internal/crypto"
	"github.com/quantarax/chainxfer/internal/transport"
)

// Sender records a file's digest and ships the encrypted file.
type Sender struct {
	opts Options
	sink PayloadSink
}

// NewSender returns a Sender that delivers through sink.
func NewSender(opts Options, sink PayloadSink) (*Sender, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("transfer: payload sink is required")
	}
	return &Sender{opts: opts, sink: sink}, nil
}

// Send reads path once, records its digest under name and, only after the
// ledger confirmed the write, encrypts the same bytes under a fresh key and
// sends the framed payload. Nothing is sent if any earlier step fails, and
// nothing is recorded for a file whose payload the sink would refuse.
func (s *Sender) Send(ctx context.Context, path, name string) (report *SendReport, err error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := s.opts.cryptoLogger(id, name)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "transfer.Send", trace.WithAttributes(
		attribute.String("transfer.id", id),
		attribute.String("record.name", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error(err, "send failed")
		}
		s.opts.Metrics.RecordTransfer("sender", err == nil, time.Since(start).Seconds())
		span.End()
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	log = log.WithFile(path, int64(len(data)))
	log.TransferStarted("sender", path, int64(len(data)))

	if lim, ok := s.sink.(payloadLimiter); ok {
		size := transport.FramedSize(crypto.EncodedKeySize, s.opts.Cipher.SealedSize(len(data)))
		if limit := lim.MaxPayloadSize(); limit > 0 && int64(size) > limit {
			return nil, fmt.Errorf("%w: %s frames to %d bytes, limit %d", transport.ErrPayloadTooLarge, path, size, limit)
		}
	}

	digest := s.opts.Hasher.Digest(data)
	span.SetAttributes(attribute.String("file.digest", digest))

	recordStart := time.Now()
	receipt, err := s.opts.Ledger.Record(ctx, name, digest)
	if err != nil {
		return nil, fmt.Errorf("record digest: %w", err)
	}
	log.DigestRecorded(digest, receipt.TxID, receipt.Block, time.Since(recordStart))

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	encStart := time.Now()
	ciphertext, err := s.opts.Cipher.Encrypt(data, key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	s.opts.Metrics.RecordCryptoOperation("encrypt", time.Since(encStart).Seconds())

	payload := transport.Frame(key.Encode(), ciphertext)

	sendStart := time.Now()
	if err := s.sink.Send(ctx, payload); err != nil {
		if errors.Is(err, transport.ErrConnectFailed) {
			log.ConnectionFailed(networkOf(s.sink), describe(s.sink), err)
		}
		return nil, fmt.Errorf("send payload: %w", err)
	}
	log.PayloadSent(describe(s.sink), len(payload), time.Since(sendStart))
	s.opts.Metrics.RecordBytes("sent", len(payload))

	return &SendReport{
		TransferID: id,
		Name:       name,
		Digest:     digest,
		Receipt:    receipt,
		BytesSent:  len(payload),
		Duration:   time.Since(start),
	}, nil
}
