package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured JSON logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewConsoleLogger creates a human-readable logger for interactive use.
func NewConsoleLogger(service string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	return &Logger{
		logger: zerolog.New(cw).With().Timestamp().Str("service", service).Logger(),
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// ParseLevel maps a configuration string to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// WithLevel returns a logger filtered at level.
func (l *Logger) WithLevel(level zerolog.Level) *Logger {
	return &Logger{logger: l.logger.Level(level)}
}

// WithTransfer adds transfer_id and record name context to logger.
func (l *Logger) WithTransfer(transferID, name string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("transfer_id", transferID).
			Str("record_name", name).
			Logger(),
	}
}

// WithCrypto adds the digest algorithm and cipher suite to logger.
func (l *Logger) WithCrypto(hash, suite string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("hash", hash).
			Str("cipher", suite).
			Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// TransferStarted logs transfer start event.
func (l *Logger) TransferStarted(role, filePath string, fileSize int64) {
	l.logger.Info().
		Str("role", role).
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Msg("transfer started")
}

// DigestRecorded logs a confirmed ledger write.
func (l *Logger) DigestRecorded(digest, txID string, block uint64, elapsed time.Duration) {
	l.logger.Info().
		Str("digest", digest).
		Str("tx_id", txID).
		Uint64("block", block).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("digest recorded on ledger")
}

// PayloadSent logs a completed send.
func (l *Logger) PayloadSent(remoteAddr string, payloadSize int, elapsed time.Duration) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Int("payload_size", payloadSize).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("payload sent")
}

// PayloadReceived logs a drained connection.
func (l *Logger) PayloadReceived(remoteAddr string, payloadSize int) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Int("payload_size", payloadSize).
		Msg("payload received")
}

// DecryptFailed logs a payload that failed authentication.
func (l *Logger) DecryptFailed(err error) {
	l.logger.Error().
		Err(err).
		Str("error_code", "DECRYPT_FAILED").
		Msg("payload decryption failed")
}

// VerificationCompleted logs the integrity check outcome.
func (l *Logger) VerificationCompleted(status, computed, expected string) {
	ev := l.logger.Info()
	if status != "VERIFIED" {
		ev = l.logger.Warn()
	}
	ev.Str("status", status).
		Str("computed_digest", computed).
		Str("expected_digest", expected).
		Msg("integrity verification completed")
}

// ConnectionEstablished logs connection establishment.
func (l *Logger) ConnectionEstablished(network, remoteAddr string) {
	l.logger.Info().
		Str("network", network).
		Str("remote_addr", remoteAddr).
		Msg("connection established")
}

// ConnectionFailed logs connection failure.
func (l *Logger) ConnectionFailed(network, remoteAddr string, err error) {
	l.logger.Error().
		Str("network", network).
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("connection failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
