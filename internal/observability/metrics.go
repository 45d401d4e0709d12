package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for one process. All Record methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	// Transfer metrics
	TransfersTotal        *prometheus.CounterVec
	TransferDuration      *prometheus.HistogramVec
	BytesTransferredTotal *prometheus.CounterVec
	VerificationsTotal    *prometheus.CounterVec

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration prometheus.Histogram

	// Ledger metrics
	LedgerOperationsTotal   *prometheus.CounterVec
	LedgerOperationDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainxfer_transfers_total",
				Help: "Transfers finished, by role and status",
			},
			[]string{"role", "status"},
		),

		TransferDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainxfer_transfer_duration_seconds",
				Help:    "Transfer completion time distribution",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"role"},
		),

		BytesTransferredTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainxfer_bytes_transferred_total",
				Help: "Total payload bytes transferred",
			},
			[]string{"direction"},
		),

		VerificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainxfer_verifications_total",
				Help: "Digest verifications, by result",
			},
			[]string{"result"},
		),

		CryptoOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainxfer_crypto_operations_total",
				Help: "Cryptographic operations performed",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainxfer_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		LedgerOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainxfer_ledger_operations_total",
				Help: "Ledger operations, by operation and result",
			},
			[]string{"operation", "result"},
		),

		LedgerOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainxfer_ledger_operation_duration_seconds",
				Help:    "Ledger operation latency; record includes confirmation",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"operation"},
		),
	}
}

// RecordTransfer records a finished transfer.
func (m *Metrics) RecordTransfer(role string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(role, result(success)).Inc()
	m.TransferDuration.WithLabelValues(role).Observe(durationSeconds)
}

// RecordBytes adds payload bytes in direction "sent" or "received".
func (m *Metrics) RecordBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.BytesTransferredTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordLedgerOperation records a ledger call.
func (m *Metrics) RecordLedgerOperation(operation string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LedgerOperationsTotal.WithLabelValues(operation, result(success)).Inc()
	m.LedgerOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordVerification counts a verification outcome such as "verified" or "tampered".
func (m *Metrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
