package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	TransactionsSigned prometheus.Counter
	TransactionsFailed prometheus.Counter
	JobsRun            *prometheus.CounterVec
	JobsFailed         *prometheus.CounterVec
	ReportsGenerated   prometheus.Counter
	DeviceCallDuration *prometheus.HistogramVec
	CertWarnings       *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics against the given registerer. Tests pass a
// fresh registry so repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)
	return &Metrics{
		TransactionsSigned: auto.NewCounter(prometheus.CounterOpts{
			Name: "fiscalhub_transactions_signed_total",
			Help: "Total number of transactions successfully signed",
		}),
		TransactionsFailed: auto.NewCounter(prometheus.CounterOpts{
			Name: "fiscalhub_transactions_failed_total",
			Help: "Total number of signing attempts that failed",
		}),
		JobsRun: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalhub_jobs_run_total",
			Help: "Total scheduled/manual fiscal jobs executed, by job type",
		}, []string{"job_type"}),
		JobsFailed: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscalhub_jobs_failed_total",
			Help: "Total fiscal jobs that completed with an error, by job type",
		}, []string{"job_type"}),
		ReportsGenerated: auto.NewCounter(prometheus.CounterOpts{
			Name: "fiscalhub_zreports_generated_total",
			Help: "Total end-of-day reports generated",
		}),
		DeviceCallDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fiscalhub_device_call_duration_seconds",
			Help:    "Latency of external signing-device calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"device_type", "operation"}),
		CertWarnings: auto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fiscalhub_certificate_warnings",
			Help: "Certificate expiry warnings currently raised, by severity",
		}, []string{"severity"}),
	}
}

// ObserveDeviceCall records one device round trip.
func (m *Metrics) ObserveDeviceCall(deviceType, operation string, d time.Duration) {
	m.DeviceCallDuration.WithLabelValues(deviceType, operation).Observe(d.Seconds())
}
