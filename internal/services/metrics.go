package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the daemon
type Metrics struct {
	// Patient API metrics
	PatientFetches prometheus.Counter
	PatientSaves   prometheus.Counter
	QuickAdds      *prometheus.CounterVec
	RequestErrors  *prometheus.CounterVec

	// Session retention metrics
	SessionsDeleted prometheus.Counter
	CleanupDuration prometheus.Histogram

	// Backend references for dynamic metrics
	backend  *RoundsBackend
	sessions *SessionStore
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(backend *RoundsBackend, sessions *SessionStore) *Metrics {
	metrics := &Metrics{
		backend:  backend,
		sessions: sessions,

		// Patient list fetches (counter - only goes up)
		PatientFetches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rounds_patient_fetches_total",
			Help: "Total number of patient list fetches served",
		}),

		// Whole-set saves from clients
		PatientSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rounds_patient_saves_total",
			Help: "Total number of patient set saves accepted",
		}),

		// Quick-adds by outcome
		QuickAdds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_quick_adds_total",
			Help: "Total number of quick-add requests by outcome",
		}, []string{"outcome"}), // outcome: "ok", "rejected" or "failed"

		// Request errors by endpoint
		RequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rounds_request_errors_total",
			Help: "Total number of request errors by endpoint",
		}, []string{"endpoint"}),

		// Sessions removed by retention cleanup
		SessionsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rounds_sessions_deleted_total",
			Help: "Total number of dictation sessions removed by retention cleanup",
		}),

		// Cleanup sweep latency histogram
		CleanupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rounds_cleanup_duration_seconds",
			Help:    "Session retention sweep latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	// Register a collector that reads the record count from the backend
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rounds_patient_records_current",
			Help: "Current number of patient records held by the daemon",
		},
		func() float64 {
			if backend != nil {
				return float64(backend.PatientCount(context.Background()))
			}
			return 0
		},
	))

	// And one for the session count
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rounds_sessions_current",
			Help: "Current number of persisted dictation sessions",
		},
		func() float64 {
			if sessions == nil {
				return 0
			}
			stats, err := sessions.StorageStats(context.Background())
			if err != nil {
				return 0
			}
			return float64(stats.SessionCount)
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordPatientFetch records a served patient list fetch
func (m *Metrics) RecordPatientFetch() {
	m.PatientFetches.Inc()
}

// RecordPatientSave records an accepted patient set save
func (m *Metrics) RecordPatientSave() {
	m.PatientSaves.Inc()
}

// RecordQuickAdd records a quick-add request outcome
func (m *Metrics) RecordQuickAdd(outcome string) {
	m.QuickAdds.WithLabelValues(outcome).Inc()
}

// RecordRequestError records a request error for an endpoint
func (m *Metrics) RecordRequestError(endpoint string) {
	m.RequestErrors.WithLabelValues(endpoint).Inc()
}

// RecordCleanup records a retention sweep's deletions and duration
func (m *Metrics) RecordCleanup(deleted int, elapsed time.Duration) {
	m.SessionsDeleted.Add(float64(deleted))
	m.CleanupDuration.Observe(elapsed.Seconds())
}
