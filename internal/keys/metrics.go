package keys

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAuthorized = "authorized"
	resultRejected   = "rejected"
	resultError      = "error"
)

// Metrics holds Prometheus metrics for the key lifecycle. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	createdTotal       prometheus.Counter
	revokedTotal       prometheus.Counter
	registry           *prometheus.Registry
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "keyguard"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_total",
			Help:      "Total number of API key validation attempts",
		},
		[]string{"result", "reason"},
	)

	m.validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_duration_seconds",
			Help:      "API key validation duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"result"},
	)

	m.createdTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apikey",
		Name:      "created_total",
		Help:      "Total number of API keys issued",
	})

	m.revokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apikey",
		Name:      "revoked_total",
		Help:      "Total number of API keys revoked",
	})

	// Pre-create the rejection series so dashboards see zeros.
	for _, reason := range []Reason{ReasonUnknownKey, ReasonRevoked, ReasonExpired, ReasonIPNotAllowed} {
		m.validationTotal.WithLabelValues(resultRejected, string(reason))
	}

	m.registry.MustRegister(
		m.validationTotal,
		m.validationDuration,
		m.createdTotal,
		m.revokedTotal,
	)

	return m
}

// RecordValidation records one validation outcome. reason is empty unless
// result is rejected.
func (m *Metrics) RecordValidation(result string, reason Reason, duration time.Duration) {
	if m == nil {
		return
	}
	m.validationTotal.WithLabelValues(result, string(reason)).Inc()
	m.validationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *Metrics) RecordCreated() {
	if m == nil {
		return
	}
	m.createdTotal.Inc()
}

func (m *Metrics) RecordRevoked() {
	if m == nil {
		return
	}
	m.revokedTotal.Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
