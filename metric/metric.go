// Package metric exposes Prometheus instrumentation for the attendance
// workflow. All recorders are nil-safe so instrumentation stays optional.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the workflow's Prometheus collectors.
type Metrics struct {
	submissions      *prometheus.CounterVec
	geocodeFallbacks prometheus.Counter
	photoFailures    *prometheus.CounterVec
}

// New creates the workflow metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldcheck",
			Name:      "submissions_total",
			Help:      "Attendance submissions by kind and result.",
		}, []string{"kind", "result"}),
		geocodeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldcheck",
			Name:      "geocode_fallbacks_total",
			Help:      "Address resolutions that degraded to coordinate text.",
		}),
		photoFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldcheck",
			Name:      "photo_failures_total",
			Help:      "Non-fatal photo failures by stage (upload or link).",
		}, []string{"stage"}),
	}

	if reg != nil {
		reg.MustRegister(m.submissions, m.geocodeFallbacks, m.photoFailures)
	}

	return m
}

// SubmissionRecorded counts a terminal submission outcome.
func (m *Metrics) SubmissionRecorded(kind, result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, result).Inc()
}

// GeocodeFallback counts an address resolution that fell back to coordinates.
func (m *Metrics) GeocodeFallback() {
	if m == nil {
		return
	}
	m.geocodeFallbacks.Inc()
}

// PhotoFailure counts a non-fatal photo failure at the given stage.
func (m *Metrics) PhotoFailure(stage string) {
	if m == nil {
		return
	}
	m.photoFailures.WithLabelValues(stage).Inc()
}
