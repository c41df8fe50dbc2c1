package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SubmissionRecorded("check-in", "done")
	m.SubmissionRecorded("check-in", "done")
	m.SubmissionRecorded("check-out", "failed")
	m.GeocodeFallback()
	m.PhotoFailure("upload")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("check-in", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("check-out", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.geocodeFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.photoFailures.WithLabelValues("upload")))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics

	// Must not panic when instrumentation is disabled.
	m.SubmissionRecorded("check-in", "done")
	m.GeocodeFallback()
	m.PhotoFailure("link")
}
