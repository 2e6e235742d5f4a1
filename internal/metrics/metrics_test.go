package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOutcome("replied", time.Second)
		m.ProviderRequest("sendMessage", "ok")
		m.Retry("1")
		m.RateWait("1", time.Second)
		m.QueueRejected()
		m.SetAuthorized("1", true)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveOutcome("replied", 10*time.Millisecond)
	m.ObserveOutcome("replied", 10*time.Millisecond)
	m.ObserveOutcome("suppressed", time.Millisecond)
	m.Retry("inst")
	m.SetAuthorized("inst", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("replied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("inst")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authState.WithLabelValues("inst")))

	m.SetAuthorized("inst", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.authState.WithLabelValues("inst")))
}
