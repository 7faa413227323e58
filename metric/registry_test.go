package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_requests_total",
		Help: "test counter",
	})

	require.NoError(t, r.RegisterCounter("store", "requests", counter))

	// Same component.name pair is rejected.
	dup := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_requests_dup_total",
		Help: "test counter",
	})
	assert.Error(t, r.RegisterCounter("store", "requests", dup))

	assert.True(t, r.Unregister("store", "requests"))
	assert.False(t, r.Unregister("store", "requests"))

	// After unregistering, the name is free again.
	require.NoError(t, r.RegisterCounter("store", "requests", dup))
}

func TestRegistry_CoreMetricsRegistered(t *testing.T) {
	r := NewRegistry()
	m := r.CoreMetrics()
	require.NotNil(t, m)

	// Recording against the core metrics must not panic and the series
	// must surface through the Prometheus registry.
	m.RecordValidation("selective", "chromadb", 4, 0)
	m.RecordBreakerState(1)
	m.RecordStaleServed()
	m.RecordTriageDecision("promote")

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rulegate_validation_requests_total"])
	assert.True(t, names["rulegate_store_circuit_breaker_state"])
	assert.True(t, names["rulegate_store_stale_served_total"])
	assert.True(t, names["rulegate_triage_decisions_total"])
}
