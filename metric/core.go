package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core service metrics. Component-specific metrics
// (cache counters, etc.) are registered separately by their owners.
type Metrics struct {
	// Validation metrics
	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	RulesApplied       *prometheus.HistogramVec

	// Rule store metrics
	StoreRequests *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
	BreakerState  prometheus.Gauge
	StaleServed   prometheus.Counter

	// Triage metrics
	TriageDecisions *prometheus.CounterVec
	PromotionsTotal *prometheus.CounterVec

	// Service metrics
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "validation",
				Name:      "requests_total",
				Help:      "Total number of validation requests",
			},
			[]string{"mode", "provenance"},
		),

		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rulegate",
				Subsystem: "validation",
				Name:      "duration_seconds",
				Help:      "Validation request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		RulesApplied: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rulegate",
				Subsystem: "validation",
				Name:      "rules_applied",
				Help:      "Number of rules applied per validation",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 10, 12, 16},
			},
			[]string{"mode"},
		),

		StoreRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "store",
				Name:      "requests_total",
				Help:      "Total number of rule store queries",
			},
			[]string{"collection"},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of rule store query failures",
			},
			[]string{"collection", "class"},
		),

		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rulegate",
				Subsystem: "store",
				Name:      "circuit_breaker_state",
				Help:      "Rule store circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		StaleServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "store",
				Name:      "stale_served_total",
				Help:      "Total number of responses served from cache while the breaker was not closed",
			},
		),

		TriageDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "triage",
				Name:      "decisions_total",
				Help:      "Total number of triage decisions",
			},
			[]string{"decision"},
		),

		PromotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "triage",
				Name:      "promotions_total",
				Help:      "Total number of topic promotions",
			},
			[]string{"status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rulegate",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rulegate",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordValidation increments the validation counter and observes duration.
func (m *Metrics) RecordValidation(mode, provenance string, rulesApplied int, duration time.Duration) {
	m.ValidationsTotal.WithLabelValues(mode, provenance).Inc()
	m.ValidationDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.RulesApplied.WithLabelValues(mode).Observe(float64(rulesApplied))
}

// RecordStoreRequest increments the store request counter.
func (m *Metrics) RecordStoreRequest(collection string) {
	m.StoreRequests.WithLabelValues(collection).Inc()
}

// RecordStoreError increments the store error counter. The class label
// distinguishes availability failures from malformed responses.
func (m *Metrics) RecordStoreError(collection, class string) {
	m.StoreErrors.WithLabelValues(collection, class).Inc()
}

// RecordBreakerState updates the circuit breaker state gauge.
func (m *Metrics) RecordBreakerState(state int) {
	m.BreakerState.Set(float64(state))
}

// RecordStaleServed increments the stale-response counter.
func (m *Metrics) RecordStaleServed() {
	m.StaleServed.Inc()
}

// RecordTriageDecision increments the triage decision counter.
func (m *Metrics) RecordTriageDecision(decision string) {
	m.TriageDecisions.WithLabelValues(decision).Inc()
}

// RecordPromotion increments the promotion counter.
func (m *Metrics) RecordPromotion(status string) {
	m.PromotionsTotal.WithLabelValues(status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHealthStatus updates the health check status gauge.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(value)
}
