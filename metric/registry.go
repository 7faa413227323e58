// Package metric manages Prometheus metric registration and exposure.
//
// A single Registry owns the Prometheus registry for the process. Core
// service metrics are registered at construction; individual components
// register their own metrics under a component name so duplicate
// registrations are caught early with a classified error.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/rulegate/errors"
)

// Registrar is the interface components use to register their metrics.
type Registrar interface {
	RegisterCounter(component, name string, counter prometheus.Counter) error
	RegisterGauge(component, name string, gauge prometheus.Gauge) error
	RegisterHistogram(component, name string, histogram prometheus.Histogram) error
	RegisterCounterVec(component, name string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(component, name string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(component, name string, histogramVec *prometheus.HistogramVec) error
	Unregister(component, name string) bool
}

// Registry manages the registration and lifecycle of metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a registry with core service metrics and Go
// runtime collectors already registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.Metrics = NewMetrics()
	r.registerCoreMetrics()

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core service metrics.
func (r *Registry) CoreMetrics() *Metrics {
	return r.Metrics
}

// register adds a collector under component.name, rejecting duplicates.
func (r *Registry) register(component, name, operation string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)

	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"Registry", operation, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", operation,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", operation, "prometheus registration failed")
	}

	r.registered[key] = collector
	return nil
}

// RegisterCounter registers a counter metric for a component.
func (r *Registry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register(component, name, "RegisterCounter", counter)
}

// RegisterGauge registers a gauge metric for a component.
func (r *Registry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register(component, name, "RegisterGauge", gauge)
}

// RegisterHistogram registers a histogram metric for a component.
func (r *Registry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register(component, name, "RegisterHistogram", histogram)
}

// RegisterCounterVec registers a counter vector metric for a component.
func (r *Registry) RegisterCounterVec(component, name string, counterVec *prometheus.CounterVec) error {
	return r.register(component, name, "RegisterCounterVec", counterVec)
}

// RegisterGaugeVec registers a gauge vector metric for a component.
func (r *Registry) RegisterGaugeVec(component, name string, gaugeVec *prometheus.GaugeVec) error {
	return r.register(component, name, "RegisterGaugeVec", gaugeVec)
}

// RegisterHistogramVec registers a histogram vector metric for a component.
func (r *Registry) RegisterHistogramVec(component, name string, histogramVec *prometheus.HistogramVec) error {
	return r.register(component, name, "RegisterHistogramVec", histogramVec)
}

// Unregister removes a metric from the registry.
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)

	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registered, key)
	}

	return success
}

func (r *Registry) registerCoreMetrics() {
	r.prometheusRegistry.MustRegister(
		r.Metrics.ValidationsTotal,
		r.Metrics.ValidationDuration,
		r.Metrics.RulesApplied,
		r.Metrics.StoreRequests,
		r.Metrics.StoreErrors,
		r.Metrics.BreakerState,
		r.Metrics.StaleServed,
		r.Metrics.TriageDecisions,
		r.Metrics.PromotionsTotal,
		r.Metrics.ErrorsTotal,
		r.Metrics.HealthCheckStatus,
	)
}
