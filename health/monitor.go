package health

import (
	"sync"
	"time"

	"github.com/c360/rulegate/metric"
)

// Checker reports the health of one component.
type Checker interface {
	// Name identifies the component in sub-statuses.
	Name() string

	// Health returns the component's current status.
	Health() Status
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	ComponentName string
	Check         func() Status
}

// Name identifies the component.
func (f CheckerFunc) Name() string { return f.ComponentName }

// Health runs the check.
func (f CheckerFunc) Health() Status { return f.Check() }

// Monitor aggregates component checkers into one system status.
type Monitor struct {
	mu       sync.RWMutex
	checkers []Checker
	metrics  *metric.Metrics
}

// NewMonitor creates a monitor. Metrics are optional.
func NewMonitor(metrics *metric.Metrics) *Monitor {
	return &Monitor{metrics: metrics}
}

// Register adds a component checker.
func (m *Monitor) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs all registered checkers and aggregates: unhealthy if any
// component is unhealthy, degraded if any is degraded, healthy
// otherwise.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	overall := Status{
		Component: "rulegate",
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	for _, checker := range checkers {
		sub := checker.Health()
		overall.SubStatuses = append(overall.SubStatuses, sub)

		if m.metrics != nil {
			m.metrics.RecordHealthStatus(checker.Name(), sub.IsHealthy())
		}

		switch sub.Status {
		case StatusUnhealthy:
			overall.Status = StatusUnhealthy
			overall.Healthy = false
		case StatusDegraded:
			if overall.Status != StatusUnhealthy {
				overall.Status = StatusDegraded
				overall.Healthy = false
			}
		}
	}

	return overall
}
