// Package breaker implements a three-state circuit breaker guarding
// rule store calls.
//
// The breaker owns the only global mutable state in the service. All
// transitions happen under one mutex so concurrent failures and
// successes cannot race into an inconsistent state. Only transient
// availability errors feed failure accounting; malformed store
// responses are data bugs and pass through uncounted.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/metric"
)

// Status is the breaker state.
type Status int

const (
	// Closed passes calls through to the store.
	Closed Status = iota
	// Open rejects calls until the recovery timeout elapses.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

// String returns the wire representation of a status.
func (s Status) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// State is an observable snapshot of breaker state. Other components
// read it for health reporting but never mutate it.
type State struct {
	Status              Status    `json:"-"`
	StatusText          string    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	HalfOpenSuccesses   int       `json:"half_open_successes"`
}

// Config configures breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive transient failures
	// that opens the breaker (default: 5).
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before
	// allowing a half-open probe (default: 60s).
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open probe
	// successes that closes the breaker (default: 2).
	SuccessThreshold int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics exports the state gauge (optional).
	Metrics *metric.Metrics

	// OnTransition is notified of state changes, e.g. for event
	// publishing (optional). Invoked on its own goroutine so slow
	// consumers never hold up breaker accounting.
	OnTransition func(from, to Status)
}

// Breaker is a mutex-guarded three-state circuit breaker.
type Breaker struct {
	mu                sync.Mutex
	status            Status
	failures          int
	openedAt          time.Time
	halfOpenSuccesses int

	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	logger       *slog.Logger
	metrics      *metric.Metrics
	onTransition func(from, to Status)

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Breaker{
		status:           Closed,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		successThreshold: cfg.SuccessThreshold,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		onTransition:     cfg.OnTransition,
		now:              time.Now,
	}
	b.exportState(Closed)
	return b
}

// Execute runs fn through the breaker. When the breaker is open and
// the recovery timeout has not elapsed, fn is not called and
// ErrCircuitOpen is returned; the caller falls back to its cache.
// Outcomes are recorded automatically: transient errors count as
// failures, invalid errors (malformed responses) do not.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.Record(err)
	return err
}

// Allow reports whether a call may proceed, performing the
// Open -> HalfOpen transition when the recovery timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case Closed, HalfOpen:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) >= b.recoveryTimeout {
			b.transition(HalfOpen)
			return nil
		}
		return errors.WrapTransient(errors.ErrCircuitOpen, "breaker", "Allow", "call rejected")
	default:
		return errors.WrapFatal(errors.ErrCircuitOpen, "breaker", "Allow", "unknown breaker state")
	}
}

// Record feeds a call outcome into failure accounting. A nil error is
// a success. Non-transient errors are ignored: a malformed store
// response must never open the breaker.
func (b *Breaker) Record(err error) {
	if err == nil {
		b.recordSuccess()
		return
	}
	if !errors.IsTransient(err) {
		return
	}
	b.recordFailure()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successThreshold {
			b.transition(Closed)
		}
	case Open:
		// A success while open means the call was admitted just before
		// the state flipped. Treat it as a recovery signal.
		b.transition(HalfOpen)
		b.halfOpenSuccesses = 1
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		// Any probe failure reopens immediately.
		b.transition(Open)
	case Open:
		// Already open, nothing to count.
	}
}

// transition moves to a new status. Caller holds the mutex.
func (b *Breaker) transition(to Status) {
	from := b.status
	b.status = to

	switch to {
	case Open:
		b.openedAt = b.now()
		b.halfOpenSuccesses = 0
	case HalfOpen:
		b.halfOpenSuccesses = 0
	case Closed:
		b.failures = 0
		b.halfOpenSuccesses = 0
		b.openedAt = time.Time{}
	}

	b.logger.Info("circuit breaker state change",
		"from", from.String(),
		"to", to.String(),
		"consecutive_failures", b.failures,
	)
	b.exportState(to)

	if b.onTransition != nil {
		go b.onTransition(from, to)
	}
}

func (b *Breaker) exportState(status Status) {
	if b.metrics != nil {
		b.metrics.RecordBreakerState(int(status))
	}
}

// Snapshot returns the current breaker state for health reporting.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return State{
		Status:              b.status,
		StatusText:          b.status.String(),
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
	}
}

// Degraded reports whether the breaker is in any non-closed state.
// Responses served while degraded carry provenance=cache.
func (b *Breaker) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status != Closed
}
