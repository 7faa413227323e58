// Package events publishes service events to NATS for downstream
// consumers. Publishing is optional: with no connection configured the
// publisher is a no-op and the service runs standalone.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/pkg/retry"
)

// Subjects for published events.
const (
	// SubjectPromotion carries topic promotion events.
	SubjectPromotion = "rulegate.triage.promotion"
	// SubjectBreaker carries circuit breaker state changes.
	SubjectBreaker = "rulegate.breaker.state"
)

// PromotionEvent is published when a triage item is promoted.
type PromotionEvent struct {
	Timestamp      string  `json:"timestamp"` // RFC3339
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Summary        string  `json:"summary"`
	Source         string  `json:"source,omitempty"`
	ProfileFit     float64 `json:"profile_fit_score"`
	Novelty        float64 `json:"novelty_score"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// BreakerEvent is published on circuit breaker state changes.
type BreakerEvent struct {
	Timestamp string `json:"timestamp"` // RFC3339
	From      string `json:"from"`
	To        string `json:"to"`
}

// Publisher publishes events to NATS. A nil connection disables
// publishing entirely.
type Publisher struct {
	nc      *nats.Conn
	logger  *slog.Logger
	retry   retry.Config
	enabled bool
}

// NewPublisher creates a publisher. Pass a nil connection to disable.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		nc:     nc,
		logger: logger,
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2.0,
			AddJitter:    true,
		},
		enabled: nc != nil,
	}
}

// Enabled reports whether events are being published.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishPromotion publishes a promotion event. Promotion events are
// idempotent downstream (keyed by idempotency key), so a short retry
// on transient connection trouble is safe.
func (p *Publisher) PublishPromotion(ctx context.Context, event PromotionEvent) error {
	if !p.enabled {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	return p.publish(ctx, SubjectPromotion, event)
}

// PublishBreakerChange publishes a breaker state change. Best effort:
// failures are logged, never surfaced to request handling.
func (p *Publisher) PublishBreakerChange(from, to string) {
	if !p.enabled {
		return
	}

	event := BreakerEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		From:      from,
		To:        to,
	}
	if err := p.publish(context.Background(), SubjectBreaker, event); err != nil {
		p.logger.Warn("breaker event publish failed", "from", from, "to", to, "error", err)
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "events", "publish", "marshal event")
	}

	err = retry.Do(ctx, p.retry, func() error {
		return p.nc.Publish(subject, data)
	})
	if err != nil {
		return errors.WrapTransient(err, "events", "publish", "publish to "+subject)
	}
	return nil
}
