package triage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/events"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/pkg/cache"
)

// Promotion statuses.
const (
	// StatusCreated marks a newly created promotion.
	StatusCreated = "created"
	// StatusDuplicate marks a replay of an earlier promotion with the
	// same idempotency key.
	StatusDuplicate = "duplicate"
)

// PromotionResult is returned to the caller for every promotion
// request, original or replayed.
type PromotionResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PromoterConfig configures a Promoter.
type PromoterConfig struct {
	// MaxRecords bounds the idempotency record cache (default: 4096).
	MaxRecords int

	// RecordTTL is how long idempotency records are honored
	// (default: 24h).
	RecordTTL time.Duration

	// Publisher emits promotion events downstream (optional).
	Publisher *events.Publisher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records promotion counters (optional).
	Metrics *metric.Metrics
}

// Promoter promotes accepted items downstream, idempotently per
// caller-supplied idempotency key: replaying a key returns the
// original promotion id marked duplicate, never a second promotion.
type Promoter struct {
	records cache.Cache[PromotionResult]
	scorer  *Scorer
	cfg     PromoterConfig
	logger  *slog.Logger

	// mu serializes the get-or-create over records: without it two
	// concurrent requests with the same key could both mint an id.
	mu sync.Mutex
}

// NewPromoter creates a promoter. The scorer is required so promoted
// items feed the novelty index.
func NewPromoter(ctx context.Context, scorer *Scorer, cfg PromoterConfig) (*Promoter, error) {
	if scorer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "triage", "NewPromoter", "scorer is required")
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 4096
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	records, err := cache.NewHybrid[PromotionResult](ctx, cfg.MaxRecords, cfg.RecordTTL, time.Hour)
	if err != nil {
		return nil, errors.Wrap(err, "triage", "NewPromoter", "create idempotency cache")
	}

	return &Promoter{
		records: records,
		scorer:  scorer,
		cfg:     cfg,
		logger:  cfg.Logger,
	}, nil
}

// Lookup returns the recorded promotion for an idempotency key, if
// any. Callers check this before re-scoring a replayed request: the
// original item is in the novelty index by then and would score as a
// near-duplicate of itself.
func (p *Promoter) Lookup(idempotencyKey string) (PromotionResult, bool) {
	if idempotencyKey == "" {
		return PromotionResult{}, false
	}
	existing, ok := p.records.Get(idempotencyKey)
	if !ok {
		return PromotionResult{}, false
	}
	return PromotionResult{ID: existing.ID, Status: StatusDuplicate}, true
}

// Promote records a promotion for the item. The first call with a key
// creates the promotion; any replay returns the same id marked
// duplicate. A failed downstream publish releases the key so the
// caller can safely retry.
func (p *Promoter) Promote(ctx context.Context, item Item, scores Scores, idempotencyKey string) (PromotionResult, error) {
	if idempotencyKey == "" {
		return PromotionResult{}, errors.WrapInvalid(
			errors.ErrMissingIdempotencyKey, "triage", "Promote", "check request")
	}

	p.mu.Lock()
	if existing, ok := p.records.Get(idempotencyKey); ok {
		p.mu.Unlock()
		p.recordMetric(StatusDuplicate)
		p.logger.Info("promotion replayed", "id", existing.ID, "idempotency_key", idempotencyKey)
		return PromotionResult{ID: existing.ID, Status: StatusDuplicate}, nil
	}

	result := PromotionResult{ID: uuid.NewString(), Status: StatusCreated}
	if _, err := p.records.Set(idempotencyKey, result); err != nil {
		p.mu.Unlock()
		return PromotionResult{}, errors.Wrap(err, "triage", "Promote", "record promotion")
	}
	p.mu.Unlock()

	if p.cfg.Publisher != nil {
		err := p.cfg.Publisher.PublishPromotion(ctx, events.PromotionEvent{
			ID:             result.ID,
			Title:          item.Title,
			Summary:        item.Summary,
			Source:         item.Source,
			ProfileFit:     scores.ProfileFit,
			Novelty:        scores.Novelty,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			_, _ = p.records.Delete(idempotencyKey)
			p.recordMetric("failed")
			return PromotionResult{}, errors.WrapTransient(
				errors.ErrPromotionFailed, "triage", "Promote", "publish promotion event")
		}
	}

	p.scorer.RegisterPromoted(ctx, item)
	p.recordMetric(StatusCreated)
	p.logger.Info("item promoted", "id", result.ID, "title", item.Title)
	return result, nil
}

func (p *Promoter) recordMetric(status string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordPromotion(status)
	}
}

// Close releases the idempotency record cache.
func (p *Promoter) Close() error {
	return p.records.Close()
}
