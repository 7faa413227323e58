package validation

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/rulegate/breaker"
	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/pkg/embedding"
	"github.com/c360/rulegate/rulecache"
	"github.com/c360/rulegate/rulestore"
)

// Provenance values for validation results.
const (
	// ProvenanceStore marks a result built from a live store query.
	ProvenanceStore = "chromadb"
	// ProvenanceCache marks a last-known-good result served while the
	// breaker is not closed.
	ProvenanceCache = "cache"
)

// Violation is one rule that fired against the content.
type Violation struct {
	RuleID      string `json:"rule_id"`
	Explanation string `json:"explanation"`
}

// Result is the outcome of validating one content payload.
type Result struct {
	Fingerprint  string                 `json:"content_fingerprint"`
	Platform     string                 `json:"platform"`
	Mode         Mode                   `json:"mode"`
	RulesApplied []rulestore.ScoredRule `json:"rules_applied"`
	Violations   []Violation            `json:"violations"`
	Score        float64                `json:"score"`
	Provenance   string                 `json:"provenance"`
}

// Config configures the validator.
type Config struct {
	// SimilarityFloor excludes rules below this similarity from the
	// applied set (default: 0.15). Best effort: fewer rules than the
	// mode window is acceptable, padding with synthetic rules is not.
	SimilarityFloor float64

	// SelectiveTopK is the store top_k for selective mode (default: 4).
	SelectiveTopK int

	// ComprehensiveTopK is the store top_k for comprehensive mode
	// (default: 12).
	ComprehensiveTopK int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records validation counters (optional).
	Metrics *metric.Metrics
}

// Validator runs validation strategies against store-retrieved rules,
// falling back to the provenance-tagged cache when the breaker is not
// letting store calls through.
type Validator struct {
	store   rulestore.Store
	breaker *breaker.Breaker
	cache   *rulecache.ResultCache[Result]
	cfg     Config
	logger  *slog.Logger
}

// NewValidator creates a validator. Store, breaker, and cache are all
// required: the validator never talks to the store except through the
// breaker, and never fabricates results on cache misses.
func NewValidator(store rulestore.Store, brk *breaker.Breaker, resultCache *rulecache.ResultCache[Result], cfg Config) (*Validator, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "validation", "NewValidator", "store is required")
	}
	if brk == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "validation", "NewValidator", "breaker is required")
	}
	if resultCache == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "validation", "NewValidator", "result cache is required")
	}

	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = 0.15
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Validator{
		store:   store,
		breaker: brk,
		cache:   resultCache,
		cfg:     cfg,
		logger:  cfg.Logger,
	}, nil
}

// Validate checks content against the rules for a platform at the
// requested depth.
//
// Malformed input fails with a validation error. Store availability
// failures fall back to the cache once the breaker has left closed; a
// miss there surfaces as ErrDependencyUnavailable. Malformed store
// responses are returned as-is and never open the breaker.
func (v *Validator) Validate(ctx context.Context, content, platform string, mode Mode) (Result, error) {
	start := time.Now()

	if content == "" {
		return Result{}, errors.WrapInvalid(errors.ErrMissingContent, "validation", "Validate", "check request")
	}
	if platform == "" {
		return Result{}, errors.WrapInvalid(errors.ErrMissingPlatform, "validation", "Validate", "check request")
	}

	strategy, err := StrategyFor(mode, v.cfg.SelectiveTopK, v.cfg.ComprehensiveTopK)
	if err != nil {
		return Result{}, err
	}

	fingerprint := embedding.ContentHash(content)
	cacheKey := rulecache.Key(fingerprint, platform, string(mode))

	var rules []rulestore.ScoredRule
	fetchErr := v.breaker.Execute(ctx, func(ctx context.Context) error {
		fetched, err := v.store.Fetch(ctx, rulestore.Query{
			Content:  content,
			Platform: platform,
			TopK:     strategy.TopK(),
		})
		if err != nil {
			return err
		}
		rules = fetched
		return nil
	})

	if fetchErr != nil {
		// Cache fallback only once the breaker has left closed:
		// provenance=cache always means degraded operation. A transient
		// failure below the open threshold surfaces as-is. Malformed
		// store responses and input errors pass through.
		if errors.IsTransient(fetchErr) && v.breaker.Degraded() {
			return v.serveFromCache(cacheKey, mode, start, fetchErr)
		}
		return Result{}, fetchErr
	}

	applied, violations, score := Apply(content, rules, v.cfg.SimilarityFloor, strategy.TopK(), v.logger)

	result := Result{
		Fingerprint:  fingerprint,
		Platform:     platform,
		Mode:         mode,
		RulesApplied: applied,
		Violations:   violations,
		Score:        score,
		Provenance:   ProvenanceStore,
	}

	if err := v.cache.Put(cacheKey, result); err != nil {
		// Cache population is best-effort.
		v.logger.Warn("result cache put failed", "key", cacheKey, "error", err)
	}

	v.observe(mode, ProvenanceStore, len(applied), start)
	return result, nil
}

// serveFromCache returns the last-known-good result for the key, or
// ErrDependencyUnavailable when there is none. It never synthesizes a
// rule set to mask the outage.
func (v *Validator) serveFromCache(cacheKey string, mode Mode, start time.Time, cause error) (Result, error) {
	entry, ok := v.cache.Get(cacheKey)
	if !ok {
		v.logger.Warn("store unavailable and no cached result",
			"mode", string(mode), "cause", cause)
		return Result{}, errors.WrapTransient(
			errors.ErrDependencyUnavailable, "validation", "Validate", "serve degraded")
	}

	result := entry.Value
	result.Provenance = ProvenanceCache

	if v.cfg.Metrics != nil {
		v.cfg.Metrics.RecordStaleServed()
	}
	v.observe(mode, ProvenanceCache, len(result.RulesApplied), start)

	v.logger.Info("served validation result from cache",
		"mode", string(mode), "cached_at", entry.CreatedAt)
	return result, nil
}

func (v *Validator) observe(mode Mode, provenance string, rulesApplied int, start time.Time) {
	if v.cfg.Metrics != nil {
		v.cfg.Metrics.RecordValidation(string(mode), provenance, rulesApplied, time.Since(start))
	}
}

// Apply filters rules by the similarity floor, bounds them to maxRules,
// evaluates each rule's matcher against the content, and computes the
// score 1 - violations/rules_applied clamped to [0, 1].
//
// The triage scorer reuses this machinery for profile-fit scoring so
// rule application logic lives in exactly one place.
func Apply(content string, rules []rulestore.ScoredRule, floor float64, maxRules int, logger *slog.Logger) ([]rulestore.ScoredRule, []Violation, float64) {
	if logger == nil {
		logger = slog.Default()
	}

	applied := make([]rulestore.ScoredRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Similarity < floor {
			continue
		}
		applied = append(applied, rule)
		if maxRules > 0 && len(applied) >= maxRules {
			break
		}
	}

	violations := make([]Violation, 0)
	for _, scored := range applied {
		fired, explanation, err := matcherFor(scored.Rule)(scored.Rule, content)
		if err != nil {
			// A broken matcher is a rule data bug; the rule still
			// counts as applied but cannot fire.
			logger.Warn("rule matcher failed", "rule_id", scored.Rule.ID, "error", err)
			continue
		}
		if fired {
			violations = append(violations, Violation{
				RuleID:      scored.Rule.ID,
				Explanation: explanation,
			})
		}
	}

	score := 1.0
	if len(applied) > 0 {
		score = 1.0 - float64(len(violations))/float64(len(applied))
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return applied, violations, score
}
