// Package triage pre-screens harvested candidate items before they
// enter the main workflow. Each item is scored for profile fit
// (against a profile rule collection, using the same retrieval and
// rule application machinery as validation) and novelty (similarity
// to previously promoted items). Accepted items are promoted
// idempotently downstream.
package triage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/rulegate/breaker"
	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/pkg/embedding"
	"github.com/c360/rulegate/rulestore"
	"github.com/c360/rulegate/validation"
)

// Item is a harvested candidate awaiting a triage decision.
type Item struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Source  string `json:"source,omitempty"`
}

// Scores holds the two triage signals for an item.
type Scores struct {
	ProfileFit float64 `json:"profile_fit_score"`
	Novelty    float64 `json:"novelty_score"`
}

// Decision is the triage outcome for an item.
type Decision string

const (
	// Promote accepts the item into the main workflow.
	Promote Decision = "promote"
	// Reject discards the item.
	Reject Decision = "reject"
)

// Thresholds configure the decision rule.
type Thresholds struct {
	// MinProfileFit is the minimum profile fit score (default: 0.7).
	MinProfileFit float64

	// MinDissimilarity is the minimum 1-novelty value (default: 0.8),
	// i.e. the item must be sufficiently unlike anything already
	// promoted.
	MinDissimilarity float64
}

// Decide applies the decision rule: promote iff the item fits the
// profile and is sufficiently novel.
func Decide(scores Scores, thresholds Thresholds) Decision {
	if thresholds.MinProfileFit == 0 {
		thresholds.MinProfileFit = 0.7
	}
	if thresholds.MinDissimilarity == 0 {
		thresholds.MinDissimilarity = 0.8
	}

	if scores.ProfileFit >= thresholds.MinProfileFit &&
		(1-scores.Novelty) >= thresholds.MinDissimilarity {
		return Promote
	}
	return Reject
}

// ScorerConfig configures a Scorer.
type ScorerConfig struct {
	// ProfileTopK is how many profile rules to score against
	// (default: 8).
	ProfileTopK int

	// SimilarityFloor excludes weak profile rule matches (default: 0.15).
	SimilarityFloor float64

	// Embedder refines novelty with vector similarity (optional; token
	// set similarity alone is used without it).
	Embedder embedding.Embedder

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records triage counters (optional).
	Metrics *metric.Metrics
}

// promotedEntry is one previously promoted item in the novelty index.
type promotedEntry struct {
	text   string
	vector []float32
}

// Scorer computes profile fit and novelty scores. Profile fit goes
// through the shared circuit breaker like every other store call.
type Scorer struct {
	profileStore rulestore.Store
	breaker      *breaker.Breaker
	cfg          ScorerConfig
	logger       *slog.Logger

	mu       sync.RWMutex
	promoted []promotedEntry
}

// NewScorer creates a scorer over a profile rule collection.
func NewScorer(profileStore rulestore.Store, brk *breaker.Breaker, cfg ScorerConfig) (*Scorer, error) {
	if profileStore == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "triage", "NewScorer", "profile store is required")
	}
	if brk == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "triage", "NewScorer", "breaker is required")
	}
	if cfg.ProfileTopK <= 0 {
		cfg.ProfileTopK = 8
	}
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = 0.15
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scorer{
		profileStore: profileStore,
		breaker:      brk,
		cfg:          cfg,
		logger:       cfg.Logger,
	}, nil
}

// Score computes both triage signals for an item.
func (s *Scorer) Score(ctx context.Context, item Item) (Scores, error) {
	fit, err := s.ProfileFit(ctx, item.Summary)
	if err != nil {
		return Scores{}, err
	}

	novelty, err := s.NoveltyScore(ctx, item.Title, item.Summary)
	if err != nil {
		return Scores{}, err
	}

	return Scores{ProfileFit: fit, Novelty: novelty}, nil
}

// ProfileFit scores a summary against the profile rule collection by
// running it through the shared rule application machinery.
func (s *Scorer) ProfileFit(ctx context.Context, summary string) (float64, error) {
	if summary == "" {
		return 0, errors.WrapInvalid(errors.ErrMissingContent, "triage", "ProfileFit", "summary is required")
	}

	var rules []rulestore.ScoredRule
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		fetched, err := s.profileStore.Fetch(ctx, rulestore.Query{
			Content: summary,
			TopK:    s.cfg.ProfileTopK,
		})
		if err != nil {
			return err
		}
		rules = fetched
		return nil
	})
	if err != nil {
		if errors.IsTransient(err) {
			return 0, errors.WrapTransient(
				errors.ErrDependencyUnavailable, "triage", "ProfileFit", "profile store unavailable")
		}
		return 0, err
	}

	applied, _, score := validation.Apply(summary, rules, s.cfg.SimilarityFloor, s.cfg.ProfileTopK, s.logger)
	if len(applied) == 0 {
		// An empty applied set means no rule fired, which is a perfect
		// score for validation but the opposite for fit: nothing in
		// the profile matched this item.
		return 0, nil
	}
	return score, nil
}

// NoveltyScore measures how similar an item is to previously promoted
// items: the maximum of token-set and embedding similarity over the
// promoted index. 0 means entirely novel, 1 means already seen.
func (s *Scorer) NoveltyScore(ctx context.Context, title, summary string) (float64, error) {
	text := title
	if summary != "" {
		text = title + " " + summary
	}
	if text == "" {
		return 0, errors.WrapInvalid(errors.ErrMissingContent, "triage", "NoveltyScore", "title or summary required")
	}

	s.mu.RLock()
	promoted := make([]promotedEntry, len(s.promoted))
	copy(promoted, s.promoted)
	s.mu.RUnlock()

	if len(promoted) == 0 {
		return 0, nil
	}

	var vector []float32
	if s.cfg.Embedder != nil {
		vectors, err := s.cfg.Embedder.Generate(ctx, []string{text})
		if err != nil {
			// Fall back to lexical similarity alone.
			s.logger.Warn("novelty embedding failed, using token similarity only", "error", err)
		} else if len(vectors) == 1 {
			vector = vectors[0]
		}
	}

	maxSimilarity := 0.0
	for _, entry := range promoted {
		similarity := embedding.TokenSetSimilarity(text, entry.text)
		if vector != nil && entry.vector != nil {
			if cos := embedding.CosineSimilarity(vector, entry.vector); cos > similarity {
				similarity = cos
			}
		}
		if similarity > maxSimilarity {
			maxSimilarity = similarity
		}
	}

	if maxSimilarity < 0 {
		maxSimilarity = 0
	}
	if maxSimilarity > 1 {
		maxSimilarity = 1
	}
	return maxSimilarity, nil
}

// RegisterPromoted adds a promoted item to the novelty index so future
// candidates are scored against it.
func (s *Scorer) RegisterPromoted(ctx context.Context, item Item) {
	text := item.Title
	if item.Summary != "" {
		text = item.Title + " " + item.Summary
	}

	entry := promotedEntry{text: text}
	if s.cfg.Embedder != nil {
		if vectors, err := s.cfg.Embedder.Generate(ctx, []string{text}); err == nil && len(vectors) == 1 {
			entry.vector = vectors[0]
		}
	}

	s.mu.Lock()
	s.promoted = append(s.promoted, entry)
	s.mu.Unlock()
}

// PromotedCount returns the size of the novelty index.
func (s *Scorer) PromotedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.promoted)
}
