// Package rulestore retrieves validation rules from a Chroma vector
// store ranked by semantic similarity to a content payload.
//
// The adapter is a thin I/O boundary: one bounded HTTP call per fetch,
// no retries. Retry policy belongs to the circuit breaker wrapping it.
package rulestore

import "context"

// Rule is a single validation rule. Rules are written by an external
// ingestion process and are read-only here.
type Rule struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Category     string `json:"category,omitempty"`
	Platform     string `json:"platform,omitempty"`
	EmbeddingRef string `json:"embedding_ref,omitempty"`
}

// ScoredRule pairs a rule with its similarity to the query content.
type ScoredRule struct {
	Rule       Rule    `json:"rule"`
	Similarity float64 `json:"similarity"`
}

// Query describes one retrieval request against a rule collection.
type Query struct {
	// Content is the text to match rules against.
	Content string

	// Platform restricts results to rules for one platform, if set.
	Platform string

	// Category restricts results to one rule category, if set.
	Category string

	// TopK is the maximum number of rules to return.
	TopK int
}

// Store is the retrieval contract consumed by the validation and
// triage layers. Implementations must return rules ordered by
// (similarity desc, rule id asc) so results are deterministic for the
// same input and store state.
type Store interface {
	Fetch(ctx context.Context, query Query) ([]ScoredRule, error)
}
