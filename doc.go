// Package rulegate implements a rules and validation service backed by
// a vector store.
//
// Content validation retrieves the most relevant rules for a payload
// from a Chroma collection and applies them at one of two depths:
// selective (a fast 3-4 rule check) or comprehensive (the
// authoritative 8-12 rule gate). A shared three-state circuit breaker
// guards every store call; while the breaker is open, previously
// computed results are served from a provenance-tagged cache and
// annotated so clients can detect degraded operation. When neither the
// store nor the cache can answer, the service says so explicitly; it
// never fabricates a rule set.
//
// The triage layer pre-screens harvested candidate items by profile
// fit and novelty before promoting them, idempotently, into the main
// workflow.
//
// Layout:
//   - rulestore: Chroma query adapter with error classification
//   - validation: modes, strategies, rule matchers, scoring
//   - breaker: the circuit breaker
//   - rulecache: the provenance-tagged result cache
//   - triage: scoring, decision rule, idempotent promotion
//   - server: the HTTP API
//   - pkg/cache, pkg/embedding, pkg/retry: reusable infrastructure
package rulegate
