package rulestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/pkg/embedding"
)

// maxResponseBytes bounds store response bodies.
const maxResponseBytes = 4 << 20

// ChromaStore queries a Chroma collection over HTTP.
//
// Error classification matters downstream: network and timeout
// failures surface as ErrStoreUnavailable (counted by the breaker),
// malformed responses as ErrStoreResponse (a data bug, never counted).
type ChromaStore struct {
	baseURL    string
	collection string
	client     *http.Client
	embedder   embedding.Embedder
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// ChromaConfig configures the Chroma store adapter.
type ChromaConfig struct {
	// BaseURL is the Chroma server root, e.g. "http://localhost:8000".
	BaseURL string

	// Collection is the rule collection to query.
	Collection string

	// Timeout bounds each query (default: 3s).
	Timeout time.Duration

	// Embedder produces the query embedding for the content payload.
	Embedder embedding.Embedder

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records store request/error counters (optional).
	Metrics *metric.Metrics
}

// NewChromaStore creates a Chroma-backed rule store.
func NewChromaStore(cfg ChromaConfig) (*ChromaStore, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "rulestore", "NewChromaStore", "base URL is required")
	}
	if cfg.Collection == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "rulestore", "NewChromaStore", "collection is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "rulestore", "NewChromaStore", "embedder is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ChromaStore{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		embedder:   cfg.Embedder,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// chromaQuery is the Chroma query request body.
type chromaQuery struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include"`
}

// chromaResult is the Chroma query response body. Chroma returns one
// inner slice per query embedding; we always send exactly one.
type chromaResult struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

// Fetch retrieves up to query.TopK rules ranked by similarity to the
// query content. Results are ordered by (similarity desc, rule id asc).
func (s *ChromaStore) Fetch(ctx context.Context, query Query) ([]ScoredRule, error) {
	if query.Content == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingContent, "rulestore", "Fetch", "content is required")
	}
	if query.TopK <= 0 {
		return nil, errors.WrapInvalid(errors.ErrValidation, "rulestore", "Fetch", "top_k must be positive")
	}

	if s.metrics != nil {
		s.metrics.RecordStoreRequest(s.collection)
	}

	vectors, err := s.embedder.Generate(ctx, []string{query.Content})
	if err != nil {
		return nil, s.unavailable("Fetch", "query embedding", err)
	}

	body, err := json.Marshal(chromaQuery{
		QueryEmbeddings: vectors,
		NResults:        query.TopK,
		Where:           whereClause(query),
		Include:         []string{"documents", "metadatas", "distances"},
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "rulestore", "Fetch", "marshal query")
	}

	url := fmt.Sprintf("%s/api/v1/collections/%s/query", s.baseURL, s.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapInvalid(err, "rulestore", "Fetch", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.unavailable("Fetch", "store query", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, s.unavailable("Fetch", "read response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, s.unavailable("Fetch", "store query",
			fmt.Errorf("store returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, s.malformed("Fetch",
			fmt.Errorf("store returned status %d: %s", resp.StatusCode, truncate(data, 256)))
	}

	var result chromaResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, s.malformed("Fetch", fmt.Errorf("decode response: %w", err))
	}

	rules, err := s.toScoredRules(result)
	if err != nil {
		return nil, err
	}

	sortRules(rules)
	return rules, nil
}

// toScoredRules converts a Chroma result into scored rules. Chroma
// reports distances; similarity is 1 - distance, clamped to [0, 1].
func (s *ChromaStore) toScoredRules(result chromaResult) ([]ScoredRule, error) {
	if len(result.IDs) == 0 {
		return []ScoredRule{}, nil
	}

	ids := result.IDs[0]
	if len(result.Documents) == 0 || len(result.Distances) == 0 ||
		len(result.Documents[0]) != len(ids) || len(result.Distances[0]) != len(ids) {
		return nil, s.malformed("Fetch", fmt.Errorf("mismatched result lengths"))
	}

	var metadatas []map[string]any
	if len(result.Metadatas) > 0 {
		metadatas = result.Metadatas[0]
	}

	rules := make([]ScoredRule, 0, len(ids))
	for i, id := range ids {
		if id == "" {
			return nil, s.malformed("Fetch", fmt.Errorf("rule %d has empty id", i))
		}

		rule := Rule{ID: id, Text: result.Documents[0][i]}
		if i < len(metadatas) {
			rule.Category = stringField(metadatas[i], "category")
			rule.Platform = stringField(metadatas[i], "platform")
			rule.EmbeddingRef = stringField(metadatas[i], "embedding_ref")
		}

		similarity := 1.0 - result.Distances[0][i]
		if similarity < 0 {
			similarity = 0
		}
		if similarity > 1 {
			similarity = 1
		}

		rules = append(rules, ScoredRule{Rule: rule, Similarity: similarity})
	}

	return rules, nil
}

func (s *ChromaStore) unavailable(op, action string, cause error) error {
	if s.metrics != nil {
		s.metrics.RecordStoreError(s.collection, "unavailable")
	}
	s.logger.Warn("rule store unavailable", "operation", op, "action", action, "error", cause)
	return errors.WrapTransient(
		fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, cause), "rulestore", op, action)
}

func (s *ChromaStore) malformed(op string, cause error) error {
	if s.metrics != nil {
		s.metrics.RecordStoreError(s.collection, "malformed")
	}
	s.logger.Error("rule store returned malformed response", "operation", op, "error", cause)
	return errors.WrapInvalid(
		fmt.Errorf("%w: %v", errors.ErrStoreResponse, cause), "rulestore", op, "parse store response")
}

// whereClause builds the Chroma metadata filter for a query.
func whereClause(query Query) map[string]any {
	var clauses []map[string]any
	if query.Platform != "" {
		clauses = append(clauses, map[string]any{"platform": query.Platform})
	}
	if query.Category != "" {
		clauses = append(clauses, map[string]any{"category": query.Category})
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return map[string]any{"$and": clauses}
	}
}

// sortRules orders by similarity descending, rule id ascending.
func sortRules(rules []ScoredRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Similarity != rules[j].Similarity {
			return rules[i].Similarity > rules[j].Similarity
		}
		return rules[i].Rule.ID < rules[j].Rule.ID
	})
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
