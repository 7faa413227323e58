package rulestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulegate/errors"
)

// stubEmbedder returns a fixed vector for any input.
type stubEmbedder struct{}

func (stubEmbedder) Generate(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (stubEmbedder) Dimensions() int { return 3 }
func (stubEmbedder) Model() string   { return "stub" }
func (stubEmbedder) Close() error    { return nil }

func newTestStore(t *testing.T, handler http.HandlerFunc) (*ChromaStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := NewChromaStore(ChromaConfig{
		BaseURL:    server.URL,
		Collection: "rules",
		Timeout:    time.Second,
		Embedder:   stubEmbedder{},
	})
	require.NoError(t, err)
	return store, server
}

func chromaResponse(ids []string, docs []string, distances []float64, metas []map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"ids":       [][]string{ids},
		"documents": [][]string{docs},
		"distances": [][]float64{distances},
		"metadatas": [][]map[string]any{metas},
	})
	return body
}

func TestFetch_ReturnsOrderedScoredRules(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/collections/rules/query", r.URL.Path)

		var req chromaQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 4, req.NResults)
		assert.Len(t, req.QueryEmbeddings, 1)

		_, _ = w.Write(chromaResponse(
			[]string{"rule-b", "rule-a", "rule-c"},
			[]string{"no clickbait", "cite sources", "stay on brand"},
			[]float64{0.2, 0.2, 0.5},
			[]map[string]any{
				{"platform": "linkedin", "category": "tone"},
				{"platform": "linkedin"},
				{},
			},
		))
	})

	rules, err := store.Fetch(context.Background(), Query{
		Content:  "Test AI article about technology",
		Platform: "linkedin",
		TopK:     4,
	})
	require.NoError(t, err)
	require.Len(t, rules, 3)

	// Equal similarity breaks ties by rule id ascending.
	assert.Equal(t, "rule-a", rules[0].Rule.ID)
	assert.Equal(t, "rule-b", rules[1].Rule.ID)
	assert.Equal(t, "rule-c", rules[2].Rule.ID)

	assert.InDelta(t, 0.8, rules[0].Similarity, 0.0001)
	assert.InDelta(t, 0.5, rules[2].Similarity, 0.0001)

	assert.Equal(t, "tone", rules[1].Rule.Category)
	assert.Equal(t, "linkedin", rules[1].Rule.Platform)
}

func TestFetch_DeterministicAcrossCalls(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(chromaResponse(
			[]string{"r2", "r1", "r3"},
			[]string{"b", "a", "c"},
			[]float64{0.1, 0.1, 0.1},
			nil,
		))
	})

	first, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 3})
	require.NoError(t, err)
	second, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "r1", first[0].Rule.ID)
}

func TestFetch_ServerErrorIsUnavailable(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 4})
	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
	assert.True(t, errors.IsTransient(err))
}

func TestFetch_ConnectionRefusedIsUnavailable(t *testing.T) {
	store, server := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {})
	server.Close()

	_, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 4})
	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
}

func TestFetch_MalformedResponseIsStoreResponse(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 4})
	assert.ErrorIs(t, err, errors.ErrStoreResponse)
	assert.False(t, errors.IsTransient(err), "malformed responses must not count against the breaker")
}

func TestFetch_ClientErrorIsStoreResponse(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad filter"}`))
	})

	_, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 4})
	assert.ErrorIs(t, err, errors.ErrStoreResponse)
}

func TestFetch_MismatchedLengthsIsStoreResponse(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(chromaResponse(
			[]string{"r1", "r2"},
			[]string{"only one doc"},
			[]float64{0.1, 0.2},
			nil,
		))
	})

	_, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 4})
	assert.ErrorIs(t, err, errors.ErrStoreResponse)
}

func TestFetch_InputValidation(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {})

	_, err := store.Fetch(context.Background(), Query{Content: "", TopK: 4})
	assert.ErrorIs(t, err, errors.ErrMissingContent)

	_, err = store.Fetch(context.Background(), Query{Content: "x", TopK: 0})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestFetch_EmptyResult(t *testing.T) {
	store, _ := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ids":[],"documents":[],"distances":[],"metadatas":[]}`))
	})

	rules, err := store.Fetch(context.Background(), Query{Content: "x", TopK: 4})
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestWhereClause(t *testing.T) {
	assert.Nil(t, whereClause(Query{}))

	assert.Equal(t,
		map[string]any{"platform": "linkedin"},
		whereClause(Query{Platform: "linkedin"}))

	both := whereClause(Query{Platform: "linkedin", Category: "tone"})
	assert.Equal(t, map[string]any{"$and": []map[string]any{
		{"platform": "linkedin"},
		{"category": "tone"},
	}}, both)
}

func TestNewChromaStore_Validation(t *testing.T) {
	_, err := NewChromaStore(ChromaConfig{Collection: "rules", Embedder: stubEmbedder{}})
	assert.Error(t, err)

	_, err = NewChromaStore(ChromaConfig{BaseURL: "http://x", Embedder: stubEmbedder{}})
	assert.Error(t, err)

	_, err = NewChromaStore(ChromaConfig{BaseURL: "http://x", Collection: "rules"})
	assert.Error(t, err)
}
