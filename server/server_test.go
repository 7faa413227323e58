package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulegate/breaker"
	"github.com/c360/rulegate/config"
	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/rulecache"
	"github.com/c360/rulegate/rulestore"
	"github.com/c360/rulegate/triage"
	"github.com/c360/rulegate/validation"
)

// fakeStore serves canned rules or a canned error, switchable mid-test.
type fakeStore struct {
	rules []rulestore.ScoredRule
	err   error
	calls int
}

func (f *fakeStore) Fetch(_ context.Context, q rulestore.Query) ([]rulestore.ScoredRule, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.rules) > q.TopK {
		return f.rules[:q.TopK], nil
	}
	return f.rules, nil
}

func scoredRules(n int, similarity float64) []rulestore.ScoredRule {
	rules := make([]rulestore.ScoredRule, n)
	for i := range rules {
		rules[i] = rulestore.ScoredRule{
			Rule: rulestore.Rule{
				ID:   fmt.Sprintf("rule-%02d", i),
				Text: fmt.Sprintf("guideline %d", i),
			},
			Similarity: similarity,
		}
	}
	return rules
}

type testHarness struct {
	server  *httptest.Server
	rules   *fakeStore
	profile *fakeStore
	breaker *breaker.Breaker
	cache   *rulecache.ResultCache[validation.Result]
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	rules := &fakeStore{rules: scoredRules(12, 0.9)}
	profile := &fakeStore{rules: scoredRules(8, 0.9)}

	brk := breaker.New(breaker.Config{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
	})

	resultCache, err := rulecache.New[validation.Result](context.Background(), rulecache.Config{
		MaxEntries: 64,
		TTL:        time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resultCache.Close() })

	validator, err := validation.NewValidator(rules, brk, resultCache, validation.Config{})
	require.NoError(t, err)

	scorer, err := triage.NewScorer(profile, brk, triage.ScorerConfig{})
	require.NoError(t, err)

	promoter, err := triage.NewPromoter(context.Background(), scorer, triage.PromoterConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = promoter.Close() })

	srv, err := New(config.ServerConfig{Port: 8080}, Dependencies{
		Validator: validator,
		Scorer:    scorer,
		Promoter:  promoter,
		Cache:     resultCache,
		Breaker:   brk,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testHarness{
		server:  ts,
		rules:   rules,
		profile: profile,
		breaker: brk,
		cache:   resultCache,
	}
}

func (h *testHarness) post(t *testing.T, path, body string, headers map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (h *testHarness) get(t *testing.T, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func rulesAppliedCount(t *testing.T, body map[string]json.RawMessage) int {
	t.Helper()
	var applied []json.RawMessage
	require.NoError(t, json.Unmarshal(body["rules_applied"], &applied))
	return len(applied)
}

func TestServer_ValidateCardinality(t *testing.T) {
	h := newTestHarness(t)
	body := `{"content": "Test AI article about technology", "platform": "linkedin"}`

	resp, decoded := h.post(t, "/validate/comprehensive", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count := rulesAppliedCount(t, decoded)
	assert.GreaterOrEqual(t, count, 8)
	assert.LessOrEqual(t, count, 12)
	assert.JSONEq(t, `"chromadb"`, string(decoded["provenance"]))

	resp, decoded = h.post(t, "/validate/selective", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count = rulesAppliedCount(t, decoded)
	assert.GreaterOrEqual(t, count, 3)
	assert.LessOrEqual(t, count, 4)
}

func TestServer_ValidateRejectsMissingFields(t *testing.T) {
	h := newTestHarness(t)

	resp, _ := h.post(t, "/validate/selective", `{"platform": "linkedin"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = h.post(t, "/validate/selective", `{"content": "hello"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = h.post(t, "/validate/selective", `{"content": `, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_OutageScenario(t *testing.T) {
	h := newTestHarness(t)
	cachedBody := `{"content": "Test AI article about technology", "platform": "linkedin"}`

	// Seed the cache with a healthy call.
	resp, _ := h.post(t, "/validate/selective", cachedBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Store failures below the open threshold surface as 503: the
	// breaker is still closed, so the cache stays out of the picture.
	h.rules.err = errors.ErrStoreUnavailable
	for range 4 {
		resp, _ := h.post(t, "/validate/selective", cachedBody, nil)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	}

	// The fifth consecutive failure opens the breaker; from here the
	// cached key serves with cache provenance.
	resp, decoded := h.post(t, "/validate/selective", cachedBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"cache"`, string(decoded["provenance"]))

	resp, decoded = h.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"open"`, string(decoded["circuit_breaker_state"]))
	assert.JSONEq(t, `false`, string(decoded["store_reachable"]))

	// Cached key: 200 with cache provenance. Uncached key: 503 with
	// Retry-After, never a fabricated rule set.
	resp, decoded = h.post(t, "/validate/selective", cachedBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"cache"`, string(decoded["provenance"]))

	resp, _ = h.post(t, "/validate/selective", `{"content": "never seen before", "platform": "linkedin"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestServer_CacheDumpOriginInvariant(t *testing.T) {
	h := newTestHarness(t)
	body := `{"content": "Test AI article about technology", "platform": "linkedin"}`

	resp, _ := h.post(t, "/validate/selective", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Run the outage long enough to open the breaker and serve the
	// entry from cache; its stored origin must not change.
	h.rules.err = errors.ErrStoreUnavailable
	for range 6 {
		_, _ = h.post(t, "/validate/selective", body, nil)
	}

	resp, decoded := h.get(t, "/cache/dump")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []struct {
		Origin string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(decoded["entries"], &entries))
	require.NotEmpty(t, entries)
	for _, entry := range entries {
		assert.Equal(t, "chromadb", entry.Origin)
	}
}

func TestServer_HealthHealthy(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"closed"`, string(decoded["circuit_breaker_state"]))
	assert.JSONEq(t, `true`, string(decoded["store_reachable"]))
}

func TestServer_ProfileScore(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.post(t, "/profile/score", `{"summary": "quarterly platform strategy recap"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fit float64
	require.NoError(t, json.Unmarshal(decoded["profile_fit_score"], &fit))
	assert.Equal(t, 1.0, fit)

	resp, _ = h.post(t, "/profile/score", `{"summary": ""}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_NoveltyCheck(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.post(t, "/topics/novelty-check", `{"title": "edge inference", "summary": "running models on-device"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var novelty float64
	require.NoError(t, json.Unmarshal(decoded["novelty_score"], &novelty))
	assert.Equal(t, 0.0, novelty)
}

func TestServer_SuggestionIdempotent(t *testing.T) {
	h := newTestHarness(t)
	body := `{"title": "edge inference", "summary": "running models on-device", "source": "feed"}`
	headers := map[string]string{"Idempotency-Key": "key-001"}

	resp, decoded := h.post(t, "/topics/suggestion", body, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `"created"`, string(decoded["status"]))

	var firstID string
	require.NoError(t, json.Unmarshal(decoded["id"], &firstID))
	require.NotEmpty(t, firstID)

	// Replaying the key returns the same id marked duplicate, even
	// though the item now matches itself in the novelty index.
	resp, decoded = h.post(t, "/topics/suggestion", body, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"duplicate"`, string(decoded["status"]))

	var secondID string
	require.NoError(t, json.Unmarshal(decoded["id"], &secondID))
	assert.Equal(t, firstID, secondID)
}

func TestServer_SuggestionRequiresIdempotencyKey(t *testing.T) {
	h := newTestHarness(t)

	resp, _ := h.post(t, "/topics/suggestion", `{"title": "x", "summary": "y"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SuggestionRejectsDuplicateContent(t *testing.T) {
	h := newTestHarness(t)
	body := `{"title": "edge inference", "summary": "running models on-device"}`

	resp, _ := h.post(t, "/topics/suggestion", body, map[string]string{"Idempotency-Key": "key-a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same content under a fresh key is near-identical to the promoted
	// item and fails the novelty threshold.
	resp, decoded := h.post(t, "/topics/suggestion", body, map[string]string{"Idempotency-Key": "key-b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"rejected"`, string(decoded["status"]))
}

func TestServer_RequestIDHeader(t *testing.T) {
	h := newTestHarness(t)

	resp, _ := h.get(t, "/health")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "caller-supplied")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "caller-supplied", resp.Header.Get("X-Request-ID"))
}
