package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
)

// HTTPEmbedder calls an external OpenAI-compatible embedding service.
//
// Works with Hugging Face TEI, LocalAI, OpenAI, or any service speaking
// the OpenAI embeddings API. Uses the standard OpenAI SDK.
type HTTPEmbedder struct {
	client *openai.Client
	model  string
	cache  Cache
	logger *slog.Logger

	// Dimensions are detected from the first API response; atomics so
	// concurrent Generate calls never race the detection.
	detectOnce sync.Once
	dims       atomic.Int64
}

// HTTPConfig configures the HTTP embedder.
type HTTPConfig struct {
	// BaseURL is the base URL of the embedding service, e.g.
	// "http://localhost:8082" for TEI or "https://api.openai.com/v1".
	BaseURL string

	// Model is the embedding model, e.g. "all-MiniLM-L6-v2".
	Model string

	// APIKey for authentication. Optional for local services.
	APIKey string

	// Timeout for HTTP requests (default: 30s).
	Timeout time.Duration

	// Cache memoizes embeddings by content hash (optional).
	Cache Cache

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewHTTPEmbedder creates a new HTTP-based embedder.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy-key" // local services don't check it
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		cache:  cfg.Cache,
		logger: logger,
	}
	h.dims.Store(384)
	return h, nil
}

// Generate creates embeddings, consulting the memo cache first and
// calling the API only for misses.
func (h *HTTPEmbedder) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, len(texts))
	var missIndexes []int
	var missTexts []string

	if h.cache != nil {
		for i, text := range texts {
			if cached, err := h.cache.Get(ctx, ContentHash(text)); err == nil {
				embeddings[i] = cached
			} else {
				missIndexes = append(missIndexes, i)
				missTexts = append(missTexts, text)
			}
		}
	} else {
		missIndexes = make([]int, len(texts))
		for i := range texts {
			missIndexes[i] = i
		}
		missTexts = texts
	}

	if len(missTexts) == 0 {
		return embeddings, nil
	}

	resp, err := h.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: missTexts,
		Model: openai.EmbeddingModel(h.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API call failed: %w", err)
	}

	if len(resp.Data) != len(missTexts) {
		return nil, fmt.Errorf("API returned %d embeddings for %d texts", len(resp.Data), len(missTexts))
	}

	h.detectOnce.Do(func() {
		if len(resp.Data[0].Embedding) > 0 {
			h.dims.Store(int64(len(resp.Data[0].Embedding)))
		}
	})

	for i, data := range resp.Data {
		embeddings[missIndexes[i]] = data.Embedding

		if h.cache != nil {
			hash := ContentHash(missTexts[i])
			if err := h.cache.Put(ctx, hash, data.Embedding); err != nil {
				// Cache is best-effort.
				h.logger.Warn("embedding cache put failed", "hash", hash, "error", err)
			}
		}
	}

	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings produced.
func (h *HTTPEmbedder) Dimensions() int {
	return int(h.dims.Load())
}

// Model returns the model identifier.
func (h *HTTPEmbedder) Model() string {
	return h.model
}

// Close releases resources (no-op for HTTP client).
func (h *HTTPEmbedder) Close() error {
	return nil
}
