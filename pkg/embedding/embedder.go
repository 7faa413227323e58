// Package embedding generates vector embeddings for rule retrieval and
// novelty scoring.
//
// The primary implementation calls an OpenAI-compatible HTTP service;
// a lexical fallback is available when no neural service is reachable.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Embedder generates vector embeddings for text.
//
// All implementations support batch operations natively, following
// OpenAI API patterns. For single text, pass a slice with one element.
type Embedder interface {
	// Generate creates embeddings for the given texts. Each inner slice
	// is one embedding vector, in input order.
	Generate(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced embeddings.
	Dimensions() int

	// Model returns the model identifier used by this embedder.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

// Cache provides content-addressed caching for embeddings. Keys are
// hashes of the text content so identical inputs deduplicate.
type Cache interface {
	// Get retrieves a cached embedding for the given content hash.
	Get(ctx context.Context, contentHash string) ([]float32, error)

	// Put stores an embedding under the given content hash.
	Put(ctx context.Context, contentHash string, embedding []float32) error
}

// ContentHash returns the SHA-256 hex digest of text, used as the
// content-addressed cache key throughout the codebase.
func ContentHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
