package embedding

import (
	"context"
	"fmt"

	"github.com/c360/rulegate/pkg/cache"
)

// MemoCache adapts an in-process LRU cache to the embedding Cache
// interface. It avoids repeated API calls for texts the service sees
// often, such as rule bodies and promoted topic summaries.
type MemoCache struct {
	inner cache.Cache[[]float32]
}

// NewMemoCache creates a memo cache bounded to maxEntries embeddings.
func NewMemoCache(maxEntries int) (*MemoCache, error) {
	inner, err := cache.NewLRU[[]float32](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoCache{inner: inner}, nil
}

// Get retrieves a cached embedding by content hash.
func (m *MemoCache) Get(_ context.Context, contentHash string) ([]float32, error) {
	embedding, ok := m.inner.Get(contentHash)
	if !ok {
		return nil, fmt.Errorf("cache miss for %s", contentHash)
	}
	return embedding, nil
}

// Put stores an embedding under the given content hash.
func (m *MemoCache) Put(_ context.Context, contentHash string, embedding []float32) error {
	_, err := m.inner.Set(contentHash, embedding)
	return err
}

// Close releases the underlying cache.
func (m *MemoCache) Close() error {
	return m.inner.Close()
}
