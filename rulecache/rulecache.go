// Package rulecache is the provenance-tagged result cache backing
// degraded operation while the rule store circuit breaker is open.
//
// Entries are created only from successful store-backed results; the
// origin tag is fixed at "chromadb" forever. A hit served during an
// outage is annotated provenance=cache by the caller, never re-tagged
// here. The cache itself must never be seeded with fabricated results.
package rulecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/c360/rulegate/errors"
	"github.com/c360/rulegate/metric"
	"github.com/c360/rulegate/pkg/cache"
)

// OriginStore is the only origin a cache entry can carry.
const OriginStore = "chromadb"

// Entry is one cached result with its provenance metadata.
type Entry[V any] struct {
	Key       string    `json:"key"`
	Value     V         `json:"value"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResultCache stores store-backed results keyed by content fingerprint,
// platform, and mode. Eviction is TTL plus LRU beyond the size bound.
type ResultCache[V any] struct {
	inner cache.Cache[Entry[V]]
	ttl   time.Duration
}

// Config configures a result cache.
type Config struct {
	// MaxEntries bounds the cache size (default: 1024).
	MaxEntries int

	// TTL is the entry lifetime (default: 15m).
	TTL time.Duration

	// SweepInterval is how often expired entries are swept (default: 1m).
	SweepInterval time.Duration

	// Metrics exports hit/miss/eviction counters under the given
	// component name (optional).
	Metrics *metric.Registry

	// MetricsName is the component label for exported series
	// (default: "result-cache").
	MetricsName string
}

// New creates a result cache. The background sweep stops when ctx is
// cancelled or Close is called.
func New[V any](ctx context.Context, cfg Config) (*ResultCache[V], error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MetricsName == "" {
		cfg.MetricsName = "result-cache"
	}

	var options []cache.Option[Entry[V]]
	if cfg.Metrics != nil {
		options = append(options, cache.WithMetrics[Entry[V]](cfg.Metrics, cfg.MetricsName))
	}

	inner, err := cache.NewHybrid(ctx, cfg.MaxEntries, cfg.TTL, cfg.SweepInterval, options...)
	if err != nil {
		return nil, errors.Wrap(err, "rulecache", "New", "create cache")
	}

	return &ResultCache[V]{inner: inner, ttl: cfg.TTL}, nil
}

// Key derives the cache key from a content fingerprint, platform, and
// validation mode.
func Key(fingerprint, platform, mode string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", fingerprint, platform, mode)))
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for key, or false on miss or expiry.
func (c *ResultCache[V]) Get(key string) (Entry[V], bool) {
	return c.inner.Get(key)
}

// Put stores a store-backed result. The entry's origin is fixed at
// OriginStore; there is no way to insert any other provenance.
func (c *ResultCache[V]) Put(key string, value V) error {
	now := time.Now()
	entry := Entry[V]{
		Key:       key,
		Value:     value,
		Origin:    OriginStore,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	if _, err := c.inner.Set(key, entry); err != nil {
		return errors.Wrap(err, "rulecache", "Put", "store entry")
	}
	return nil
}

// Dump returns all live entries for the diagnostic endpoint, most
// recently used first.
func (c *ResultCache[V]) Dump() []Entry[V] {
	keys := c.inner.Keys()
	entries := make([]Entry[V], 0, len(keys))
	for _, key := range keys {
		if entry, ok := c.inner.Get(key); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Stats returns a snapshot of cache statistics.
func (c *ResultCache[V]) Stats() cache.Summary {
	return c.inner.Stats().Summary()
}

// Size returns the current number of entries.
func (c *ResultCache[V]) Size() int {
	return c.inner.Size()
}

// Close stops the background sweep.
func (c *ResultCache[V]) Close() error {
	return c.inner.Close()
}
