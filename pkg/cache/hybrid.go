package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/rulegate/errors"
)

// hybridEntry is a single entry in the hybrid cache.
type hybridEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *hybridEntry[V]) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// hybridCache combines LRU and TTL eviction. Entries are evicted either
// when the cache exceeds maxSize (LRU) or when they expire (TTL),
// whichever comes first. Expiry is checked lazily on read and by a
// periodic background sweep. The sweep collects expired entries under
// the lock but runs eviction callbacks outside it, so a slow callback
// cannot starve concurrent request handling.
type hybridCache[V any] struct {
	mu            sync.RWMutex
	maxSize       int
	ttl           time.Duration
	sweepInterval time.Duration
	items         map[string]*list.Element
	order         *list.List
	stats         *Statistics
	metrics       *cacheMetrics
	evictFn       EvictCallback[V]

	shutdown chan struct{}
	done     chan struct{}
}

// NewHybrid creates a cache with combined LRU and TTL eviction. The
// background sweep goroutine stops when ctx is cancelled or Close is called.
func NewHybrid[V any](
	ctx context.Context, maxSize int, ttl, sweepInterval time.Duration, options ...Option[V],
) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewHybrid", "max size must be positive")
	}
	if ttl <= 0 || sweepInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewHybrid", "ttl and sweep interval must be positive")
	}

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewHybrid", "metrics registration")
		}
	}

	c := &hybridCache[V]{
		maxSize:       maxSize,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		items:         make(map[string]*list.Element),
		order:         list.New(),
		stats:         NewStatistics(),
		metrics:       metrics,
		evictFn:       opts.evictCallback,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	go c.sweep(ctx)

	return c, nil
}

// Get retrieves a value, checking expiry and updating LRU order.
func (c *hybridCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		c.mu.Unlock()
		return zero, false
	}

	entry := element.Value.(*hybridEntry[V])
	if entry.isExpired(time.Now()) {
		delete(c.items, entry.key)
		c.order.Remove(element)
		c.stats.Eviction()
		c.stats.Miss()
		c.stats.UpdateSize(int64(len(c.items)))
		if c.metrics != nil {
			c.metrics.recordEviction()
			c.metrics.recordMiss()
			c.metrics.updateSize(len(c.items))
		}
		c.mu.Unlock()

		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	value := entry.value
	c.mu.Unlock()

	return value, true
}

// Set stores a value with the cache's TTL, updating LRU order.
func (c *hybridCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	expiresAt := time.Now().Add(c.ttl)

	var evictKey string
	var evictValue V
	var evicted bool

	c.mu.Lock()
	if element, exists := c.items[key]; exists {
		entry := element.Value.(*hybridEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)
		c.stats.Set()
		if c.metrics != nil {
			c.metrics.recordSet()
		}
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&hybridEntry[V]{key: key, value: value, expiresAt: expiresAt})

	if len(c.items) > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			entry := oldest.Value.(*hybridEntry[V])
			evictKey, evictValue, evicted = entry.key, entry.value, true
			delete(c.items, entry.key)
			c.order.Remove(oldest)
			c.stats.Eviction()
			if c.metrics != nil {
				c.metrics.recordEviction()
			}
		}
	}

	c.stats.Set()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if evicted && c.evictFn != nil {
		c.evictFn(evictKey, evictValue)
	}

	return true, nil
}

// Delete removes an entry by key.
func (c *hybridCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}

	entry := element.Value.(*hybridEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.stats.Delete()
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}

	return true, nil
}

// Clear removes all entries from the cache.
func (c *hybridCache[V]) Clear() error {
	var evictItems []hybridEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		evictItems = make([]hybridEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			evictItems = append(evictItems, *element.Value.(*hybridEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	c.mu.Unlock()

	for _, entry := range evictItems {
		c.evictFn(entry.key, entry.value)
	}

	return nil
}

// Size returns the current number of entries, expired or not.
func (c *hybridCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns unexpired keys in LRU order, most recently used first.
func (c *hybridCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*hybridEntry[V])
		if !entry.isExpired(now) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *hybridCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep goroutine.
func (c *hybridCache[V]) Close() error {
	select {
	case <-c.shutdown:
		// Already shutting down
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweep goroutine to finish")
	}
}

// sweep periodically removes expired entries until shutdown.
func (c *hybridCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired evicts all expired entries. Callbacks run outside the lock.
func (c *hybridCache[V]) removeExpired() {
	now := time.Now()
	var expired []*hybridEntry[V]

	c.mu.Lock()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*hybridEntry[V])
		if entry.isExpired(now) {
			expired = append(expired, entry)
			delete(c.items, entry.key)
			c.order.Remove(element)
		}
		element = next
	}
	size := len(c.items)
	if len(expired) > 0 {
		for range expired {
			c.stats.Eviction()
		}
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			for range expired {
				c.metrics.recordEviction()
			}
			c.metrics.updateSize(size)
		}
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}
}
