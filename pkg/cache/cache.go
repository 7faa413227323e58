// Package cache provides generic, thread-safe cache implementations.
//
// Two eviction strategies are offered:
//   - LRUCache: Least Recently Used eviction bounded by entry count
//   - HybridCache: combined LRU and TTL eviction with a background sweep
//
// All implementations collect statistics (observability is not optional)
// and can additionally export Prometheus metrics via functional options.
//
// RuleGate uses this package for the validation result cache, compiled
// regex matchers, embedding memoization, and triage idempotency records.
package cache

import (
	"github.com/c360/rulegate/errors"
)

// Cache is the generic cache interface satisfied by all implementations.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created,
	// false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns all keys currently in the cache, most recently used first.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases resources such as background sweep goroutines.
	Close() error
}

// EvictCallback is invoked with the key and value of each evicted entry.
type EvictCallback[V any] func(key string, value V)

// maxKeyLength bounds key size to keep memory per entry predictable.
const maxKeyLength = 512

// validateKey rejects keys the cache cannot store.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "cache", "validateKey", "key cannot be empty")
	}
	if len(key) > maxKeyLength {
		return errors.WrapInvalid(errors.ErrInvalidKey, "cache", "validateKey", "key exceeds maximum length")
	}
	return nil
}
