package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicOperations(t *testing.T) {
	c, err := NewLRU[string](3)
	require.NoError(t, err)
	defer c.Close()

	created, err := c.Set("a", "alpha")
	require.NoError(t, err)
	assert.True(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	created, err = c.Set("a", "alpha2")
	require.NoError(t, err)
	assert.False(t, created, "updating an existing key is not a create")

	v, _ = c.Get("a")
	assert.Equal(t, "alpha2", v)

	deleted, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("a")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", 1)
	require.NoError(t, err)
	_, err = c.Set("b", 2)
	require.NoError(t, err)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	_, err = c.Set("c", 3)
	require.NoError(t, err)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRU_EvictionCallback(t *testing.T) {
	var mu sync.Mutex
	evicted := map[string]int{}

	c, err := NewLRU[int](1, WithEvictionCallback(func(key string, value int) {
		mu.Lock()
		evicted[key] = value
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", 1)
	require.NoError(t, err)
	_, err = c.Set("b", 2)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"a": 1}, evicted)
}

func TestLRU_KeyValidation(t *testing.T) {
	c, err := NewLRU[string](3)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("", "empty")
	assert.Error(t, err)

	_, err = c.Set(string(make([]byte, maxKeyLength+1)), "long")
	assert.Error(t, err)
}

func TestLRU_Keys(t *testing.T) {
	c, err := NewLRU[int](5)
	require.NoError(t, err)
	defer c.Close()

	for i, key := range []string{"a", "b", "c"} {
		_, err = c.Set(key, i)
		require.NoError(t, err)
	}

	// Most recently used first.
	assert.Equal(t, []string{"c", "b", "a"}, c.Keys())

	_, _ = c.Get("a")
	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}

func TestLRU_Stats(t *testing.T) {
	c, err := NewLRU[int](2)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", 1)
	require.NoError(t, err)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats().Summary()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
	assert.InDelta(t, 2.0/3.0, s.HitRatio, 0.001)
}

func TestHybrid_ExpiresEntries(t *testing.T) {
	c, err := NewHybrid[string](context.Background(), 10, 30*time.Millisecond, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", "alpha")
	require.NoError(t, err)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	time.Sleep(50 * time.Millisecond)

	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry should not be served")
}

func TestHybrid_BackgroundSweep(t *testing.T) {
	c, err := NewHybrid[string](context.Background(), 10, 20*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", "alpha")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.Size() == 0
	}, time.Second, 5*time.Millisecond, "sweep should remove expired entries without a read")
}

func TestHybrid_SizeBoundStillEnforced(t *testing.T) {
	c, err := NewHybrid[int](context.Background(), 2, time.Hour, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	for i := range 5 {
		_, err = c.Set(fmt.Sprintf("key-%d", i), i)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Size())
	assert.Equal(t, []string{"key-4", "key-3"}, c.Keys())
}

func TestHybrid_SetRefreshesTTL(t *testing.T) {
	c, err := NewHybrid[string](context.Background(), 10, 60*time.Millisecond, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", "v1")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = c.Set("a", "v2")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	v, ok := c.Get("a")
	assert.True(t, ok, "update should have refreshed the TTL")
	assert.Equal(t, "v2", v)
}

func TestHybrid_InvalidConfig(t *testing.T) {
	_, err := NewHybrid[string](context.Background(), 0, time.Minute, time.Minute)
	assert.Error(t, err)

	_, err = NewHybrid[string](context.Background(), 10, 0, time.Minute)
	assert.Error(t, err)
}

func TestHybrid_CloseIdempotent(t *testing.T) {
	c, err := NewHybrid[string](context.Background(), 10, time.Minute, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestHybrid_ConcurrentAccess(t *testing.T) {
	c, err := NewHybrid[int](context.Background(), 64, time.Minute, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				key := fmt.Sprintf("key-%d", (g*100+i)%32)
				_, _ = c.Set(key, i)
				_, _ = c.Get(key)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 64)
}
