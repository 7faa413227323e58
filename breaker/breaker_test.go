package breaker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulegate/errors"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func unavailable() error {
	return errors.WrapTransient(errors.ErrStoreUnavailable, "rulestore", "Fetch", "store query")
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 5})

	for i := 0; i < 4; i++ {
		b.Record(unavailable())
		assert.Equal(t, Closed, b.Snapshot().Status)
	}

	b.Record(unavailable())
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.Status)
	assert.False(t, snap.OpenedAt.IsZero())
}

func TestBreaker_MalformedResponseDoesNotCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2})

	storeResponse := errors.WrapInvalid(errors.ErrStoreResponse, "rulestore", "Fetch", "parse store response")
	for i := 0; i < 10; i++ {
		b.Record(storeResponse)
	}

	assert.Equal(t, Closed, b.Snapshot().Status)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.Record(unavailable())
	b.Record(unavailable())
	b.Record(nil)
	b.Record(unavailable())
	b.Record(unavailable())

	assert.Equal(t, Closed, b.Snapshot().Status, "non-consecutive failures must not open the breaker")
}

func TestBreaker_OpenRejectsCalls(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	b.Record(unavailable())
	require.Equal(t, Open, b.Snapshot().Status)

	err := b.Allow()
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)

	called := false
	err = b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the store")
}

func TestBreaker_RecoveryTimeoutAllowsProbe(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 2})

	b.Record(unavailable())
	require.Equal(t, Open, b.Snapshot().Status)

	*now = now.Add(59 * time.Second)
	assert.Error(t, b.Allow())

	*now = now.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.Snapshot().Status)
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 2})

	b.Record(unavailable())
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.Record(nil)
	assert.Equal(t, HalfOpen, b.Snapshot().Status)
	assert.Equal(t, 1, b.Snapshot().HalfOpenSuccesses)

	b.Record(nil)
	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.True(t, snap.OpenedAt.IsZero())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	b.Record(unavailable())
	openedAt := b.Snapshot().OpenedAt

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	require.Equal(t, HalfOpen, b.Snapshot().Status)

	b.Record(unavailable())
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.Status)
	assert.True(t, snap.OpenedAt.After(openedAt), "reopening must reset opened_at")
}

func TestBreaker_ExecuteRecordsOutcome(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2})

	err := b.Execute(context.Background(), func(context.Context) error {
		return unavailable()
	})
	assert.ErrorIs(t, err, errors.ErrStoreUnavailable)
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_Degraded(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	assert.False(t, b.Degraded())

	b.Record(unavailable())
	assert.True(t, b.Degraded())

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	assert.True(t, b.Degraded(), "half-open still serves provenance=cache")

	b.Record(nil)
	b.Record(nil)
	assert.False(t, b.Degraded())
}

func TestBreaker_ConcurrentRecording(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if (g+i)%2 == 0 {
					b.Record(unavailable())
				} else {
					b.Record(nil)
				}
				_ = b.Allow()
				_ = b.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	// State must be one of the three valid statuses with coherent counters.
	snap := b.Snapshot()
	validStatus := snap.Status == Closed || snap.Status == Open || snap.Status == HalfOpen
	assert.True(t, validStatus, fmt.Sprintf("unexpected status %v", snap.Status))
	assert.GreaterOrEqual(t, snap.ConsecutiveFailures, 0)
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := New(Config{})

	for i := 0; i < 4; i++ {
		b.Record(unavailable())
	}
	assert.Equal(t, Closed, b.Snapshot().Status)

	b.Record(unavailable())
	assert.Equal(t, Open, b.Snapshot().Status, "default threshold is 5")
}

func TestBreaker_TransitionHook(t *testing.T) {
	type change struct{ from, to Status }
	changes := make(chan change, 4)

	b, _ := newTestBreaker(Config{
		FailureThreshold: 2,
		OnTransition: func(from, to Status) {
			changes <- change{from, to}
		},
	})

	b.Record(unavailable())
	b.Record(unavailable())

	select {
	case got := <-changes:
		assert.Equal(t, change{Closed, Open}, got)
	case <-time.After(time.Second):
		t.Fatal("transition hook was not called")
	}
}
