package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_DisabledWithoutConnection(t *testing.T) {
	p := NewPublisher(nil, nil)

	assert.False(t, p.Enabled())

	// All publish operations are silent no-ops.
	err := p.PublishPromotion(context.Background(), PromotionEvent{
		ID:    "topic-1",
		Title: "New drone regulations",
	})
	require.NoError(t, err)

	p.PublishBreakerChange("closed", "open")
}

func TestPromotionEvent_TimestampDefaulted(t *testing.T) {
	// With no connection the event never leaves the process, but the
	// struct contract still matters for downstream schema stability.
	event := PromotionEvent{ID: "x"}
	assert.Empty(t, event.Timestamp)

	p := NewPublisher(nil, nil)
	require.NoError(t, p.PublishPromotion(context.Background(), event))
}
