package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent/internal/domain"
)

func TestThrottled_BurstThenBlock(t *testing.T) {
	inner := &mockProvider{name: "inner", chatResp: &domain.ChatResponse{Content: "ok"}}
	p := NewThrottled(inner, 1, 2)

	for range 2 {
		_, err := p.Chat(context.Background(), domain.ChatRequest{})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Chat(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inner rate limit")
	assert.Equal(t, 2, inner.calls)
}

func TestThrottled_Refills(t *testing.T) {
	inner := &mockProvider{name: "inner", chatResp: &domain.ChatResponse{Content: "ok"}}
	p := NewThrottled(inner, 6000, 1) // one slot every 10ms

	start := time.Now()
	for range 3 {
		_, err := p.Chat(context.Background(), domain.ChatRequest{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, 3, inner.calls)
}

func TestThrottled_Defaults(t *testing.T) {
	p := NewThrottled(&mockProvider{name: "inner"}, 30, 0)
	assert.Equal(t, 30, p.limiter.Burst())
	assert.InDelta(t, 0.5, float64(p.limiter.Limit()), 1e-9)

	p = NewThrottled(&mockProvider{name: "inner"}, 0, 0)
	assert.Equal(t, 1, p.limiter.Burst())
	assert.Equal(t, "inner", p.Name())
	assert.Equal(t, "inner", p.Unwrap().Name())
}
