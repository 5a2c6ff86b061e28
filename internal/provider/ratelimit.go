package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"mailagent/internal/domain"
)

// Throttled caps the Chat rate of the wrapped provider. Callers over the
// limit block until a slot frees up or ctx ends.
type Throttled struct {
	domain.Provider
	limiter *rate.Limiter
}

// NewThrottled allows perMinute calls per minute in bursts of up to burst.
// Non-positive burst defaults to perMinute.
func NewThrottled(p domain.Provider, perMinute, burst int) *Throttled {
	if burst <= 0 {
		burst = max(perMinute, 1)
	}
	every := rate.Inf
	if perMinute > 0 {
		every = rate.Limit(float64(perMinute) / 60)
	}
	return &Throttled{Provider: p, limiter: rate.NewLimiter(every, burst)}
}

func (t *Throttled) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", t.Name(), err)
	}
	return t.Provider.Chat(ctx, req)
}

// Unwrap returns the throttled provider.
func (t *Throttled) Unwrap() domain.Provider { return t.Provider }
