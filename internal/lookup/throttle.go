package lookup

import (
	"context"
	"fmt"

	"listing-enricher/internal/models"
	"listing-enricher/internal/ratelimit"
)

// Throttled wraps a lookup with a request budget and request pacing.
// Either limiter may be nil.
type Throttled struct {
	next    Lookup
	limiter *ratelimit.RateLimiter
	pacer   *ratelimit.Pacer
}

// NewThrottled wraps next.
func NewThrottled(next Lookup, limiter *ratelimit.RateLimiter, pacer *ratelimit.Pacer) *Throttled {
	return &Throttled{next: next, limiter: limiter, pacer: pacer}
}

// LookupBuilding waits for the limiter and the pacer, then delegates.
func (t *Throttled) LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if t.pacer != nil {
		if err := t.pacer.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("pacer wait: %w", err)
		}
		defer t.pacer.Release()
	}
	return t.next.LookupBuilding(ctx, addr)
}
