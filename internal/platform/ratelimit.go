package platform

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default rate limits per platform (requests per second).
var defaultRateLimits = map[Name]rate.Limit{
	NameSpotify:   5,
	NameDeezer:    5,
	NameYouTube:   5,
	NameWikipedia: 10,
}

// RateLimiterMap holds one rate.Limiter per platform, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Name]*rate.Limiter
}

// NewRateLimiterMap creates the platform limiters. Overrides replace the
// default requests-per-second for the named platforms.
func NewRateLimiterMap(overrides map[Name]float64) *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Name]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, 1)
	}
	for name, rps := range overrides {
		m.limiters[name] = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return m
}

// Wait blocks until the limiter for the given platform allows a request,
// or the context is canceled. Unknown platforms are not limited.
func (m *RateLimiterMap) Wait(ctx context.Context, name Name) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
