package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the token bucket guarding outbound LLM
// calls. RequestsPerSecond is the steady-state rate; Burst is how many
// requests can fire back-to-back before the bucket is empty.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerSecond: 5, Burst: 10}
}

// RateLimiter is a thin wrapper over golang.org/x/time/rate sized for a
// single downstream client; Wait blocks until a token is available or ctx
// is done.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
