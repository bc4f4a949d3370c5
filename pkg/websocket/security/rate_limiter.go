package security

import (
	"time"

	"golang.org/x/time/rate"
)

type rateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows bursts of capacity and refills capacity tokens every refill period
func NewRateLimiter(capacity int, refill time.Duration) RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refill <= 0 {
		refill = time.Second
	}

	limit := rate.Limit(float64(capacity) / refill.Seconds())
	return &rateLimiter{limiter: rate.NewLimiter(limit, capacity)}
}

func (rl *rateLimiter) Allow() bool {
	return rl.limiter.Allow()
}
