package source

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kurihiro0119/github-issue-extractor/internal/logger"
)

// lowWatermark is the remaining budget under which calls wait for the reset
const lowWatermark = 10

// RateLimiter paces calls to the GitHub API
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time)
	UpdateLimit(remaining int, resetTime time.Time)
}

// githubRateLimiter combines a token bucket for request pacing with the
// budget GitHub reports on every response
type githubRateLimiter struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	remaining int
	resetTime time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second
func NewRateLimiter(rps float64) RateLimiter {
	return &githubRateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		remaining: 5000, // GitHub API default limit
		resetTime: time.Now().Add(time.Hour),
	}
}

// Wait blocks until a request may be sent
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	remaining, resetTime := r.remaining, r.resetTime
	r.mu.Unlock()

	if remaining <= lowWatermark {
		if wait := time.Until(resetTime); wait > 0 {
			logger.Warn("rate limit low, waiting for reset",
				zap.Int("remaining", remaining),
				zap.Duration("wait", wait.Round(time.Second)))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		r.mu.Lock()
		// assume a fresh budget until the next response says otherwise
		if r.resetTime.Equal(resetTime) {
			r.remaining = 5000
			r.resetTime = time.Now().Add(time.Hour)
		}
		r.mu.Unlock()
	}

	return r.limiter.Wait(ctx)
}

// CheckLimit returns the last reported budget
func (r *githubRateLimiter) CheckLimit() (int, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime
}

// UpdateLimit records the budget reported by the API
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
