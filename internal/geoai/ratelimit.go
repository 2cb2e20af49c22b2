package geoai

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultQuotaBackoff = 60 * time.Second

// limiter is a token bucket plus a hard pause after the API reports quota
// exhaustion.
type limiter struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	retryAt time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	l := rate.Inf
	if rps > 0 {
		l = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiter{bucket: rate.NewLimiter(l, burst)}
}

func (l *limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return l.bucket.Wait(ctx)
}

// pause blocks new calls for d (the Retry-After of a 429).
func (l *limiter) pause(d time.Duration) {
	if d <= 0 {
		d = defaultQuotaBackoff
	}
	l.mu.Lock()
	l.retryAt = time.Now().Add(d)
	l.mu.Unlock()
}
