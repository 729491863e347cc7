package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
)

// Limiter paces outbound probe and crawl traffic. A global token bucket caps
// the overall request rate, and a per-host floor keeps repeated requests to
// one target spaced out so discovery does not look like a flood.
type Limiter struct {
	bucket   *rate.Limiter
	minDelay time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func New(cfg config.RateLimitConfig) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		minDelay: cfg.PerHostDelay,
		lastSeen: make(map[string]time.Time),
	}
}

// Wait blocks until the global bucket grants one request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// WaitHost blocks for the global bucket and then for the per-host floor. The
// host slot is claimed before sleeping so concurrent callers to the same host
// queue behind each other instead of releasing together.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	if l.minDelay <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	next := now
	if last, ok := l.lastSeen[host]; ok && last.After(now) {
		next = last
	}
	l.lastSeen[host] = next.Add(l.minDelay)
	l.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
