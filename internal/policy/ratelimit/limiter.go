// Package ratelimit implements a per-domain token bucket for outbound link checks.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/events-linkhealth/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// MinRPS bounds how far Backoff may slow a single domain.
	MinRPS float64
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	minRate      rate.Limit
}

// New creates a new Limiter. A non-positive DefaultRPS disables throttling.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	minRate := rate.Limit(cfg.MinRPS)
	if cfg.MinRPS <= 0 {
		minRate = 0.1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		minRate:      minRate,
	}
}

// Wait blocks until a token is available for rawURL's domain, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := metrics.SanitizeSite(rawURL)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, d)
	}
	return nil
}

// Backoff halves the domain's rate after the site signalled overload
// (429 or 503), never dropping below MinRPS.
func (l *Limiter) Backoff(rawURL string) {
	limiter := l.limiterFor(metrics.SanitizeSite(rawURL))
	current := limiter.Limit()
	if current == rate.Inf {
		return
	}
	next := current / 2
	if next < l.minRate {
		next = l.minRate
	}
	limiter.SetLimit(next)
}

// Limit reports the current rate for rawURL's domain.
func (l *Limiter) Limit(rawURL string) rate.Limit {
	return l.limiterFor(metrics.SanitizeSite(rawURL)).Limit()
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	return limiter
}
