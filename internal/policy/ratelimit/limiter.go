// Package ratelimit implements a per-domain token bucket used before every resource fetch.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/submission-downloader/internal/metrics"
)

// minBackoffRate is the floor a domain's rate decays to after repeated 429s.
const minBackoffRate = rate.Limit(0.05)

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

func (l *Limiter) forDomain(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	return limiter
}

// Wait blocks until a token is available for the URL's domain, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := metrics.SanitizeSite(rawURL)
	limiter := l.forDomain(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens available immediately are not a delay worth recording.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, d)
	}
	return nil
}

// ReportResult halves a domain's rate when it answers 429, down to a floor.
// Unlimited domains are first pinned to one request per second.
func (l *Limiter) ReportResult(rawURL string, statusCode int) {
	if statusCode != http.StatusTooManyRequests {
		return
	}
	limiter := l.forDomain(metrics.SanitizeSite(rawURL))
	current := limiter.Limit()
	next := current / 2
	if current == rate.Inf {
		next = 1
	}
	if next < minBackoffRate {
		next = minBackoffRate
	}
	limiter.SetLimit(next)
}

// Rate returns the current limit for the URL's domain.
func (l *Limiter) Rate(rawURL string) rate.Limit {
	return l.forDomain(metrics.SanitizeSite(rawURL)).Limit()
}
