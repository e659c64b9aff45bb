// Package ratelimit implements a per-host token bucket applied before remote calls.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]Rate
	defaultRate  rate.Limit
	defaultBurst int
}

// Rate is a requests-per-second budget with a burst allowance.
type Rate struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration. Hosts lists per-host overrides
// (e.g. a slower budget for api.github.com).
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        map[string]Rate
}

// New creates a new Limiter. A non-positive RPS means unlimited.
func New(cfg Config) *Limiter {
	overrides := make(map[string]Rate, len(cfg.Hosts))
	for host, r := range cfg.Hosts {
		overrides[strings.ToLower(host)] = r
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  limit(cfg.DefaultRPS),
		defaultBurst: burst(cfg.DefaultBurst),
	}
}

// Wait blocks until a token is available for the host of rawURL, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeSite(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were immediately available are not a delay.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if ok {
		return limiter
	}
	r, b := l.defaultRate, l.defaultBurst
	if o, ok := l.overrides[host]; ok {
		r, b = limit(o.RPS), burst(o.Burst)
	}
	limiter = rate.NewLimiter(r, b)
	l.limiters[host] = limiter
	return limiter
}

func limit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burst(b int) int {
	if b <= 0 {
		return 1
	}
	return b
}
