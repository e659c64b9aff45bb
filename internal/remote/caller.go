// Package remote wraps every outbound call with a response cache, a per-host
// rate limiter, and exponential backoff on rate-limit errors.
package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
)

// Entry is a cached response snapshot.
type Entry struct {
	Identity string          `json:"identity"`
	StoredAt time.Time       `json:"storedAt"`
	Payload  json.RawMessage `json:"payload"`
}

// Cache stores entries keyed by request identity.
type Cache interface {
	Get(ctx context.Context, identity string) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
}

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Request describes one logical remote call. Source labels logs and metrics.
type Request struct {
	Source string
	URL    string
	Params any
}

// Identity is a deterministic hash of the URL and parameters.
func (r Request) Identity() string {
	h := sha256.New()
	h.Write([]byte(r.URL))
	h.Write([]byte{0})
	if r.Params != nil {
		// Params are plain request structs; a marshal failure only weakens the key.
		if raw, err := json.Marshal(r.Params); err == nil {
			h.Write(raw)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Caller executes remote calls with caching, rate limiting, and retries.
type Caller struct {
	cache   Cache
	limiter Waiter
	clock   crawler.Clock
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
	jitter  func() float64
}

// Option configures a Caller.
type Option func(*Caller)

// WithLimiter applies a per-host limiter before every attempt.
func WithLimiter(w Waiter) Option {
	return func(c *Caller) { c.limiter = w }
}

// WithClock overrides the clock used for cache freshness.
func WithClock(clk crawler.Clock) Option {
	return func(c *Caller) { c.clock = clk }
}

// WithSleep overrides how the caller waits between retries.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Caller) { c.sleep = fn }
}

// WithJitter overrides the backoff jitter source.
func WithJitter(fn func() float64) Option {
	return func(c *Caller) { c.jitter = fn }
}

// New builds a Caller. A nil cache disables caching entirely.
func New(cache Cache, logger *zap.Logger, opts ...Option) *Caller {
	c := &Caller{
		cache:  cache,
		clock:  system.New(),
		logger: logging.OrNop(logger).Named("remote"),
		sleep:  system.Sleep,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call returns a fresh cached result for req or invokes fn, retrying
// rate-limit failures with backoff. Other errors are returned immediately.
func Call[T any](
	ctx context.Context,
	c *Caller,
	req Request,
	fn func(context.Context) (T, error),
	cacheOpts CacheOptions,
	retry RetryOptions,
) (T, error) {
	var zero T
	identity := req.Identity()
	log := c.logger.With(zap.String("source", req.Source), zap.String("url", req.URL))

	useCache := cacheOpts.enabled() && c.cache != nil
	if useCache {
		if v, ok := lookup[T](ctx, c, identity, cacheOpts.TTL, log); ok {
			metrics.ObserveCache(req.Source, true)
			return v, nil
		}
		metrics.ObserveCache(req.Source, false)
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, req.URL); err != nil {
				return zero, fmt.Errorf("call %s: %w", req.Source, err)
			}
		}

		v, err := fn(ctx)
		if err == nil {
			metrics.ObserveRemoteCall(req.Source, "ok")
			if useCache {
				store(ctx, c, identity, v, log)
			}
			return v, nil
		}

		if !IsRateLimit(err) {
			metrics.ObserveRemoteCall(req.Source, "error")
			return zero, err
		}
		if attempt >= retry.MaxRetries {
			metrics.ObserveRemoteCall(req.Source, "rate_limited")
			return zero, fmt.Errorf("call %s: retries exhausted after %d attempts: %w", req.Source, attempt+1, err)
		}

		delay := retry.Backoff(attempt, c.jitter())
		if ra := RetryAfter(err); ra > delay {
			delay = ra
		}
		metrics.ObserveRetry(req.Source)
		log.Warn("rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("call %s: %w", req.Source, err)
		}
	}
}

func lookup[T any](ctx context.Context, c *Caller, identity string, ttl time.Duration, log *zap.Logger) (T, bool) {
	var v T
	entry, ok, err := c.cache.Get(ctx, identity)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
		return v, false
	}
	if !ok || c.clock.Now().Sub(entry.StoredAt) >= ttl {
		return v, false
	}
	if err := json.Unmarshal(entry.Payload, &v); err != nil {
		log.Warn("cache entry unreadable", zap.Error(err))
		return v, false
	}
	log.Debug("cache hit", zap.Time("stored_at", entry.StoredAt))
	return v, true
}

func store[T any](ctx context.Context, c *Caller, identity string, v T, log *zap.Logger) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warn("cache encode failed", zap.Error(err))
		return
	}
	entry := Entry{Identity: identity, StoredAt: c.clock.Now(), Payload: payload}
	if err := c.cache.Set(ctx, entry); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
}
