package remote

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryOptions bounds rate-limit retries. At most 1+MaxRetries attempts are made.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryOptions returns three retries starting at one second, capped at thirty.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Backoff returns base × 2^attempt × jitter, capped at MaxDelay.
func (o RetryOptions) Backoff(attempt int, jitter float64) time.Duration {
	delay := float64(o.BaseDelay) * math.Pow(2, float64(attempt)) * jitter
	if o.MaxDelay > 0 && delay > float64(o.MaxDelay) {
		delay = float64(o.MaxDelay)
	}
	return time.Duration(delay)
}

// CacheOptions controls response caching. A non-positive TTL disables it.
type CacheOptions struct {
	TTL time.Duration
}

// DefaultCacheOptions caches responses for one hour.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{TTL: time.Hour}
}

func (o CacheOptions) enabled() bool {
	return o.TTL > 0
}

// randomJitter returns a factor uniformly drawn from [0.9, 1.1].
func randomJitter() float64 {
	const steps = 1_000_000
	n, err := rand.Int(rand.Reader, big.NewInt(steps+1))
	if err != nil {
		return 1
	}
	return 0.9 + 0.2*float64(n.Int64())/steps
}
