package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError reports a non-2xx response from a remote service.
type StatusError struct {
	URL        string
	StatusCode int
	// RetryAfter is the server-requested wait, zero when none was given.
	RetryAfter time.Duration
	// Exhausted is set when the service reported an empty rate-limit budget
	// (x-ratelimit-remaining: 0) regardless of status code.
	Exhausted bool
	Body      string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.StatusCode, body)
}

// NewStatusError builds a StatusError from a response, reading the
// Retry-After and x-ratelimit-* headers relative to now.
func NewStatusError(rawURL string, statusCode int, header http.Header, body []byte, now time.Time) *StatusError {
	e := &StatusError{URL: rawURL, StatusCode: statusCode, Body: string(body)}
	e.RetryAfter = parseRetryAfter(header.Get("Retry-After"), now)
	if header.Get("X-RateLimit-Remaining") == "0" {
		e.Exhausted = true
		if reset := ParseRateLimitReset(header); !reset.IsZero() && reset.After(now) {
			if wait := reset.Sub(now); wait > e.RetryAfter {
				e.RetryAfter = wait
			}
		}
	}
	return e
}

// ParseRateLimitReset returns the x-ratelimit-reset instant, or the zero
// time when the header is missing or malformed.
func ParseRateLimitReset(header http.Header) time.Time {
	raw := header.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func parseRetryAfter(raw string, now time.Time) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// IsRateLimit reports whether err signals a rate limit: HTTP 429 or 503, an
// exhausted rate-limit budget, or an error message mentioning one.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable || se.Exhausted {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// RetryAfter extracts the server-requested wait from err, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
