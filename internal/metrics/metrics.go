// Package metrics exposes Prometheus collectors for the directory crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteCallsTotal           *prometheus.CounterVec
	remoteCacheTotal           *prometheus.CounterVec
	remoteRetriesTotal         *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	sectionsTotal              *prometheus.CounterVec
	reconcileActionsTotal      *prometheus.CounterVec
	childWriteFailuresTotal    *prometheus.CounterVec
	targetsTotal               *prometheus.CounterVec
	robotsUnverifiedTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		remoteCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_remote_calls_total",
				Help: "Remote calls made through the caller, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		remoteCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_remote_cache_total",
				Help: "Response cache lookups, labeled by source and result (hit, miss).",
			},
			[]string{"source", "result"},
		)

		remoteRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_remote_retries_total",
				Help: "Rate-limit retries, labeled by source.",
			},
			[]string{"source"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		sectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_section_extractions_total",
				Help: "Section extraction attempts, labeled by section, strategy and status.",
			},
			[]string{"section", "strategy", "status"},
		)

		reconcileActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_reconcile_actions_total",
				Help: "Reconciliation outcomes, labeled by action.",
			},
			[]string{"action"},
		)

		childWriteFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_child_write_failures_total",
				Help: "Failed child-table writes, labeled by table.",
			},
			[]string{"table"},
		)

		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_targets_total",
				Help: "Batch targets processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		robotsUnverifiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_unverified_total",
				Help: "robots.txt fetches that timed out and fell back to allow-all, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRemoteCall counts a finished remote call.
func ObserveRemoteCall(source, outcome string) {
	Init()
	remoteCallsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveCache counts a cache lookup.
func ObserveCache(source string, hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	remoteCacheTotal.WithLabelValues(source, result).Inc()
}

// ObserveRetry counts a rate-limit retry.
func ObserveRetry(source string) {
	Init()
	remoteRetriesTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSection counts one strategy run against a section.
func ObserveSection(section, strategy, status string) {
	Init()
	sectionsTotal.WithLabelValues(section, strategy, status).Inc()
}

// ObserveReconcile counts a reconciliation action.
func ObserveReconcile(action string) {
	Init()
	reconcileActionsTotal.WithLabelValues(action).Inc()
}

// ObserveChildWriteFailure counts a failed child-table write.
func ObserveChildWriteFailure(table string) {
	Init()
	childWriteFailuresTotal.WithLabelValues(table).Inc()
}

// ObserveTarget counts a processed batch target.
func ObserveTarget(outcome string) {
	Init()
	targetsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRobotsUnverified counts a robots.txt fetch that fell back to
// allow-all.
func ObserveRobotsUnverified(rawURL string) {
	Init()
	robotsUnverifiedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
