package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

const (
	sourceListing = "listing"
	sourceRobots  = "robots"

	maxPageBytes = 8 << 20
)

// ErrRobotsUnverified marks a listing crawled under an allow-all policy
// because the host's robots.txt could not be fetched in time.
var ErrRobotsUnverified = errors.New("robots.txt unverified")

// page is the cacheable part of a listing response.
type page struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// callerTransport sends colly's requests through the remote caller, so
// listing pages and robots.txt share the response cache, the per-host limiter
// and the rate-limit backoff with every other outbound call. Non-2xx answers
// come back to colly as responses; only network failures are errors.
type callerTransport struct {
	base   http.RoundTripper
	caller *remote.Caller
	cache  remote.CacheOptions
	retry  remote.RetryOptions
	// robots is nil when robots.txt is ignored.
	robots *robotsCheck
}

func (t *callerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("listing transport: nil request")
	}
	robotsTxt := isRobotsTxtRequest(req)
	source := sourceListing
	if robotsTxt {
		source = sourceRobots
	}
	cacheOpts := t.cache
	if req.Method != http.MethodGet {
		cacheOpts = remote.CacheOptions{}
	}

	p, err := remote.Call(req.Context(), t.caller, remote.Request{Source: source, URL: req.URL.String()},
		func(ctx context.Context) (page, error) { return fetchPage(ctx, t.base, req) },
		cacheOpts, t.retry)

	var status *remote.StatusError
	switch {
	case err == nil:
		return p.response(req), nil
	case errors.As(err, &status):
		return statusResponse(req, status), nil
	case robotsTxt && t.robots != nil && isTimeout(err):
		t.robots.unverified(req.URL, err)
		return allowAllResponse(req), nil
	default:
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
}

func fetchPage(ctx context.Context, base http.RoundTripper, req *http.Request) (page, error) {
	resp, err := base.RoundTrip(req.Clone(ctx))
	if err != nil {
		return page{}, fmt.Errorf("round trip: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return page{}, fmt.Errorf("read %s: %w", req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return page{}, remote.NewStatusError(req.URL.String(), resp.StatusCode, resp.Header, body, time.Now())
	}
	return page{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (p page) response(req *http.Request) *http.Response {
	header := p.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return newResponse(req, p.Status, header, p.Body)
}

func statusResponse(req *http.Request, err *remote.StatusError) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(req, err.StatusCode, header, []byte(err.Body))
}

func allowAllResponse(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(req, http.StatusOK, header, []byte("User-agent: *\nAllow: /"))
}

func newResponse(req *http.Request, code int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    code,
		Status:        fmt.Sprintf("%d %s", code, http.StatusText(code)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func isRobotsTxtRequest(req *http.Request) bool {
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

// robotsCheck collects the hosts whose robots.txt had to be assumed.
type robotsCheck struct {
	mu       sync.Mutex
	warnings []error
}

func (r *robotsCheck) unverified(u *url.URL, err error) {
	metrics.ObserveRobotsUnverified(u.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, fmt.Errorf("%w for %s: %w", ErrRobotsUnverified, u.Host, err))
}

func (r *robotsCheck) snapshot() []error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.warnings...)
}
