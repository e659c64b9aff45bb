// Package collyfetcher discovers crawl targets from a directory listing page
// using gocolly. Listing fetches go through the remote caller.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

const (
	defaultLinkSelector = `a[href*="/server/"]`
	defaultNextSelector = `a[rel="next"]`
	defaultTimeout      = 15 * time.Second
	defaultMaxPages     = 10
)

// Config controls listing discovery.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// LinkSelector matches anchors that point at server pages.
	LinkSelector string
	// NextSelector matches the listing's pagination link.
	NextSelector string
	MaxPages     int
	Layout       crawler.TabLayout
	Cache        remote.CacheOptions
	Retry        remote.RetryOptions
}

// Discoverer walks a directory listing and turns server links into targets.
type Discoverer struct {
	cfg       Config
	transport http.RoundTripper
	caller    *remote.Caller
	logger    *zap.Logger
}

// Discovery is the outcome of one listing walk.
type Discovery struct {
	Targets []crawler.Target
	Pages   int
	// Warnings did not stop discovery: an unverified robots.txt (see
	// ErrRobotsUnverified) or a later listing page that failed.
	Warnings []error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Discoverer. A nil caller fetches without cache or limiter but
// still backs off on rate limits.
func New(cfg Config, caller *remote.Caller, logger *zap.Logger) *Discoverer {
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = defaultLinkSelector
	}
	if cfg.NextSelector == "" {
		cfg.NextSelector = defaultNextSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Retry == (remote.RetryOptions{}) {
		cfg.Retry = remote.DefaultRetryOptions()
	}
	logger = logging.OrNop(logger).Named("discover")
	if caller == nil {
		caller = remote.New(nil, logger)
	}
	return &Discoverer{
		cfg:       cfg,
		transport: newHTTPTransport(),
		caller:    caller,
		logger:    logger,
	}
}

// discovery accumulates targets across listing pages in link order.
type discovery struct {
	mu      sync.Mutex
	layout  crawler.TabLayout
	seen    map[string]struct{}
	targets []crawler.Target
	pages   int
	err     error
}

func (s *discovery) add(link string) {
	owner, slug, ok := s.layout.Ref(link)
	if !ok {
		return
	}
	target, err := s.layout.Target(owner, slug)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[target.Identity()]; dup {
		return
	}
	s.seen[target.Identity()] = struct{}{}
	s.targets = append(s.targets, target)
}

// Discover visits listingURL, follows pagination up to MaxPages, and returns
// the distinct targets linked from the listing in page order.
func (d *Discoverer) Discover(ctx context.Context, listingURL string) (Discovery, error) {
	state := &discovery{layout: d.cfg.Layout, seen: map[string]struct{}{}}
	collector, robots := d.buildCollector()
	d.configureCollectorHooks(collector, state)

	pageErr, err := d.runCollector(ctx, collector, listingURL, state)
	if err != nil {
		return Discovery{}, err
	}
	result := Discovery{Targets: state.targets, Pages: state.pages, Warnings: robots.snapshot()}
	for _, w := range result.Warnings {
		d.logger.Warn("robots.txt could not be verified", zap.Error(w))
	}
	if pageErr != nil {
		result.Warnings = append(result.Warnings, pageErr)
	}
	d.logger.Info("listing discovered",
		zap.String("url", listingURL),
		zap.Int("pages", result.Pages),
		zap.Int("targets", len(result.Targets)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// buildCollector returns a fresh collector per walk so visited URLs and
// robots results never leak between runs.
func (d *Discoverer) buildCollector() (*colly.Collector, *robotsCheck) {
	collector := colly.NewCollector(colly.Async(false))
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !d.cfg.RespectRobots
	collector.SetRequestTimeout(d.cfg.Timeout)

	var robots *robotsCheck
	if d.cfg.RespectRobots {
		robots = &robotsCheck{}
	}
	collector.WithTransport(&callerTransport{
		base:   d.transport,
		caller: d.caller,
		cache:  d.cfg.Cache,
		retry:  d.cfg.Retry,
		robots: robots,
	})
	return collector, robots
}

func (d *Discoverer) configureCollectorHooks(hooks collectorHooks, state *discovery) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
		state.mu.Lock()
		state.pages++
		state.mu.Unlock()
	})

	hooks.OnHTML(d.cfg.LinkSelector, func(e *colly.HTMLElement) {
		state.add(e.Request.AbsoluteURL(e.Attr("href")))
	})

	hooks.OnHTML(d.cfg.NextSelector, func(e *colly.HTMLElement) {
		state.mu.Lock()
		more := state.pages < d.cfg.MaxPages
		state.mu.Unlock()
		if !more {
			return
		}
		next := e.Request.AbsoluteURL(e.Attr("href"))
		if next == "" {
			return
		}
		if err := e.Request.Visit(next); err != nil {
			d.logger.Debug("pagination stopped", zap.String("url", next), zap.Error(err))
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.err == nil {
			state.err = fmt.Errorf("fetch %s: %w", r.Request.URL, err)
		}
	})
}

// runCollector walks the listing. pageErr reports a later page that failed
// after earlier pages produced targets.
func (d *Discoverer) runCollector(ctx context.Context, collector *colly.Collector, url string, state *discovery) (pageErr, err error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("listing discovery canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit listing: %w", err)
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.err != nil && len(state.targets) == 0 {
			return nil, fmt.Errorf("listing response failed: %w", state.err)
		}
		if state.err != nil {
			d.logger.Warn("listing page failed", zap.Error(state.err))
		}
		return state.err, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
