// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/aggregator"
	"github.com/JakeFAU/mcp-directory-crawler/internal/api"
	"github.com/JakeFAU/mcp-directory-crawler/internal/batch"
	"github.com/JakeFAU/mcp-directory-crawler/internal/browser"
	"github.com/JakeFAU/mcp-directory-crawler/internal/cache/disk"
	"github.com/JakeFAU/mcp-directory-crawler/internal/checkpoint"
	"github.com/JakeFAU/mcp-directory-crawler/internal/clock/system"
	"github.com/JakeFAU/mcp-directory-crawler/internal/config"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/extract"
	"github.com/JakeFAU/mcp-directory-crawler/internal/extractapi"
	collyfetcher "github.com/JakeFAU/mcp-directory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/mcp-directory-crawler/internal/github"
	"github.com/JakeFAU/mcp-directory-crawler/internal/id/uuid"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
	"github.com/JakeFAU/mcp-directory-crawler/internal/pipeline"
	"github.com/JakeFAU/mcp-directory-crawler/internal/ratelimit"
	"github.com/JakeFAU/mcp-directory-crawler/internal/reconcile"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
	"github.com/JakeFAU/mcp-directory-crawler/internal/sources/pulse"
	"github.com/JakeFAU/mcp-directory-crawler/internal/store/memory"
	"github.com/JakeFAU/mcp-directory-crawler/internal/store/postgres"
)

// ErrNoStrategy is returned when neither the extraction API nor the browser
// is configured, leaving directory pages with no way to be read.
var ErrNoStrategy = errors.New("no extraction strategy configured: set extract_api.api_key or enable the browser")

// App holds the shared, long-lived services for one command invocation.
// Services that need a browser or a remote API are built on demand so
// commands that never touch them do not pay for them.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      crawler.Clock
	store      crawler.Store
	caller     *remote.Caller
	reconciler *reconcile.Reconciler
	github     *github.Client

	browser *browser.Driver
	closers []func()
}

// Option overrides a service, mainly for tests.
type Option func(*App)

// WithStore replaces the configured datastore.
func WithStore(store crawler.Store) Option {
	return func(a *App) { a.store = store }
}

// WithClock replaces the system clock.
func WithClock(clock crawler.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// New creates the App from cfg. It fails fast if the datastore or the
// response cache cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: logging.OrNop(logger), clock: system.New()}
	for _, opt := range opts {
		opt(a)
	}
	metrics.Init()

	if a.store == nil {
		store, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	var cache remote.Cache
	if cfg.Cache.TTL > 0 {
		c, err := disk.New(disk.Config{Dir: cfg.Cache.Dir})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init response cache: %w", err)
		}
		cache = c
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimit.RPS, DefaultBurst: cfg.RateLimit.Burst})
	a.caller = remote.New(cache, a.logger, remote.WithLimiter(limiter), remote.WithClock(a.clock))

	gh, err := github.New(github.Config{
		BaseURL:    cfg.GitHub.BaseURL,
		RawBaseURL: cfg.GitHub.RawBaseURL,
		Token:      cfg.GitHub.Token,
		Timeout:    cfg.GitHub.Timeout,
		Cache:      a.cacheOptions(),
		Retry:      a.retryOptions(),
	}, a.caller, nil, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init github client: %w", err)
	}
	a.github = gh

	a.reconciler = reconcile.New(a.store, uuid.New(), a.clock,
		reconcile.Policy{UpdateExisting: cfg.Crawl.UpdateExisting}, a.logger)

	a.logger.Info("application services initialized",
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Bool("update_existing", cfg.Crawl.UpdateExisting),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (crawler.Store, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn not set; using in-memory store, nothing will be persisted")
		return memory.New(), nil
	}
	pg, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.DB.DSN, MaxConns: a.cfg.DB.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if a.cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return pg, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the datastore.
func (a *App) Store() crawler.Store {
	return a.store
}

// Reconciler returns the entity reconciler bound to the datastore.
func (a *App) Reconciler() *reconcile.Reconciler {
	return a.reconciler
}

func (a *App) cacheOptions() remote.CacheOptions {
	return remote.CacheOptions{TTL: a.cfg.Cache.TTL}
}

func (a *App) retryOptions() remote.RetryOptions {
	return remote.RetryOptions{
		MaxRetries: a.cfg.Retry.MaxRetries,
		BaseDelay:  a.cfg.Retry.BaseDelay,
		MaxDelay:   a.cfg.Retry.MaxDelay,
	}
}

// pageLoader returns the shared browser behind the response cache, launching
// nothing until the first page is loaded.
func (a *App) pageLoader() crawler.PageLoader {
	if a.browser == nil {
		a.browser = browser.New(browser.Config{
			RemoteURL:    a.cfg.Browser.RemoteURL,
			UserAgent:    a.cfg.Crawl.UserAgent,
			NavTimeout:   a.cfg.Browser.NavTimeout,
			SettleDelay:  a.cfg.Browser.SettleDelay,
			NoSandbox:    a.cfg.Browser.NoSandbox,
			WindowWidth:  a.cfg.Browser.WindowWidth,
			WindowHeight: a.cfg.Browser.WindowHeight,
			WaitSelector: a.cfg.Browser.WaitSelector,
		}, a.logger)
		a.closers = append(a.closers, a.browser.Close)
	}
	return browser.NewCachedLoader(a.browser, a.caller, a.cacheOptions(), a.retryOptions())
}

// Chains picks the extraction strategies per section. The structured API
// leads when a key is configured and the browser-backed DOM strategy covers
// tools; without a key the DOM strategy leads and free-text patterns cover
// tools.
func (a *App) Chains() (aggregator.Chains, error) {
	var structured crawler.Extractor
	if a.cfg.ExtractAPI.APIKey != "" {
		client, err := extractapi.New(extractapi.Config{
			BaseURL: a.cfg.ExtractAPI.BaseURL,
			APIKey:  a.cfg.ExtractAPI.APIKey,
			Timeout: a.cfg.ExtractAPI.Timeout,
			Cache:   a.cacheOptions(),
			Retry:   a.retryOptions(),
		}, a.caller, nil, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init extraction api: %w", err)
		}
		structured = extract.NewSchemaExtractor(client, a.logger)
	}

	switch {
	case structured != nil && a.cfg.Browser.Enabled:
		return aggregator.DefaultChains(structured, extract.NewDOMExtractor(a.pageLoader(), a.logger)), nil
	case structured != nil:
		return aggregator.DefaultChains(structured, nil), nil
	case a.cfg.Browser.Enabled:
		loader := a.pageLoader()
		return aggregator.DefaultChains(extract.NewDOMExtractor(loader, a.logger), extract.NewTextExtractor(loader)), nil
	default:
		return nil, ErrNoStrategy
	}
}

// Aggregator builds the section aggregator with file checkpoints.
func (a *App) Aggregator() (*aggregator.Aggregator, error) {
	chains, err := a.Chains()
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpoint.NewFileStore(a.cfg.Checkpoint.Dir, a.clock)
	if err != nil {
		return nil, fmt.Errorf("init checkpoints: %w", err)
	}
	return aggregator.New(chains, checkpoints, a.logger, aggregator.WithRefresh(a.cfg.Checkpoint.Refresh)), nil
}

// Pipeline builds the per-target pipeline. agg may be nil for API sources.
func (a *App) Pipeline(agg pipeline.Aggregator) *pipeline.Pipeline {
	return pipeline.New(agg, a.reconciler, a.github, a.logger)
}

// ReadmeProcessor builds the README pass over persisted servers.
func (a *App) ReadmeProcessor(dryRun bool) *pipeline.ReadmeProcessor {
	return pipeline.NewReadmeProcessor(a.store, a.github, a.reconciler, a.clock, dryRun, a.logger)
}

// Pulse builds the PulseMCP directory client.
func (a *App) Pulse() (*pulse.Client, error) {
	client, err := pulse.New(pulse.Config{
		BaseURL:   a.cfg.Pulse.BaseURL,
		PageSize:  a.cfg.Pulse.PageSize,
		PageDelay: a.cfg.Pulse.PageDelay,
		Timeout:   a.cfg.GitHub.Timeout,
		Cache:     a.cacheOptions(),
		Retry:     a.retryOptions(),
	}, a.caller, nil, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init pulse client: %w", err)
	}
	return client, nil
}

// CrawlDriver runs directory targets. Browser crawls stay sequential since
// the browser serializes navigations anyway.
func (a *App) CrawlDriver() *batch.Driver {
	concurrent := a.cfg.Crawl.BatchSize > 1 && !a.cfg.Browser.Enabled
	if a.cfg.Crawl.BatchSize > 1 && a.cfg.Browser.Enabled {
		a.logger.Warn("crawl.batch_size ignored while the browser is enabled",
			zap.Int("batch_size", a.cfg.Crawl.BatchSize))
	}
	return batch.New(batch.Config{
		ChunkSize:  a.cfg.Crawl.BatchSize,
		Concurrent: concurrent,
		Delay:      a.cfg.Crawl.Delay(),
		MaxTargets: a.cfg.Crawl.MaxServers,
	}, a.logger)
}

// APIDriver runs single-request sources in concurrent chunks.
func (a *App) APIDriver() *batch.Driver {
	return batch.New(batch.Config{
		ChunkSize:  a.cfg.Crawl.ConcurrentBatchSize,
		Concurrent: true,
		Delay:      a.cfg.Crawl.Delay(),
		MaxTargets: a.cfg.Crawl.MaxServers,
	}, a.logger)
}

// ReadmeDriver runs README processing one server at a time.
func (a *App) ReadmeDriver() *batch.Driver {
	return batch.New(batch.Config{ChunkSize: 1, Delay: a.cfg.Crawl.Delay()}, a.logger)
}

// TargetSet is what a crawl runs over. Warnings are discovery problems that
// did not stop the run; callers add them to the batch summary.
type TargetSet struct {
	Targets  []crawler.Target
	Warnings []error
}

// Targets resolves the configured target references. Each entry is either
// "owner/slug", a bare slug, or a page URL in the configured layout. With no
// configured targets the listing page is crawled for them instead.
func (a *App) Targets(ctx context.Context) (TargetSet, error) {
	layout := a.cfg.Crawl.Layout()
	if len(a.cfg.Crawl.Targets) == 0 {
		if a.cfg.Crawl.ListingURL == "" {
			return TargetSet{}, fmt.Errorf("no targets: set crawl.targets or crawl.listing_url")
		}
		d := collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Crawl.UserAgent,
			RespectRobots: true,
			LinkSelector:  a.cfg.Crawl.LinkSelector,
			Layout:        layout,
			Cache:         a.cacheOptions(),
			Retry:         a.retryOptions(),
		}, a.caller, a.logger)
		found, err := d.Discover(ctx, a.cfg.Crawl.ListingURL)
		if err != nil {
			return TargetSet{}, fmt.Errorf("discover targets: %w", err)
		}
		return TargetSet{Targets: found.Targets, Warnings: found.Warnings}, nil
	}

	targets := make([]crawler.Target, 0, len(a.cfg.Crawl.Targets))
	for _, ref := range a.cfg.Crawl.Targets {
		owner, slug, err := resolveRef(layout, ref)
		if err != nil {
			return TargetSet{}, err
		}
		t, err := layout.Target(owner, slug)
		if err != nil {
			return TargetSet{}, fmt.Errorf("target %q: %w", ref, err)
		}
		targets = append(targets, t)
	}
	return TargetSet{Targets: targets}, nil
}

func resolveRef(layout crawler.TabLayout, ref string) (owner, slug string, err error) {
	if strings.Contains(ref, "://") {
		var ok bool
		if owner, slug, ok = layout.Ref(ref); !ok {
			return "", "", fmt.Errorf("target %q: %w: url outside %s", ref, crawler.ErrInvalidTarget, layout.ServerURLTemplate)
		}
		return owner, slug, nil
	}
	owner, slug, err = crawler.ParseTargetRef(ref)
	if err != nil {
		return "", "", fmt.Errorf("target %q: %w", ref, err)
	}
	return owner, slug, nil
}

// APIServer builds the read-only HTTP API over the datastore.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.store, a.logger)
}

// Close releases the browser and database in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr fails on some platforms; nothing useful to do.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
