// Package browser renders JavaScript-heavy directory pages with headless
// Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
)

const (
	defaultNavTimeout   = 30 * time.Second
	defaultSettleDelay  = 2 * time.Second
	defaultWaitSelector = "body"
	probeTimeout        = 5 * time.Second
)

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("browser closed")

// Config controls how pages are rendered.
type Config struct {
	// RemoteURL attaches to an already running browser (ws:// or http://)
	// instead of launching a local one.
	RemoteURL    string
	UserAgent    string
	NavTimeout   time.Duration
	SettleDelay  time.Duration
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
	WaitSelector string
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1366, 900
	}
	return c
}

// Driver implements crawler.PageLoader on top of one shared browser process.
// The browser is launched on first use and relaunched when a health probe
// fails. Navigations are serialized.
type Driver struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New creates a Driver. No browser is started until the first Load.
func New(cfg Config, logger *zap.Logger) *Driver {
	return &Driver{cfg: cfg.withDefaults(), logger: logging.OrNop(logger).Named("browser")}
}

// Load navigates to url, waits for the page to settle, and returns the
// rendered HTML and text. When script is non-empty it is evaluated in the
// page and its JSON result is returned in RawSection.Evaluated.
func (d *Driver) Load(ctx context.Context, url, script string) (crawler.RawSection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	browserCtx, err := d.ensure(ctx)
	if err != nil {
		return crawler.RawSection{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, d.cfg.NavTimeout)
	defer cancel()
	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := time.Now()
	raw, err := d.render(tabCtx, url, script)
	if err != nil {
		return crawler.RawSection{}, fmt.Errorf("render %s: %w", url, err)
	}
	d.logger.Debug("page rendered",
		zap.String("url", url),
		zap.String("final_url", raw.URL),
		zap.Int("html_bytes", len(raw.HTML)),
		zap.Duration("duration", time.Since(start)),
	)
	return raw, nil
}

func (d *Driver) render(ctx context.Context, url, script string) (crawler.RawSection, error) {
	var (
		raw      crawler.RawSection
		finalURL string
	)
	actions := []chromedp.Action{
		d.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady(d.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(d.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &raw.HTML, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &raw.Text),
	}
	if script != "" {
		actions = append(actions, chromedp.Evaluate(script, &raw.Evaluated))
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return crawler.RawSection{}, fmt.Errorf("chromedp run: %w", err)
	}
	raw.URL = finalURL
	if raw.URL == "" {
		raw.URL = url
	}
	return raw, nil
}

func (d *Driver) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if d.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(d.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		err := emulation.SetDeviceMetricsOverride(int64(d.cfg.WindowWidth), int64(d.cfg.WindowHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

// ensure returns a live browser context, launching or relaunching as needed.
// Callers hold d.mu.
func (d *Driver) ensure(ctx context.Context) (context.Context, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.browserCtx != nil {
		err := d.probe()
		if err == nil {
			return d.browserCtx, nil
		}
		d.logger.Warn("browser unhealthy, relaunching", zap.Error(err))
		d.shutdown()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	var allocCtx context.Context
	if d.cfg.RemoteURL != "" {
		allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.cfg.RemoteURL)
	} else {
		allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
	}
	d.browserCtx, d.browserCancel = chromedp.NewContext(allocCtx)
	if err := chromedp.Run(d.browserCtx); err != nil {
		d.shutdown()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	d.logger.Info("browser started", zap.Bool("remote", d.cfg.RemoteURL != ""))
	return d.browserCtx, nil
}

func (d *Driver) probe() error {
	ctx, cancel := context.WithTimeout(d.browserCtx, probeTimeout)
	defer cancel()
	if _, err := chromedp.Targets(ctx); err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	return nil
}

func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight),
	)
	if d.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	return opts
}

func (d *Driver) shutdown() {
	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	d.browserCtx, d.browserCancel, d.allocCancel = nil, nil, nil
}

// Close shuts the browser down. Later Loads fail with ErrClosed.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.shutdown()
}
