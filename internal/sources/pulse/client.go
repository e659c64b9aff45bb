// Package pulse lists servers from the PulseMCP directory API.
package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

// Config configures the client.
type Config struct {
	BaseURL   string
	PageSize  int
	PageDelay time.Duration
	// MaxPages stops paging early; zero follows next links to the end.
	MaxPages int
	Timeout  time.Duration
	Cache    remote.CacheOptions
	Retry    remote.RetryOptions
}

// Server is one entry of the servers listing.
type Server struct {
	Name                 string `json:"name"`
	URL                  string `json:"url"`
	ExternalURL          string `json:"external_url"`
	ShortDescription     string `json:"short_description"`
	AIDescription        string `json:"EXPERIMENTAL_ai_generated_description"`
	SourceCodeURL        string `json:"source_code_url"`
	GitHubStars          *int   `json:"github_stars"`
	PackageRegistry      string `json:"package_registry"`
	PackageName          string `json:"package_name"`
	PackageDownloadCount *int64 `json:"package_download_count"`
}

// Description prefers the short description and falls back to the
// generated one.
func (s Server) Description() string {
	if d := strings.TrimSpace(s.ShortDescription); d != "" {
		return d
	}
	return strings.TrimSpace(s.AIDescription)
}

// Fields converts s into extracted fields.
func (s Server) Fields() crawler.Fields {
	f := crawler.Fields{
		Name:            strings.TrimSpace(s.Name),
		Description:     s.Description(),
		RepositoryURL:   strings.TrimSpace(s.SourceCodeURL),
		Homepage:        strings.TrimSpace(s.ExternalURL),
		PackageRegistry: strings.ToLower(strings.TrimSpace(s.PackageRegistry)),
		PackageName:     strings.TrimSpace(s.PackageName),
	}
	if f.Homepage == "" {
		f.Homepage = strings.TrimSpace(s.URL)
	}
	if s.GitHubStars != nil && *s.GitHubStars > 0 {
		f.Stats = &crawler.RepoStats{Stars: *s.GitHubStars}
	}
	return f
}

type page struct {
	Servers    []Server `json:"servers"`
	Next       string   `json:"next"`
	TotalCount int      `json:"total_count"`
}

// Client pages through the servers listing.
type Client struct {
	cfg    Config
	http   *http.Client
	caller *remote.Caller
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, caller *remote.Caller, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("remote caller is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pulsemcp.com/v0beta"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		caller: caller,
		logger: logging.OrNop(logger).Named("pulse"),
		sleep:  sleepContext,
	}, nil
}

// FirstPage returns the URL of the first listing page.
func (c *Client) FirstPage() string {
	q := url.Values{"count_per_page": {strconv.Itoa(c.cfg.PageSize)}}
	return c.cfg.BaseURL + "/servers?" + q.Encode()
}

// Servers follows next links from the first page and returns every server
// seen. When a page fails, the servers collected so far are returned with
// the error.
func (c *Client) Servers(ctx context.Context) ([]Server, error) {
	var (
		out  []Server
		next = c.FirstPage()
	)
	for n := 1; next != ""; n++ {
		if c.cfg.MaxPages > 0 && n > c.cfg.MaxPages {
			break
		}
		if n > 1 {
			if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
				return out, err
			}
		}
		p, err := c.fetch(ctx, next)
		if err != nil {
			return out, fmt.Errorf("fetch servers page %d: %w", n, err)
		}
		out = append(out, p.Servers...)
		c.logger.Info("servers page fetched",
			zap.Int("page", n),
			zap.Int("servers", len(p.Servers)),
			zap.Int("total", p.TotalCount),
		)
		next = p.Next
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, u string) (page, error) {
	return remote.Call(ctx, c.caller, remote.Request{Source: "pulse", URL: u},
		func(ctx context.Context) (page, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return page{}, fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("Accept", "application/json")
			body, _, err := remote.Do(c.http, req)
			if err != nil {
				return page{}, err
			}
			var p page
			if err := json.Unmarshal(body, &p); err != nil {
				return page{}, fmt.Errorf("decode servers page: %w", err)
			}
			return p, nil
		}, c.cfg.Cache, c.cfg.Retry)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("page delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
