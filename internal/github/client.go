// Package github reads repository metadata and READMEs from the GitHub REST
// API, with a raw.githubusercontent.com fallback for README content.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
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

const apiVersion = "2022-11-28"

// Config configures the client.
type Config struct {
	BaseURL    string
	RawBaseURL string
	Token      string
	Timeout    time.Duration
	Cache      remote.CacheOptions
	Retry      remote.RetryOptions
}

// Repository is the subset of the repository resource the crawler uses.
type Repository struct {
	FullName      string     `json:"full_name"`
	Description   string     `json:"description"`
	Homepage      string     `json:"homepage"`
	HTMLURL       string     `json:"html_url"`
	DefaultBranch string     `json:"default_branch"`
	Stars         int        `json:"stargazers_count"`
	Forks         int        `json:"forks_count"`
	OpenIssues    int        `json:"open_issues_count"`
	Topics        []string   `json:"topics"`
	Archived      bool       `json:"archived"`
	PushedAt      *time.Time `json:"pushed_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Stats converts the repository counters. Contributors are not part of the
// repository resource; see ContributorCount.
func (r Repository) Stats() crawler.RepoStats {
	stats := crawler.RepoStats{Stars: r.Stars, Forks: r.Forks, OpenIssues: r.OpenIssues}
	switch {
	case r.PushedAt != nil:
		stats.LastUpdated = r.PushedAt
	case r.UpdatedAt != nil:
		stats.LastUpdated = r.UpdatedAt
	}
	return stats
}

// Client calls GitHub through the remote caller.
type Client struct {
	cfg    Config
	http   *http.Client
	caller *remote.Caller
	logger *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, caller *remote.Caller, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("remote caller is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = "https://raw.githubusercontent.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.RawBaseURL = strings.TrimRight(cfg.RawBaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, caller: caller, logger: logging.OrNop(logger).Named("github")}, nil
}

// Repository fetches repository metadata. A missing repository yields
// crawler.ErrNotFound.
func (c *Client) Repository(ctx context.Context, owner, repo string) (Repository, error) {
	u := fmt.Sprintf("%s/repos/%s/%s", c.cfg.BaseURL, url.PathEscape(owner), url.PathEscape(repo))
	r, err := remote.Call(ctx, c.caller, remote.Request{Source: "github", URL: u},
		func(ctx context.Context) (Repository, error) {
			body, _, err := c.get(ctx, u, true)
			if err != nil {
				return Repository{}, err
			}
			var r Repository
			if err := json.Unmarshal(body, &r); err != nil {
				return Repository{}, fmt.Errorf("decode repository: %w", err)
			}
			return r, nil
		}, c.cfg.Cache, c.cfg.Retry)
	if err != nil {
		return Repository{}, c.classify(err, "fetch repository %s/%s", owner, repo)
	}
	return r, nil
}

type readmeResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Readme returns the repository README as markdown. It tries the README
// endpoint first, then the raw README.md on the main and master branches.
func (c *Client) Readme(ctx context.Context, owner, repo string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/readme", c.cfg.BaseURL, url.PathEscape(owner), url.PathEscape(repo))
	text, err := remote.Call(ctx, c.caller, remote.Request{Source: "github", URL: u},
		func(ctx context.Context) (string, error) {
			body, _, err := c.get(ctx, u, true)
			if err != nil {
				return "", err
			}
			return decodeReadme(body)
		}, c.cfg.Cache, c.cfg.Retry)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if err != nil && !remote.IsNotFound(err) {
		c.logger.Debug("readme endpoint failed, trying raw content",
			zap.String("repo", owner+"/"+repo), zap.Error(err))
	}

	for _, branch := range []string{"main", "master"} {
		raw := fmt.Sprintf("%s/%s/%s/%s/README.md", c.cfg.RawBaseURL, url.PathEscape(owner), url.PathEscape(repo), branch)
		text, rawErr := remote.Call(ctx, c.caller, remote.Request{Source: "github_raw", URL: raw},
			func(ctx context.Context) (string, error) {
				body, _, err := c.get(ctx, raw, false)
				return string(body), err
			}, c.cfg.Cache, c.cfg.Retry)
		if rawErr == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if rawErr != nil && !remote.IsNotFound(rawErr) {
			return "", fmt.Errorf("fetch raw readme %s/%s@%s: %w", owner, repo, branch, rawErr)
		}
	}
	return "", fmt.Errorf("readme %s/%s: %w", owner, repo, crawler.ErrNotFound)
}

func decodeReadme(body []byte) (string, error) {
	var r readmeResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("decode readme: %w", err)
	}
	if r.Encoding != "base64" {
		return r.Content, nil
	}
	// The API wraps base64 content at 60 columns.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(r.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode readme content: %w", err)
	}
	return string(decoded), nil
}

// ContributorCount returns the number of contributors, read from the last
// page number of a one-per-page listing.
func (c *Client) ContributorCount(ctx context.Context, owner, repo string) (int, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contributors?per_page=1&anon=true", c.cfg.BaseURL, url.PathEscape(owner), url.PathEscape(repo))
	n, err := remote.Call(ctx, c.caller, remote.Request{Source: "github", URL: u},
		func(ctx context.Context) (int, error) {
			body, header, err := c.get(ctx, u, true)
			if err != nil {
				return 0, err
			}
			if last := lastPage(header.Get("Link")); last > 0 {
				return last, nil
			}
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				// An empty repository answers 204 with no body.
				return 0, nil
			}
			return len(items), nil
		}, c.cfg.Cache, c.cfg.Retry)
	if err != nil {
		return 0, c.classify(err, "count contributors %s/%s", owner, repo)
	}
	return n, nil
}

// Stats fetches repository counters including the contributor count. A failed
// contributor lookup is logged and leaves the count at zero.
func (c *Client) Stats(ctx context.Context, owner, repo string) (Repository, crawler.RepoStats, error) {
	r, err := c.Repository(ctx, owner, repo)
	if err != nil {
		return Repository{}, crawler.RepoStats{}, err
	}
	stats := r.Stats()
	n, err := c.ContributorCount(ctx, owner, repo)
	if err != nil {
		c.logger.Warn("contributor count failed", zap.String("repo", owner+"/"+repo), zap.Error(err))
	}
	stats.Contributors = n
	return r, stats, nil
}

func (c *Client) get(ctx context.Context, u string, api bool) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if api {
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	body, header, err := remote.Do(c.http, req)
	if err != nil {
		return nil, header, err
	}
	if header.Get("X-RateLimit-Remaining") == "0" {
		reset := remote.ParseRateLimitReset(header)
		c.logger.Warn("rate limit budget exhausted", zap.Time("reset", reset))
	}
	return body, header, nil
}

func (c *Client) classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if remote.IsNotFound(err) {
		return fmt.Errorf("%s: %w", msg, errors.Join(crawler.ErrNotFound, err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// lastPage reads rel="last" from a Link header.
func lastPage(link string) int {
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="last"`) {
			continue
		}
		start, end := strings.Index(part, "<"), strings.Index(part, ">")
		if start < 0 || end <= start {
			return 0
		}
		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			return 0
		}
		n, err := strconv.Atoi(u.Query().Get("page"))
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
