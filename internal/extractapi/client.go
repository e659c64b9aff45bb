// Package extractapi is a client for the hosted structured-extraction API:
// it posts page URLs with a prompt and a JSON schema and returns the typed
// items the service produced, dropping any that do not match the schema.
package extractapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

// Request is the body sent to the extraction endpoint.
type Request struct {
	URLs               []string        `json:"urls"`
	Prompt             string          `json:"prompt"`
	SystemPrompt       string          `json:"systemPrompt,omitempty"`
	Schema             json.RawMessage `json:"schema"`
	AllowExternalLinks bool            `json:"allowExternalLinks"`
	IncludeSubdomains  bool            `json:"includeSubdomains"`
}

type response struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Cache   remote.CacheOptions
	Retry   remote.RetryOptions
}

// Client calls the extraction API through the remote caller.
type Client struct {
	cfg    Config
	http   *http.Client
	caller *remote.Caller
	logger *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, caller *remote.Caller, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("extraction api base url is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("remote caller is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		caller: caller,
		logger: logging.OrNop(logger).Named("extractapi"),
	}, nil
}

// Extract runs req and returns the schema-valid items.
func (c *Client) Extract(ctx context.Context, req Request) ([]json.RawMessage, error) {
	items, err := remote.Call(ctx, c.caller,
		remote.Request{Source: "extract", URL: c.cfg.BaseURL, Params: req},
		func(ctx context.Context) ([]json.RawMessage, error) { return c.post(ctx, req) },
		c.cfg.Cache, c.cfg.Retry,
	)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", strings.Join(req.URLs, ","), err)
	}
	return c.validate(req.Schema, items), nil
}

func (c *Client) post(ctx context.Context, req Request) ([]json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	raw, _, err := remote.Do(c.http, httpReq)
	if err != nil {
		return nil, err
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("extraction unsuccessful: %s", resp.Error)
	}
	return splitData(resp.Data)
}

// splitData accepts either an array of items or a single object.
func splitData(data json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		return items, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func (c *Client) validate(schema json.RawMessage, items []json.RawMessage) []json.RawMessage {
	if len(schema) == 0 || len(items) == 0 {
		return items
	}
	loader := gojsonschema.NewBytesLoader(schema)
	valid := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(item))
		if err != nil {
			c.logger.Warn("schema validation unavailable; keeping item", zap.Int("item", i), zap.Error(err))
			valid = append(valid, item)
			continue
		}
		if !result.Valid() {
			problems := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				problems = append(problems, e.String())
			}
			c.logger.Warn("dropping item that does not match schema",
				zap.Int("item", i),
				zap.Strings("errors", problems),
			)
			continue
		}
		valid = append(valid, item)
	}
	return valid
}
