package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

// CachedLoader routes page loads through the remote caller so renders share
// the response cache and per-host rate limit with every other remote call.
type CachedLoader struct {
	inner  crawler.PageLoader
	caller *remote.Caller
	cache  remote.CacheOptions
	retry  remote.RetryOptions
}

// NewCachedLoader wraps inner.
func NewCachedLoader(inner crawler.PageLoader, caller *remote.Caller, cache remote.CacheOptions, retry remote.RetryOptions) *CachedLoader {
	return &CachedLoader{inner: inner, caller: caller, cache: cache, retry: retry}
}

type loadParams struct {
	Script string `json:"script,omitempty"`
}

// Load implements crawler.PageLoader.
func (l *CachedLoader) Load(ctx context.Context, url, script string) (crawler.RawSection, error) {
	req := remote.Request{Source: "browser", URL: url, Params: loadParams{Script: scriptKey(script)}}
	return remote.Call(ctx, l.caller, req, func(ctx context.Context) (crawler.RawSection, error) {
		return l.inner.Load(ctx, url, script)
	}, l.cache, l.retry)
}

func scriptKey(script string) string {
	if script == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:8])
}
