package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/cache/memory"
	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "text/html")
		switch page {
		case "", "1":
			fmt.Fprintf(w, `<html><body>
				<a href="/server/acme/mongo-mcp">Mongo</a>
				<a href="/server/acme/mongo-mcp/tools">Mongo tools</a>
				<a href="%s/server/fetch">Fetch</a>
				<a href="/blog/post">Blog</a>
				<a rel="next" href="/servers?page=2">Next</a>
			</body></html>`, srv.URL)
		case "2":
			fmt.Fprint(w, `<html><body>
				<a href="/server/beta/github">GitHub</a>
				<a rel="next" href="/servers?page=3">Next</a>
			</body></html>`)
		default:
			fmt.Fprint(w, `<html><body><a href="/server/gamma/late">Late</a></body></html>`)
		}
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	d := New(Config{
		MaxPages: 2,
		Layout: crawler.TabLayout{
			ServerURLTemplate: srv.URL + "/server/{owner}/{slug}",
			ToolsSuffix:       "/tools",
			APISuffix:         "/api",
		},
	}, nil, nil)

	found, err := d.Discover(context.Background(), srv.URL+"/servers")
	require.NoError(t, err)

	ids := make([]string, 0, len(found.Targets))
	for _, target := range found.Targets {
		ids = append(ids, target.Identity())
	}
	assert.Equal(t, []string{"acme-mongo-mcp", "fetch", "beta-github"}, ids)
	assert.Equal(t, srv.URL+"/server/acme/mongo-mcp/tools", found.Targets[0].URL(crawler.SectionTools))
	assert.Equal(t, 2, found.Pages)
	assert.Empty(t, found.Warnings)

	// Repeat runs see the listing again.
	again, err := d.Discover(context.Background(), srv.URL+"/servers")
	require.NoError(t, err)
	assert.Len(t, again.Targets, 3)
}

func TestDiscoverReportsFailedLaterPage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<a href="/server/acme/mongo">Mongo</a>
			<a rel="next" href="/servers?page=2">Next</a>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	d := New(Config{Layout: crawler.TabLayout{ServerURLTemplate: srv.URL + "/server/{owner}/{slug}"}}, nil, nil)
	found, err := d.Discover(context.Background(), srv.URL+"/servers")
	require.NoError(t, err)
	require.Len(t, found.Targets, 1)
	require.Len(t, found.Warnings, 1)
	assert.Contains(t, found.Warnings[0].Error(), "page=2")
}

func TestDiscoverCachesListingPages(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/server/acme/mongo">Mongo</a></body></html>`)
	}))
	t.Cleanup(srv.Close)

	caller := remote.New(memory.New(), nil)
	d := New(Config{
		Layout: crawler.TabLayout{ServerURLTemplate: srv.URL + "/server/{owner}/{slug}"},
		Cache:  remote.CacheOptions{TTL: time.Hour},
	}, caller, nil)

	for range 2 {
		found, err := d.Discover(context.Background(), srv.URL+"/servers")
		require.NoError(t, err)
		require.Len(t, found.Targets, 1)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestDiscoverListingFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	d := New(Config{Layout: crawler.TabLayout{ServerURLTemplate: srv.URL + "/server/{owner}/{slug}"}}, nil, nil)

	_, err := d.Discover(context.Background(), srv.URL+"/servers")
	require.Error(t, err)
}

func TestDiscoverCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-block }))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})
	d := New(Config{Timeout: 5 * time.Second, Layout: crawler.TabLayout{ServerURLTemplate: srv.URL + "/server/{slug}"}}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Discover(ctx, srv.URL+"/servers")
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	d := New(Config{UserAgent: "directory-crawler", RespectRobots: true, Timeout: time.Second}, nil, nil)
	collector, robots := d.buildCollector()
	assert.Equal(t, "directory-crawler", collector.UserAgent)
	assert.False(t, collector.IgnoreRobotsTxt)
	assert.NotNil(t, robots)
	assert.NotNil(t, d.caller)

	d = New(Config{}, nil, nil)
	collector, robots = d.buildCollector()
	assert.True(t, collector.IgnoreRobotsTxt)
	assert.Nil(t, robots)
	assert.Equal(t, defaultLinkSelector, d.cfg.LinkSelector)
	assert.Equal(t, defaultMaxPages, d.cfg.MaxPages)
}

type stubHooks struct {
	onRequest colly.RequestCallback
	onHTML    map[string]colly.HTMLCallback
	onError   colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) { s.onRequest = cb }

func (s *stubHooks) OnHTML(selector string, cb colly.HTMLCallback) {
	if s.onHTML == nil {
		s.onHTML = map[string]colly.HTMLCallback{}
	}
	s.onHTML[selector] = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) { s.onError = cb }

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	d := New(Config{}, nil, nil)
	state := &discovery{seen: map[string]struct{}{}}
	hooks := &stubHooks{}
	d.configureCollectorHooks(hooks, state)

	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onError)
	assert.Contains(t, hooks.onHTML, defaultLinkSelector)
	assert.Contains(t, hooks.onHTML, defaultNextSelector)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	assert.Contains(t, req.Headers.Get("Accept"), "text/html")
	assert.Equal(t, 1, state.pages)
}
