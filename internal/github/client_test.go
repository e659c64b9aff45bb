package github

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/remote"
)

func newTestClient(t *testing.T, h http.Handler, opts ...remote.Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append(opts, remote.WithSleep(func(context.Context, time.Duration) error { return nil }))
	c, err := New(Config{
		BaseURL:    srv.URL + "/api",
		RawBaseURL: srv.URL + "/raw",
		Token:      "secret",
		Retry:      remote.RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond},
	}, remote.New(nil, nil, opts...), srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestRepository(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/acme/mongo-mcp", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, apiVersion, r.Header.Get("X-GitHub-Api-Version"))
		_, _ = w.Write([]byte(`{"full_name":"acme/mongo-mcp","description":"Mongo","stargazers_count":42,
			"forks_count":3,"open_issues_count":1,"pushed_at":"2025-01-02T03:04:05Z","owner":{"login":"acme"}}`))
	})
	c := newTestClient(t, mux)

	repo, err := c.Repository(context.Background(), "acme", "mongo-mcp")
	require.NoError(t, err)
	assert.Equal(t, "acme/mongo-mcp", repo.FullName)
	assert.Equal(t, "acme", repo.Owner.Login)

	stats := repo.Stats()
	assert.Equal(t, 42, stats.Stars)
	assert.Equal(t, 3, stats.Forks)
	assert.Equal(t, 1, stats.OpenIssues)
	require.NotNil(t, stats.LastUpdated)
	assert.Equal(t, 2025, stats.LastUpdated.Year())
}

func TestRepositoryNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Repository(context.Background(), "acme", "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestRepositoryRetriesExhaustedBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"full_name":"acme/x"}`))
	}))

	repo, err := c.Repository(context.Background(), "acme", "x")
	require.NoError(t, err)
	assert.Equal(t, "acme/x", repo.FullName)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReadmeFromAPI(t *testing.T) {
	t.Parallel()

	content := base64.StdEncoding.EncodeToString([]byte("# Mongo MCP\n\nHello"))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/acme/mongo/readme", func(w http.ResponseWriter, _ *http.Request) {
		// Wrapped the way the API returns it.
		_, _ = w.Write([]byte(`{"encoding":"base64","content":"` + content[:8] + `\n` + content[8:] + `"}`))
	})
	c := newTestClient(t, mux)

	text, err := c.Readme(context.Background(), "acme", "mongo")
	require.NoError(t, err)
	assert.Equal(t, "# Mongo MCP\n\nHello", text)
}

func TestReadmeFallsBackToRawBranches(t *testing.T) {
	t.Parallel()

	var mainHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/raw/acme/mongo/main/README.md", func(w http.ResponseWriter, _ *http.Request) {
		mainHits.Add(1)
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/raw/acme/mongo/master/README.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-GitHub-Api-Version"))
		_, _ = w.Write([]byte("# From master"))
	})
	c := newTestClient(t, mux)

	text, err := c.Readme(context.Background(), "acme", "mongo")
	require.NoError(t, err)
	assert.Equal(t, "# From master", text)
	assert.Equal(t, int32(1), mainHits.Load())
}

func TestReadmeNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Readme(context.Background(), "acme", "none")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestContributorCount(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/acme/big/contributors", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Link", `<https://api.github.com/repositories/1/contributors?per_page=1&page=2>; rel="next", `+
			`<https://api.github.com/repositories/1/contributors?per_page=1&page=57>; rel="last"`)
		_, _ = w.Write([]byte(`[{"login":"a"}]`))
	})
	mux.HandleFunc("/api/repos/acme/small/contributors", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"login":"a"}]`))
	})
	mux.HandleFunc("/api/repos/acme/empty/contributors", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	n, err := c.ContributorCount(ctx, "acme", "big")
	require.NoError(t, err)
	assert.Equal(t, 57, n)

	n, err = c.ContributorCount(ctx, "acme", "small")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.ContributorCount(ctx, "acme", "empty")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatsToleratesContributorFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/repos/acme/x", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"stargazers_count":5}`))
	})
	mux.HandleFunc("/api/repos/acme/x/contributors", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)

	_, stats, err := c.Stats(context.Background(), "acme", "x")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Stars)
	assert.Zero(t, stats.Contributors)
}

func TestNewRequiresCaller(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)
}
