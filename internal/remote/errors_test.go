package remote

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "429", err: &StatusError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "503 wrapped", err: fmt.Errorf("fetch: %w", &StatusError{StatusCode: http.StatusServiceUnavailable}), want: true},
		{name: "exhausted 403", err: &StatusError{StatusCode: http.StatusForbidden, Exhausted: true}, want: true},
		{name: "plain 403", err: &StatusError{StatusCode: http.StatusForbidden}, want: false},
		{name: "message", err: errors.New("API Rate Limit exceeded"), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestNewStatusErrorHeaders(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", "12")
	e := NewStatusError("https://x", http.StatusTooManyRequests, h, []byte("slow down"), now)
	assert.Equal(t, 12*time.Second, e.RetryAfter)
	assert.Contains(t, e.Error(), "slow down")

	h = http.Header{}
	h.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	e = NewStatusError("https://x", http.StatusServiceUnavailable, h, nil, now)
	assert.Equal(t, 90*time.Second, e.RetryAfter)

	h = http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(5*time.Minute).Unix(), 10))
	e = NewStatusError("https://api.github.com/repos/a/b", http.StatusForbidden, h, nil, now)
	assert.True(t, e.Exhausted)
	assert.Equal(t, 5*time.Minute, e.RetryAfter)
	assert.True(t, IsRateLimit(e))
}

func TestDo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	require.NoError(t, err)
	body, _, err := Do(srv.Client(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/missing", nil)
	require.NoError(t, err)
	_, _, err = Do(srv.Client(), req)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsRateLimit(err))
}
