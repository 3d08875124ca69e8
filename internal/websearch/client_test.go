package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "web": {
    "results": [
      {"title": "Battery density limits", "url": "https://www.nature.com/articles/x", "description": "Why <strong>lithium</strong> cells plateau", "page_age": "2025-11-03T08:00:00"},
      {"title": "No URL", "url": "", "description": "dropped"},
      {"title": "DOE report", "url": "https://energy.gov/report", "description": "Grid storage outlook", "page_age": "yesterday"}
    ]
  }
}`

func newTestServer(t *testing.T, calls *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestSearch_ParsesResults(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, searchPath, r.URL.Path)
		assert.Equal(t, "battery density", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	})

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	hits, err := client.Search(context.Background(), "  battery density ", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "Battery density limits", hits[0].Title)
	assert.Equal(t, "Why lithium cells plateau", hits[0].Snippet)
	require.NotNil(t, hits[0].PublishedAt)
	assert.Equal(t, time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC), *hits[0].PublishedAt)

	assert.Equal(t, "https://energy.gov/report", hits[1].URL)
	assert.Nil(t, hits[1].PublishedAt)
}

func TestSearch_CachesByQueryAndCount(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	})

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.Search(ctx, "q", 5)
	require.NoError(t, err)
	_, err = client.Search(ctx, "q", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = client.Search(ctx, "q", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSearch_APIError(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "q", 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "quota exceeded")

	_, err = client.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "errors are not cached")
}

func TestSearch_EmptyQuerySkipsRequest(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {})

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	hits, err := client.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSearch_RateLimitHonoursContext(t *testing.T) {
	var calls int32
	srv := newTestServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"web":{"results":[]}}`))
	})

	client, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL, RequestsPerSecond: 0.001})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), "first", 5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Search(ctx, "second", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "a b c", stripTags("a <strong>b</strong> c"))
	assert.Equal(t, "AT&T \"fast\"", stripTags("AT&amp;T <b>&quot;fast&quot;</b>"))
}
