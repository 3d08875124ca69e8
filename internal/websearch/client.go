// Package websearch queries a Brave-style web search API for the web channel
// of retrieval.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/deepresearch/internal/domain"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.search.brave.com"
	searchPath      = "/res/v1/web/search"
	maxResultCount  = 20
	defaultCacheTTL = 15 * time.Minute
)

// ErrNoAPIKey is returned when the client is built without a subscription token.
var ErrNoAPIKey = errors.New("web search API key not set")

// Config holds web search client settings.
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	CacheTTL          time.Duration
	HTTPClient        *http.Client
}

// Client calls the search API with a shared rate limit and caches responses
// per (query, count).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *gocache.Cache
}

// NewClient builds a client. A zero RequestsPerSecond leaves calls unthrottled.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		cache:      gocache.New(ttl, 2*ttl),
	}, nil
}

type searchResponse struct {
	Web struct {
		Results []searchResult `json:"results"`
	} `json:"web"`
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age"`
}

// APIError is a non-2xx answer from the search API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("web search error (%d): %s", e.StatusCode, e.Body)
}

// Search returns up to count results for query.
func (c *Client) Search(ctx context.Context, query string, count int) ([]domain.WebHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.WebHit{}, nil
	}
	if count <= 0 || count > maxResultCount {
		count = maxResultCount
	}

	key := strconv.Itoa(count) + "|" + query
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]domain.WebHit), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("web search rate limit: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	hits := make([]domain.WebHit, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if r.URL == "" {
			continue
		}
		hits = append(hits, domain.WebHit{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     stripTags(r.Description),
			PublishedAt: parsePageAge(r.PageAge),
		})
		if len(hits) == count {
			break
		}
	}

	c.cache.SetDefault(key, hits)
	return hits, nil
}

// stripTags removes the <strong> highlight markup the API puts in snippets and
// decodes entities.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(html.UnescapeString(b.String()))
}

var pageAgeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parsePageAge(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range pageAgeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
