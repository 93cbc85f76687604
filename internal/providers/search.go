// Package providers supplies the corpus search and feedback sources that
// dataset assembly and continuous training consume.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultSearchTimeout is the default HTTP timeout.
	DefaultSearchTimeout = 10 * time.Second

	// DefaultSearchRateLimit is the default rate limit (requests per second).
	DefaultSearchRateLimit = 10
)

// SearchClient queries an external corpus search service over HTTP.
type SearchClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// SearchClientOption configures the SearchClient.
type SearchClientOption func(*SearchClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) SearchClientOption {
	return func(c *SearchClient) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) SearchClientOption {
	return func(c *SearchClient) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewSearchClient creates a search service client.
func NewSearchClient(baseURL, apiKey string, timeout time.Duration, logger arbor.ILogger, opts ...SearchClientOption) *SearchClient {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}

	c := &SearchClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(DefaultSearchRateLimit), DefaultSearchRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// searchResponse is the wire shape the search service returns.
type searchResponse struct {
	Results []models.SearchResult `json:"results"`
}

// Search returns up to limit documents matching the query, best first.
func (c *SearchClient) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	reqURL := fmt.Sprintf("%s/api/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	c.logger.Debug().
		Str("query", query).
		Int("limit", limit).
		Msg("Search service request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search service returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return parsed.Results, nil
}

// Name identifies the provider in logs.
func (c *SearchClient) Name() string {
	return "search-service"
}

var _ interfaces.SearchProvider = (*SearchClient)(nil)
