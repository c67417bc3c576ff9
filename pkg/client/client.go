// Package client provides the ESI HTTP client used to fetch single pages of
// paginated endpoints, with request pacing, error limit gating, Redis page
// caching and retries.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/esi-pager/pkg/cache"
	"github.com/Sternrassler/esi-pager/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public ESI host.
const DefaultBaseURL = "https://esi.evetech.net"

// Client fetches pages from ESI.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	tracker    *ratelimit.Tracker
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis client for page caching and shared error limit state (optional)
	Redis *redis.Client

	// BaseURL of the ESI host
	BaseURL string

	// User-Agent header (REQUIRED by ESI)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// RateLimit is the maximum number of requests per second
	RateLimit int

	// ErrorThreshold blocks requests when errors remaining < threshold
	ErrorThreshold int

	// Retry controls retries of server, rate limit and network errors
	Retry RetryConfig

	// Timeout per HTTP request
	Timeout time.Duration

	// StaleRetention keeps expired pages with an ETag for conditional requests
	StaleRetention time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:          redis,
		BaseURL:        DefaultBaseURL,
		UserAgent:      userAgent,
		RateLimit:      10,
		ErrorThreshold: 10,
		Retry:          DefaultRetryConfig(),
		Timeout:        30 * time.Second,
		StaleRetention: 1 * time.Hour,
	}
}

// New creates a new ESI client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.ErrorThreshold < 5 {
		return nil, fmt.Errorf("error_threshold must be >= 5 (got %d)", cfg.ErrorThreshold)
	}

	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("rate_limit must be > 0 (got %d)", cfg.RateLimit)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "esi-client").Logger()

	trackerCfg := ratelimit.DefaultConfig()
	trackerCfg.Critical = cfg.ErrorThreshold
	if trackerCfg.Warning < cfg.ErrorThreshold*2 {
		trackerCfg.Warning = cfg.ErrorThreshold * 2
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tracker: ratelimit.NewTracker(cfg.Redis, trackerCfg, logger),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		config:  cfg,
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// FetchPage fetches one page of a paginated endpoint. page is one-based, as
// in ESI. It returns the raw JSON body and the X-Pages total.
func (c *Client) FetchPage(ctx context.Context, endpoint string, page int) ([]byte, int, error) {
	if page < 1 {
		return nil, 0, fmt.Errorf("page must be >= 1 (got %d)", page)
	}

	path, query, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, 0, err
	}

	key := cache.PageKey{Endpoint: path, Query: query, Page: page}
	logger := c.logger.With().Str("endpoint", path).Int("esi_page", page).Logger()

	cached := c.cachedPage(ctx, key, logger)
	if cached != nil && !cached.IsExpired() {
		logger.Debug().Msg("Page served from cache")
		return cached.Data, cached.Pages, nil
	}

	var resp *http.Response
	err = retryWithBackoff(ctx, c.config.Retry, logger, func() error {
		var reqErr error
		resp, reqErr = c.do(ctx, path, query, page, cached)
		return reqErr
	})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		cache.NotModifiedResponses.Inc()
		logger.Debug().Msg("304 Not Modified - using cache")

		pages := cached.Pages
		if resp.Header.Get(cache.HeaderPages) != "" {
			pages = cache.ParsePages(resp.Header)
		}

		if c.cache != nil {
			if _, err := c.cache.Refresh(ctx, key, cache.ParseExpires(resp.Header), c.config.StaleRetention); err != nil {
				logger.Warn().Err(err).Msg("Failed to refresh cached page")
			}
		}
		return cached.Data, pages, nil
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return nil, 0, fmt.Errorf("read page %d of %s: %w", page, path, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, entry, c.config.StaleRetention); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache page")
		}
	}

	return entry.Data, entry.Pages, nil
}

// cachedPage returns the cached entry for key, or nil.
func (c *Client) cachedPage(ctx context.Context, key cache.PageKey, logger zerolog.Logger) *cache.Entry {
	if c.cache == nil {
		return nil
	}

	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache get error")
		}
		return nil
	}
	return entry
}

// do performs a single HTTP attempt. Error statuses are returned as *ESIError.
func (c *Client) do(ctx context.Context, path string, query url.Values, page int, cached *cache.Entry) (*http.Response, error) {
	if err := c.tracker.Allow(ctx); err != nil {
		esiRequestsTotal.WithLabelValues(path, "rate_limited").Inc()
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	if cache.ShouldMakeConditionalRequest(cached) {
		cache.AddConditionalHeaders(req, cached)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	esiRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if err != nil {
		esiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		esiRequestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", path).Int("esi_page", page).Msg("HTTP request failed")
		return nil, &ESIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	esiRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update error limit from headers")
	}

	if resp.StatusCode == http.StatusNotModified && cached == nil {
		resp.Body.Close()
		return nil, &ESIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "304 without cached page",
		}
	}

	if resp.StatusCode >= 400 {
		errorClass := classifyStatus(resp.StatusCode)
		esiErrorsTotal.WithLabelValues(string(errorClass)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		c.logger.Warn().
			Str("endpoint", path).
			Int("esi_page", page).
			Int("status", resp.StatusCode).
			Str("error_class", string(errorClass)).
			Msg("ESI request error")

		return nil, &ESIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errorClass,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}

// splitEndpoint separates an endpoint into its path and query.
func splitEndpoint(endpoint string) (string, url.Values, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Path == "" {
		return "", nil, fmt.Errorf("endpoint %q has no path", endpoint)
	}
	return u.Path, u.Query(), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
