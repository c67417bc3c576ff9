package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/esi-pager/internal/testutil"
	"github.com/Sternrassler/esi-pager/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersPath = "/v1/markets/10000002/orders/"

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(nil, "esi-pager-test/1.0 (test@example.com)")
	cfg.BaseURL = baseURL
	cfg.RateLimit = 1000
	cfg.Retry = RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	return cfg
}

func newTestClient(t *testing.T, mock *testutil.MockESI) *Client {
	t.Helper()
	c, err := New(testConfig(mock.URL()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:     "empty user agent",
			mutate:   func(c *Config) { c.UserAgent = "" },
			errorMsg: "user-agent is required",
		},
		{
			name:     "error threshold too low",
			mutate:   func(c *Config) { c.ErrorThreshold = 2 },
			errorMsg: "error_threshold must be >= 5",
		},
		{
			name:     "zero rate limit",
			mutate:   func(c *Config) { c.RateLimit = 0 },
			errorMsg: "rate_limit must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost")
			tt.mutate(&cfg)

			c, err := New(cfg)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.Nil(t, c.cache, "no cache without redis")
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(nil, "ua")

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "ua", cfg.UserAgent)
	assert.Equal(t, 10, cfg.RateLimit)
	assert.Equal(t, 10, cfg.ErrorThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockESI()
	defer mock.Close()
	mock.SetIntListing(ordersPath, 3, 8)

	c := newTestClient(t, mock)

	data, pages, err := c.FetchPage(context.Background(), ordersPath, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.JSONEq(t, `[3,4,5]`, string(data))

	data, _, err = c.FetchPage(context.Background(), ordersPath, 3)
	require.NoError(t, err)
	assert.JSONEq(t, `[6,7]`, string(data))
}

func TestFetchPage_QueryParamsKept(t *testing.T) {
	var gotQuery string
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("X-Pages", "1")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	require.NoError(t, err)

	_, pages, err := c.FetchPage(context.Background(), ordersPath+"?order_type=sell", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, "order_type=sell&page=1", gotQuery)
	assert.Equal(t, "esi-pager-test/1.0 (test@example.com)", gotUA)
}

func TestFetchPage_InvalidPage(t *testing.T) {
	c, err := New(testConfig("http://localhost"))
	require.NoError(t, err)

	_, _, err = c.FetchPage(context.Background(), ordersPath, 0)
	assert.Error(t, err)
}

func TestFetchPage_RetryOnServerError(t *testing.T) {
	mock := testutil.NewMockESI()
	defer mock.Close()
	mock.SetIntListing(ordersPath, 3, 8)
	mock.FailPage(ordersPath, 2, http.StatusBadGateway, http.StatusServiceUnavailable)

	c := newTestClient(t, mock)

	data, _, err := c.FetchPage(context.Background(), ordersPath, 2)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,4,5]`, string(data))
	assert.Equal(t, 3, mock.Requests(ordersPath, 2))
}

func TestFetchPage_NoRetryOnClientError(t *testing.T) {
	mock := testutil.NewMockESI()
	defer mock.Close()
	mock.SetIntListing(ordersPath, 3, 8)

	c := newTestClient(t, mock)

	_, _, err := c.FetchPage(context.Background(), ordersPath, 9)
	require.Error(t, err)

	var esiErr *ESIError
	require.ErrorAs(t, err, &esiErr)
	assert.Equal(t, http.StatusNotFound, esiErr.StatusCode)
	assert.Equal(t, ErrorClassClient, esiErr.ErrorClass)
	assert.Equal(t, 1, mock.Requests(ordersPath, 9))
}

func TestFetchPage_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockESI()
	defer mock.Close()
	mock.SetIntListing(ordersPath, 3, 8)
	mock.FailPage(ordersPath, 1, 500, 500, 500, 500)

	c := newTestClient(t, mock)

	_, _, err := c.FetchPage(context.Background(), ordersPath, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, ErrorClassServer, classOf(err))
	assert.Equal(t, 3, mock.Requests(ordersPath, 1))
}

func TestFetchPage_BlockedByErrorLimit(t *testing.T) {
	mock := testutil.NewMockESI()
	defer mock.Close()
	mock.SetIntListing(ordersPath, 3, 8)
	mock.ErrorsRemaining = 2

	c := newTestClient(t, mock)

	// The first response reports the critical budget; the next request is blocked.
	_, _, err := c.FetchPage(context.Background(), ordersPath, 1)
	require.NoError(t, err)

	_, _, err = c.FetchPage(context.Background(), ordersPath, 2)
	assert.ErrorIs(t, err, ratelimit.ErrBlocked)
	assert.Equal(t, 0, mock.Requests(ordersPath, 2))
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockESI()
	defer mock.Close()
	mock.SetIntListing(ordersPath, 3, 8)
	mock.SetDelay(time.Second)

	c := newTestClient(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := c.FetchPage(ctx, ordersPath, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestSplitEndpoint(t *testing.T) {
	path, query, err := splitEndpoint("/v1/markets/10000002/orders/?order_type=buy&type_id=34")
	require.NoError(t, err)
	assert.Equal(t, ordersPath, path)
	assert.Equal(t, "buy", query.Get("order_type"))
	assert.Equal(t, "34", query.Get("type_id"))

	_, _, err = splitEndpoint("?page=1")
	assert.Error(t, err)
}
