// Package metrics documents the Prometheus metrics exported by esi-pager.
// Metrics are declared with promauto next to the code that records them
// (paged, client, cache, ratelimit); this package holds the shared registry
// and the HTTP handler that exposes it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all promauto metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Page Model Metrics (pkg/paged):
//   - paged_fetches_total{outcome} (Counter): Page fetches by outcome (success, failure, abandoned)
//   - paged_fetch_duration_seconds (Histogram): Duration of fetches that settled their waiters
//   - paged_fetches_in_flight (Gauge): Page fetches currently outstanding
//   - paged_joins_total (Counter): Resolve calls that joined an in-flight fetch
//   - paged_cancellations_total{scope} (Counter): Withdrawn waiters (waiter) and cancelled fetches (fetch)
//
// Page Cache Metrics (pkg/cache):
//   - esi_page_cache_hits_total (Counter): ESI page bodies served from Redis
//   - esi_page_cache_misses_total (Counter): ESI page lookups not found in Redis
//   - esi_page_cache_errors_total{operation} (Counter): Cache operation errors
//   - esi_304_responses_total (Counter): 304 Not Modified responses
//
// Request Metrics (pkg/client):
//   - esi_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - esi_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - esi_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - esi_retries_total{error_class} (Counter): Retry attempts by error class
//   - esi_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Error Limit Metrics (pkg/ratelimit):
//   - esi_errors_remaining (Gauge): Errors remaining in the ESI error limit window
//   - esi_rate_limit_blocks_total (Counter): Requests blocked due to critical error limit
//   - esi_rate_limit_throttles_total (Counter): Requests throttled due to warning error limit
//
// Example Prometheus Queries:
//
//   # Share of resolve calls served by an existing fetch
//   rate(paged_joins_total[5m]) / sum(rate(paged_fetches_total[5m]))
//
//   # Abandoned fetch rate
//   rate(paged_fetches_total{outcome="abandoned"}[5m])
//
//   # P95 page fetch latency
//   histogram_quantile(0.95, rate(paged_fetch_duration_seconds_bucket[5m]))
//
//   # Error Limit Status
//   esi_errors_remaining < 20
