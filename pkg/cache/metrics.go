package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks pages served from Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_page_cache_hits_total",
			Help: "Total number of ESI page cache hits",
		},
	)

	// CacheMisses tracks page lookups not found in Redis
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_page_cache_misses_total",
			Help: "Total number of ESI page cache misses",
		},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_304_responses_total",
			Help: "Total number of ESI 304 Not Modified responses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
