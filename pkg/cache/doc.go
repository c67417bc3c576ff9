// Package cache stores ESI page bodies in Redis so that pages survive process
// restarts and are shared between instances.
//
// Entries are keyed by endpoint, query and page number and expire when the
// ESI Expires header says so. The stored ETag allows a conditional request
// once the entry is stale.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.PageKey{Endpoint: "/v1/markets/10000002/orders/", Page: 3}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from ESI, then
//		entry, err = cache.ResponseToEntry(resp)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - esi_page_cache_hits_total
//   - esi_page_cache_misses_total
//   - esi_page_cache_errors_total{operation}
//   - esi_304_responses_total
package cache
