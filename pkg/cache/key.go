package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix prefixes every Redis key written by the page cache.
const KeyPrefix = "esi-pager"

// PageKey identifies one page of a paginated ESI endpoint.
type PageKey struct {
	// Endpoint is the ESI endpoint path (e.g., "/v1/markets/10000002/orders/")
	Endpoint string

	// Query holds additional query parameters; a "page" entry is ignored
	Query url.Values

	// Page is the one-based ESI page number
	Page int
}

// String generates a deterministic key.
//
// Example:
//
//	esi-pager:v1/markets/10000002/orders:order_type=all:page=3
func (k PageKey) String() string {
	parts := []string{KeyPrefix}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			if name == "page" {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Query.Get(name)))
		}
	}

	parts = append(parts, fmt.Sprintf("page=%d", k.Page))
	return strings.Join(parts, ":")
}
