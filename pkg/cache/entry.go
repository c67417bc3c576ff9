package cache

import "time"

// Entry is a cached ESI page.
type Entry struct {
	// Data is the raw JSON page body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag"`

	// Expires is when the entry becomes stale (from the ESI Expires header)
	Expires time.Time `json:"expires"`

	// LastModified is when ESI last changed the data
	LastModified time.Time `json:"last_modified"`

	// Pages is the X-Pages value returned with this page
	Pages int `json:"pages"`

	// CachedAt is when the entry was stored
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
