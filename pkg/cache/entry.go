package cache

import (
	"time"
)

// Entry is a cached API response body with its validators.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry must be revalidated
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header, if any
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode of the cached response
	StatusCode int `json:"status_code"`

	// ContentType of the cached body
	ContentType string `json:"content_type,omitempty"`

	// CachedAt is when the response was stored
	CachedAt time.Time `json:"cached_at"`

	// NoStore marks a response sent with Cache-Control: no-store; Set
	// ignores it
	NoStore bool `json:"-"`
}

// IsExpired returns true if the entry has to be revalidated.
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

// CanRevalidate reports whether the entry carries a validator the API can
// answer with 304 Not Modified.
func (e *Entry) CanRevalidate() bool {
	return e != nil && (e.ETag != "" || !e.LastModified.IsZero())
}
