package cache

import "time"

// ClientKey identifies an upstream API client held for a user. Keeping
// clients behind an explicit keyed cache (instead of package-level maps)
// makes invalidation possible when a token is rotated.
type ClientKey struct {
	UserID int64
	API    string
}

const defaultClientTTL = 30 * time.Minute

// ClientCache holds constructed API clients with a TTL.
type ClientCache[V any] struct {
	ttl   time.Duration
	inner *TTLCache[ClientKey, V]
}

// NewClientCache builds a client cache. A non-positive ttl falls back to the
// default.
func NewClientCache[V any](ttl time.Duration) *ClientCache[V] {
	if ttl <= 0 {
		ttl = defaultClientTTL
	}
	return &ClientCache[V]{ttl: ttl, inner: NewTTLCache[ClientKey, V]()}
}

// GetOrCreate returns the cached client for the key, constructing and
// caching a fresh one on miss.
func (c *ClientCache[V]) GetOrCreate(key ClientKey, create func() (V, error)) (V, error) {
	if value, ok := c.inner.Get(key); ok {
		return value, nil
	}
	value, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.inner.Set(key, value, c.ttl)
	return value, nil
}

// Invalidate drops the cached client for the key, forcing reconstruction on
// the next use.
func (c *ClientCache[V]) Invalidate(key ClientKey) {
	c.inner.Delete(key)
}
