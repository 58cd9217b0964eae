package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value store with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored value and true, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. Last writer wins.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Ping reports whether the store is reachable
	Ping(ctx context.Context) error
}
