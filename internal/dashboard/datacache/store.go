// Package datacache stores upstream API results for the dashboard, either in
// process or in Redis when several instances share one upstream quota.
package datacache

import (
	"context"
	"time"
)

// Store is a TTL byte cache.
type Store interface {
	// Key builds the store key of one upstream result.
	Key(source, hash string) string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
