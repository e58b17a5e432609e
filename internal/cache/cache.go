// Package cache holds the byte stores behind the capability memo.
package cache

import (
	"context"
	"time"
)

// Remote is a shared key/value tier such as Redis.
type Remote interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}
