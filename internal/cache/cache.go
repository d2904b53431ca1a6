package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache. A nil implementation is a valid
// "no cache" configuration; callers must not depend on hits.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
