// Package cache defines the caching ports used for definition reads and
// onboarding drafts.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values by key. A miss is (nil, false, nil); an error
// means the backend could not answer.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Evictions fans deleted keys out to every running replica so in-process
// caches drop entries another replica invalidated. Delivery is best effort.
type Evictions interface {
	PublishEviction(ctx context.Context, key string) error
	// OnEviction calls fn for every key published by any replica,
	// including this one. The returned function stops delivery.
	OnEviction(fn func(key string)) (stop func(), err error)
}
