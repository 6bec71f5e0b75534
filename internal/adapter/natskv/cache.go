// Package natskv is the shared L2 cache on a JetStream KV bucket, used when
// the engine already runs against NATS.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/CoachForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache stores values under base64url-encoded keys, since definition keys
// contain ':' which KV keys reject. Expiry is the bucket TTL; the per-call
// TTL is ignored.
type Cache struct {
	kv jetstream.KeyValue
}

func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

func kvKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// missing reports a key that was never written or was deleted; Get returns
// ErrKeyNotFound for both.
func missing(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	switch {
	case err == nil:
		return entry.Value(), true, nil
	case missing(err):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("natskv get %s: %w", key, err)
	}
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, kvKey(key), value); err != nil {
		return fmt.Errorf("natskv put %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, kvKey(key)); err != nil && !missing(err) {
		return fmt.Errorf("natskv delete %s: %w", key, err)
	}
	return nil
}
