// Package tiered layers an in-process cache in front of a shared one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/CoachForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache reads L1 then L2, backfilling L1 on an L2 hit. An unreachable L2
// degrades to a miss so reads fall through to the store. Writes go to both
// levels.
//
// Without evictions attached, another replica's L1 may serve a deleted key
// until its L1 expiry.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	evict    cache.Evictions
}

// New creates a tiered cache. l1Expire caps how long entries live in L1;
// zero uses the caller's TTL.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// AttachEvictions broadcasts every Delete through ev and drops keys other
// replicas delete from this replica's L1. It must be called before the cache
// is shared. The returned function stops receiving evictions.
func (c *Cache) AttachEvictions(ev cache.Evictions) (func(), error) {
	stop, err := ev.OnEviction(func(key string) {
		if err := c.l1.Delete(context.Background(), key); err != nil {
			slog.Warn("l1 eviction failed", "key", key, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.evict = ev
	return stop, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "l2 cache read failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL(0))
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete clears L1 before L2, then tells the other replicas. A failed
// broadcast is logged; the L1 expiry bounds the staleness it leaves behind.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		return err
	}
	if c.evict != nil {
		if err := c.evict.PublishEviction(ctx, key); err != nil {
			slog.WarnContext(ctx, "cache eviction broadcast failed", "key", key, "error", err)
		}
	}
	return nil
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if c.l1Expire > 0 && (ttl <= 0 || ttl > c.l1Expire) {
		return c.l1Expire
	}
	return ttl
}
