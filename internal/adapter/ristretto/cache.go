// Package ristretto is the in-process L1 for definition reads and drafts.
package ristretto

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/CoachForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

const (
	minCounters = 1 << 10
	// avgEntryBytes estimates a cached definition row; ristretto wants about
	// ten counters per expected entry.
	avgEntryBytes = 2 << 10
)

// Cache is a size-bounded cache whose cost is the entry's key plus value
// length in bytes.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// Stats reports hit counters since the cache was created.
type Stats struct {
	Hits   uint64
	Misses uint64
	Ratio  float64
}

// New creates a cache holding at most maxCostBytes of keys and values.
func New(maxCostBytes int64) (*Cache, error) {
	counters := maxCostBytes / avgEntryBytes * 10
	if counters < minCounters {
		counters = minCounters
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set copies value and waits for the write buffer so a following Get sees
// it. Entries larger than the whole cache are rejected silently.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := append([]byte(nil), value...)
	c.c.SetWithTTL(key, v, int64(len(v))+int64(len(key)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

func (c *Cache) Stats() Stats {
	m := c.c.Metrics
	if m == nil {
		return Stats{}
	}
	return Stats{Hits: m.Hits(), Misses: m.Misses(), Ratio: m.Ratio()}
}

// Close logs the final hit counters and stops the cache's goroutines.
func (c *Cache) Close() {
	s := c.Stats()
	slog.Info("l1 cache closed", "hits", s.Hits, "misses", s.Misses, "hit_ratio", s.Ratio)
	c.c.Close()
}
