package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cached is a read-through, write-through cache in front of another
// store. Missing records are not cached.
type Cached struct {
	inner Store
	cache *ttlcache.Cache[string, Record]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner with a cache whose entries live for ttl.
func NewCached(inner Store, ttl time.Duration) *Cached {
	cache := ttlcache.New[string, Record](
		ttlcache.WithTTL[string, Record](ttl),
		ttlcache.WithDisableTouchOnHit[string, Record](),
	)
	go cache.Start()

	return &Cached{inner: inner, cache: cache}
}

func cacheKey(kind, key string) string {
	return kind + "/" + key
}

func (c *Cached) ReadRecord(ctx context.Context, kind, key string) (Record, error) {
	if item := c.cache.Get(cacheKey(kind, key)); item != nil {
		c.hits.Add(1)
		return item.Value().clone(), nil
	}
	c.misses.Add(1)

	rec, err := c.inner.ReadRecord(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	c.cache.Set(cacheKey(kind, key), rec.clone(), ttlcache.DefaultTTL)
	return rec, nil
}

func (c *Cached) WriteRecord(ctx context.Context, kind, key string, record Record) error {
	if err := c.inner.WriteRecord(ctx, kind, key, record); err != nil {
		c.cache.Delete(cacheKey(kind, key))
		return err
	}
	c.cache.Set(cacheKey(kind, key), record.clone(), ttlcache.DefaultTTL)
	return nil
}

func (c *Cached) CreateRecord(ctx context.Context, kind, key string, record Record) error {
	if err := c.inner.CreateRecord(ctx, kind, key, record); err != nil {
		// a lost race means the cached copy, if any, may be stale
		c.cache.Delete(cacheKey(kind, key))
		return err
	}
	c.cache.Set(cacheKey(kind, key), record.clone(), ttlcache.DefaultTTL)
	return nil
}

func (c *Cached) ListRecords(ctx context.Context, kind string, limit int) ([]Entry, error) {
	return c.inner.ListRecords(ctx, kind, limit)
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func (c *Cached) Stats() CacheStats {
	return CacheStats{Entries: c.cache.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *Cached) Close() error {
	c.cache.Stop()
	c.cache.DeleteAll()
	return c.inner.Close()
}
