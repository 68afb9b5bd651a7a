package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/synqronlabs/smtpd"
)

const (
	DefaultCacheTTL         = time.Minute
	DefaultNegativeCacheTTL = 10 * time.Second
	DefaultCacheSize        = 100_000

	cacheCost      int64 = 1
	cacheNamespace       = "user"
)

// CacheConfig configures Cached.
type CacheConfig struct {
	// TTL applies to positive answers.
	TTL time.Duration
	// NegativeTTL applies to rejected addresses. Zero disables caching them.
	NegativeTTL time.Duration
	// Size is the approximate number of entries kept.
	Size int64
}

// Cached puts a TTL cache in front of a slower directory.
type Cached struct {
	next        smtpd.UserDirectory
	cache       *ristretto.Cache
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewCached wraps next with a cache. Zero config fields take the defaults.
func NewCached(next smtpd.UserDirectory, config CacheConfig) (*Cached, error) {
	if config.TTL == 0 {
		config.TTL = DefaultCacheTTL
	}
	if config.Size <= 0 {
		config.Size = DefaultCacheSize
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.Size * 10, // number of keys to track frequency of
		MaxCost:     config.Size * cacheCost,
		BufferItems: 64, // number of keys per Get buffer
	})
	if err != nil {
		return nil, fmt.Errorf("directory: create cache: %w", err)
	}

	return &Cached{
		next:        next,
		cache:       cache,
		ttl:         config.TTL,
		negativeTTL: config.NegativeTTL,
	}, nil
}

// IsValidUser answers from the cache when it can, and from the inner
// directory otherwise.
func (c *Cached) IsValidUser(ctx context.Context, address string) bool {
	key := cacheKey(address)
	if v, ok := c.cache.Get(key); ok {
		if valid, ok := v.(bool); ok {
			return valid
		}
	}

	valid := c.next.IsValidUser(ctx, address)
	// A cancelled lookup says nothing about the address.
	if ctx.Err() != nil {
		return valid
	}

	switch {
	case valid:
		c.cache.SetWithTTL(key, true, cacheCost, c.ttl)
	case c.negativeTTL > 0:
		c.cache.SetWithTTL(key, false, cacheCost, c.negativeTTL)
	}
	return valid
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}

func cacheKey(address string) string {
	return fmt.Sprintf("%s:%s", cacheNamespace, address)
}
