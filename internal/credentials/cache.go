package credentials

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const cacheKey = "credential"

// Cached remembers a provider's credential for ttl. Failures are not cached.
type Cached struct {
	next  Provider
	cache *cache.Cache
}

func NewCached(next Provider, ttl time.Duration) *Cached {
	cleanup := ttl * 2
	if ttl <= 0 {
		cleanup = time.Minute
	}
	return &Cached{next: next, cache: cache.New(ttl, cleanup)}
}

func (c *Cached) Credential(ctx context.Context) (string, error) {
	if v, found := c.cache.Get(cacheKey); found {
		return v.(string), nil
	}
	v, err := c.next.Credential(ctx)
	if err != nil {
		return "", err
	}
	c.cache.Set(cacheKey, v, cache.DefaultExpiration)
	return v, nil
}

// Invalidate drops the cached value so the next call hits the provider.
func (c *Cached) Invalidate() {
	c.cache.Delete(cacheKey)
}
