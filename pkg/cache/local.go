package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type localCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates an in-process cache backed by go-cache.
func NewLocalCache(config LocalConfig) Cache {
	defaultExpiration := config.DefaultExpiration
	if defaultExpiration <= 0 {
		defaultExpiration = 5 * time.Minute
	}
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &localCache{cache: gocache.New(defaultExpiration, cleanupInterval)}
}

func (lc *localCache) Get(_ context.Context, key string) (interface{}, bool) {
	return lc.cache.Get(key)
}

func (lc *localCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.cache.Set(key, value, expiration)
	return nil
}

func (lc *localCache) Delete(_ context.Context, key string) error {
	lc.cache.Delete(key)
	return nil
}

func (lc *localCache) Exists(_ context.Context, key string) bool {
	_, ok := lc.cache.Get(key)
	return ok
}

func (lc *localCache) GetWithTTL(_ context.Context, key string) (interface{}, time.Duration, bool) {
	value, expiration, ok := lc.cache.GetWithExpiration(key)
	if !ok {
		return nil, 0, false
	}
	if expiration.IsZero() {
		return value, 0, true
	}
	return value, time.Until(expiration), true
}

func (lc *localCache) Close() error {
	lc.cache.Flush()
	return nil
}
