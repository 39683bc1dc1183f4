package cache

import (
	"context"
	"time"
)

// Cache is the key-value store used for short-lived coordination state
// such as the SMS dedup window.
type Cache interface {
	// Get returns the value and whether the key exists and is unexpired.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value with the given expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and is unexpired.
	Exists(ctx context.Context, key string) bool

	// GetWithTTL returns the value and its remaining TTL.
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, bool)

	// Close releases the backing store.
	Close() error
}

// Config selects and configures a cache backend.
type Config struct {
	// Type is "local" or "redis".
	Type string `json:"type" env:"CACHE_TYPE"`

	Redis RedisConfig `json:"redis"`
	Local LocalConfig `json:"local"`
}

type RedisConfig struct {
	Addr         string        `json:"addr" env:"REDIS_ADDR"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" env:"REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"REDIS_POOL_SIZE"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`
}

type LocalConfig struct {
	DefaultExpiration time.Duration `json:"default_expiration" env:"LOCAL_CACHE_DEFAULT_EXPIRATION"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"LOCAL_CACHE_CLEANUP_INTERVAL"`
}
