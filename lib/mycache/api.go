package mycache

import (
	"context"
	"os"
	"time"
)

// CounterCache is a shared cache of expiring counters. Increment must be
// atomic with respect to concurrent callers for the same key.
//
//go:generate mockgen -source=api.go -package mycache -destination cache_mock.go CounterCache
type CounterCache interface {
	// Increment bumps the counter for key and returns the new value.
	// The ttl is applied only when the counter is created.
	Increment(c context.Context, key string, ttl time.Duration) (int64, error)
	TTL(c context.Context, key string) (time.Duration, error)
	Ping(c context.Context) error
}

func New(c context.Context) (CounterCache, func(), error) {
	if os.Getenv("REDIS_ADDR") != "" {
		return newRedisCache(c)
	}

	return NewInMemoryCache(c)
}
