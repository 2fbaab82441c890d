package mycache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCache struct {
	client *redis.Client
}

func newRedisCache(c context.Context) (*redisCache, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	return &redisCache{
			client: client,
		}, func() {
			client.Close()
		}, nil
}

func (r *redisCache) Increment(c context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(c, key)
	pipe.ExpireNX(c, key, ttl)
	_, err := pipe.Exec(c)
	if err != nil {
		return 0, fmt.Errorf("error incrementing counter %s: %s", key, err)
	}

	return incr.Val(), nil
}

func (r *redisCache) TTL(c context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(c, key).Result()
	if err != nil {
		return 0, fmt.Errorf("error fetching ttl of counter %s: %s", key, err)
	}

	return ttl, nil
}

func (r *redisCache) Ping(c context.Context) error {
	return r.client.Ping(c).Err()
}
