package safety

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is the production WindowCounter, backed by Redis INCR+EXPIRE
// pipelines exactly as the pre-distillation rate limiter and safety-limits
// enforcer did against redis.asyncio.
type RedisCounter struct {
	Client *redis.Client
}

func NewRedisCounter(url string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCounter{Client: redis.NewClient(opts)}, nil
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.Client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := c.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	ttl, err := c.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	return count, ttl, nil
}

func (c *RedisCounter) Close() error {
	return c.Client.Close()
}
