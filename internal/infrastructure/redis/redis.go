package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a fixed-window rate counter backed by redis, shared across
// server instances.
type Counter struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Counter {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Counter{Client: rdb}
}

// Allow: simple fixed window (INCR + EXPIRE on first hit). Backend errors
// fail open: a redis outage must not take the analytics endpoint with it.
func (c *Counter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := c.Client.Incr(ctx, "ratelimit:"+key).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, "ratelimit:"+key, window).Err()
	}
	return count <= int64(limit), nil
}
