// README: RFID to driver id cache; Redis in production, nothing in tests.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type IndexCache interface {
	Get(ctx context.Context, rfid string) (string, bool, error)
	Set(ctx context.Context, rfid, driverID string) error
	Delete(ctx context.Context, rfid string) error
}

type RedisIndexCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIndexCache(client *redis.Client, ttl time.Duration) *RedisIndexCache {
	return &RedisIndexCache{client: client, ttl: ttl}
}

func cacheKey(rfid string) string { return "toda:rfid:" + rfid }

func (c *RedisIndexCache) Get(ctx context.Context, rfid string) (string, bool, error) {
	v, err := c.client.Get(ctx, cacheKey(rfid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisIndexCache) Set(ctx context.Context, rfid, driverID string) error {
	return c.client.Set(ctx, cacheKey(rfid), driverID, c.ttl).Err()
}

func (c *RedisIndexCache) Delete(ctx context.Context, rfid string) error {
	return c.client.Del(ctx, cacheKey(rfid)).Err()
}
