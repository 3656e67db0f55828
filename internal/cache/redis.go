package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces metadata entries in a shared Redis.
const KeyPrefix = "evalmap:metadata:"

// redisClient is the subset of *redis.Client the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisCache stores zstd-compressed metadata bodies in Redis with a TTL.
type RedisCache struct {
	client redisClient
	ttl    time.Duration
	codec  *codec
}

// NewRedisClient builds a client from a redis:// or rediss:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisCache wraps client. Entries expire after ttl.
func NewRedisCache(client redisClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, codec: newCodec()}
}

// Get returns the body cached for datasetID.
func (c *RedisCache) Get(ctx context.Context, datasetID string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, KeyPrefix+datasetID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get metadata from Redis: %w", err)
	}
	body, err := c.codec.decompress(data)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Set caches body for datasetID.
func (c *RedisCache) Set(ctx context.Context, datasetID string, body []byte) error {
	if err := c.client.Set(ctx, KeyPrefix+datasetID, c.codec.compress(body), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set metadata in Redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
