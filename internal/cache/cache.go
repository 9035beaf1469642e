package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kiranshivaraju/keyguard/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	fieldLastUsed = "last_used_at"
	fieldCount    = "count"
)

// RedisCache tracks API key usage in Redis hashes. It is safe for concurrent use.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// RecordUse bumps the use counter for keyID and stores at as its last use.
func (c *RedisCache) RecordUse(ctx context.Context, keyID int64, at time.Time) error {
	key := UsageKey(keyID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fieldLastUsed, at.UTC().UnixMicro())
	pipe.HIncrBy(ctx, key, fieldCount, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage for key %d: %w", keyID, err)
	}
	return nil
}

// Usage returns usage for each of keyIDs that has been used at least once.
func (c *RedisCache) Usage(ctx context.Context, keyIDs []int64) (map[int64]models.Usage, error) {
	out := make(map[int64]models.Usage, len(keyIDs))
	if len(keyIDs) == 0 {
		return out, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keyIDs))
	for i, id := range keyIDs {
		cmds[i] = pipe.HGetAll(ctx, UsageKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		lastUsed, err := strconv.ParseInt(fields[fieldLastUsed], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last use for key %d: %w", keyIDs[i], err)
		}
		count, err := strconv.ParseInt(fields[fieldCount], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse use count for key %d: %w", keyIDs[i], err)
		}
		out[keyIDs[i]] = models.Usage{
			LastUsedAt: time.UnixMicro(lastUsed).UTC(),
			Count:      count,
		}
	}
	return out, nil
}
