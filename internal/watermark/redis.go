package watermark

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "arcfork:watermark:"

// RedisCheckpoint stores the cursor under one key per persona lineage.
type RedisCheckpoint struct {
	client *redis.Client
	key    string
}

func NewRedisCheckpoint(client *redis.Client, lineage string) *RedisCheckpoint {
	return &RedisCheckpoint{client: client, key: keyPrefix + lineage}
}

// Key returns the Redis key the cursor lives under.
func (c *RedisCheckpoint) Key() string {
	return c.key
}

// Load returns the stored cursor, or 0 when none exists.
func (c *RedisCheckpoint) Load(ctx context.Context) (uint64, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored watermark %q: %w", val, err)
	}
	return id, nil
}

// Save overwrites the stored cursor.
func (c *RedisCheckpoint) Save(ctx context.Context, id uint64) error {
	if err := c.client.Set(ctx, c.key, strconv.FormatUint(id, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}
