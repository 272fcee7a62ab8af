package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/client"
	"attendance-service/internal/util"
)

const statsPrefix = "dashboard_stats:"

// StatsCache holds short-lived JSON snapshots of dashboard numbers.
type StatsCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewStatsCache(c *client.RedisClient, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatsCache{client: c, ttl: ttl}
}

// Get decodes the snapshot for key into dest; found is false on a miss.
func (c *StatsCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, statsPrefix+key)
	if errors.Is(err, client.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		util.Warn("Discarding unreadable stats snapshot", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (c *StatsCache) Put(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode stats snapshot: %w", err)
	}
	return c.client.Set(ctx, statsPrefix+key, raw, c.ttl)
}
