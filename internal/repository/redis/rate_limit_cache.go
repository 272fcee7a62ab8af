package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/client"
	"attendance-service/internal/util"
)

const ipRateLimitPrefix = "ip_rate_limit:"

// RateLimitCache counts requests per IP and action in fixed windows.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(c *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: c}
}

// Allow increments the counter for (action, ip) and reports whether it is
// still within limit, plus the time until the window resets.
func (c *RateLimitCache) Allow(ctx context.Context, action, ip string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s%s:%s", ipRateLimitPrefix, action, ip)
	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment rate limit counter", zap.String("action", action), zap.Error(err))
		return true, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	retry, err := c.client.TTL(ctx, key)
	if err != nil || retry < 0 {
		retry = window
	}
	util.Debug("Rate limit exceeded",
		zap.String("action", action),
		zap.String("ip", ip),
		zap.Int64("count", count))
	return false, retry, nil
}
