package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bank-service/internal/client"
	"bank-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

var slidingWindow = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, now, ARGV[5])
	redis.call('PEXPIRE', key, ARGV[4])
	return {1, current + 1}
end
return {0, current}
`)

// RateLimiter caps requests per key over a sliding window shared by all
// instances.
type RateLimiter struct {
	client *client.RedisClient
}

func NewRateLimiter(client *client.RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow records one request for key and reports whether it fits in limit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindow.Run(ctx, r.client.Client, []string{rateLimitPrefix + key},
		now, now-window.Milliseconds(), limit, window.Milliseconds(), uuid.NewString()).Int64Slice()
	if err != nil {
		util.Error("Failed to execute sliding window rate limit",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return false, fmt.Errorf("failed to execute sliding window rate limit: %w", err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("unexpected result from sliding window script: %v", res)
	}

	allowed := res[0] == 1
	if !allowed {
		util.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", res[1]),
			zap.Int("limit", limit))
	}
	return allowed, nil
}
