package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis implements a per-key sliding window rate limiter shared by every
// process using the same Redis. Uses a sorted set where each member is a
// unique request ID with a timestamp score. A Lua script atomically cleans
// expired entries, checks the count, and adds new entries.
type Redis struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	prefix      string
	limit       int
	window      time.Duration
}

// Lua script for atomic sliding window rate limiting.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If under the limit, add a new entry and return 1 (allowed)
// 4. If at/over the limit, return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, math.ceil(window / 1000) + 1)
    return 1
else
    return 0
end
`)

// NewRedis allows limit requests per key in each one-second window.
func NewRedis(client *redis.Client, prefix string, limit int, logger *slog.Logger) *Redis {
	return &Redis{
		redisClient: client,
		logger:      logger,
		script:      slidingWindowScript,
		prefix:      prefix,
		limit:       limit,
		window:      time.Second,
	}
}

func (rl *Redis) key(k string) string {
	return fmt.Sprintf("%s:rl:%s", rl.prefix, k)
}

// Allow returns true if the request is within the limit. It fails open
// when Redis is unavailable.
func (rl *Redis) Allow(ctx context.Context, key string) bool {
	if rl.limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	result, err := rl.script.Run(ctx, rl.redisClient, []string{rl.key(key)},
		now, rl.window.Milliseconds(), rl.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "client", key)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "client", key, "limit", rl.limit)
		return false
	}
	return true
}
