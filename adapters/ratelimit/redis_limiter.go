package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes, counts and conditionally records in one step.
// KEYS[1] window zset, ARGV[1] now ms, ARGV[2] window ms, ARGV[3] max, ARGV[4] member.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 1
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return 0
`)

// RedisLimiter keeps each window in a shared sorted set so every instance
// sees the same counts.
type RedisLimiter struct {
	client      *redis.Client
	prefix      string
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRedisLimiter creates a shared limiter for one category
func NewRedisLimiter(client *redis.Client, category Category, policy Policy) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		prefix:      fmt.Sprintf("signet:ratelimit:%s:", category),
		maxRequests: policy.MaxRequests,
		window:      policy.Window,
		now:         time.Now,
	}
}

// WithClock replaces the limiter clock
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) IsRateLimited(ctx context.Context, identifier string) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + identifier},
		l.now().UnixMilli(),
		l.window.Milliseconds(),
		l.maxRequests,
		uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

func (l *RedisLimiter) Window() time.Duration {
	return l.window
}
