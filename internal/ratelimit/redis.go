package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript trims the window, counts it and records the attempt in one
// step. ARGV is now, cutoff, period (all milliseconds), limit and a member
// id. It returns {1, "0"} when allowed and {0, oldestScore} when limited.
var allowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
if redis.call('ZCARD', key) >= tonumber(ARGV[4]) then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, oldest[2] or ARGV[1]}
end
redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[3])
return {1, '0'}
`)

// RedisLimiter keeps one sorted set per key, scored by attempt time in
// milliseconds. Keys expire one period after the last attempt.
type RedisLimiter struct {
	client *redis.Client
	window Window
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, window Window) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		window: window.normalized(),
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + key
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	res, err := allowScript.Run(ctx, l.client, []string{l.key(key)},
		nowMs, nowMs-l.window.Period.Milliseconds(), l.window.Period.Milliseconds(), l.window.Limit, uuid.NewString()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("check rate window: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("check rate window: unexpected reply %v", res)
	}
	if allowed, _ := res[0].(int64); allowed == 1 {
		return true, 0, nil
	}
	raw, _ := res[1].(string)
	oldest, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("check rate window: bad oldest score %q", raw)
	}
	return false, retryAfter(time.UnixMilli(int64(oldest)), l.window.Period, now), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("reset rate window: %w", err)
	}
	return nil
}
