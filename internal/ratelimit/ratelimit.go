// Package ratelimit implements a Redis-backed sliding-window limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, counts what is left and records the hit
// only when it fits. All of it runs atomically inside Redis.
const slidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, now, ARGV[5])
	redis.call('PEXPIRE', key, ttl)
	return {1, current + 1}
end
return {0, current}
`

// Evaler is the part of *redis.Client the limiter needs.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Limiter allows at most Limit hits per key within Window.
type Limiter struct {
	rdb    Evaler
	prefix string
	Limit  int
	Window time.Duration
	now    func() time.Time
}

// New returns a limiter storing its windows under "ratelimit:<scope>:".
func New(rdb Evaler, scope string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:    rdb,
		prefix: "ratelimit:" + scope + ":",
		Limit:  limit,
		Window: window,
		now:    time.Now,
	}
}

// Allow records a hit for key and reports whether it is within the limit,
// together with the number of hits now in the window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := l.now().UnixMilli()
	windowStart := now - l.Window.Milliseconds()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	res, err := l.rdb.Eval(ctx, slidingWindow, []string{l.prefix + key},
		now, windowStart, l.Limit, l.Window.Milliseconds(), member).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("sliding window eval: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected sliding window result %v", res)
	}
	allowed, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected sliding window result %v", res)
	}
	return allowed == 1, int(count), nil
}
