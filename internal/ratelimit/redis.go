package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript atomically increments a counter, sets its TTL on the first
// write, and returns the count with the remaining TTL in milliseconds.
const windowScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`

var windowLua = redis.NewScript(windowScript)

// Redis is a fixed-window limiter shared by every gateway replica.
type Redis struct {
	cmd    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

// NewRedis creates a limiter allowing limit requests per window per key.
// Keys are stored as "<prefix>:<key>".
func NewRedis(cmd redis.Scripter, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{cmd: cmd, prefix: prefix, limit: limit, window: window}
}

func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	fullKey := l.prefix + ":" + key
	vals, err := windowLua.Run(ctx, l.cmd, []string{fullKey}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %q: %w", fullKey, err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit %q: unexpected script reply %v", fullKey, vals)
	}
	count, ttl := vals[0], vals[1]
	if ttl < 0 {
		ttl = l.window.Milliseconds()
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     time.Now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}
