package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "automod:rl:"

// incrWindow counts a hit and starts the window on the first one. A key left
// without expiry, for example after a failover, gets the window reapplied.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis shares counters between every process pointed at the same server.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Ratelimited(ctx context.Context, key Key, limit int, period time.Duration) (time.Duration, error) {
	ms := period.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	values, err := incrWindow.Run(ctx, r.client, []string{redisKeyPrefix + key.String()}, ms).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redis ratelimit %s: %w", key, err)
	}
	if len(values) != 2 {
		return 0, fmt.Errorf("redis ratelimit %s: unexpected reply %v", key, values)
	}
	if values[0] > int64(limit) {
		remaining := time.Duration(values[1]) * time.Millisecond
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		return remaining, nil
	}
	return 0, nil
}
