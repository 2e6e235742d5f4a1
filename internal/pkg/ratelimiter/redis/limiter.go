package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/open-apime/autoreply/internal/pkg/ratelimiter"
	"github.com/redis/go-redis/v9"
)

// O relógio do Redis é a referência para que réplicas diferentes compartilhem
// o mesmo espaçamento. Devolve {espera_ms, slot_ms}.
var reserveScript = redis.NewScript(`
local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local interval = tonumber(ARGV[1])
local last = tonumber(redis.call("GET", KEYS[1]) or "0")
local at = now
if last + interval > now then
    at = last + interval
end
redis.call("SET", KEYS[1], at, "PX", (at - now) + interval + 1000)
return {at - now, at}
`)

type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
	}
}

func (l *RedisLimiter) Reserve(ctx context.Context, key string, interval time.Duration) (*ratelimiter.Reservation, error) {
	redisKey := fmt.Sprintf("%s:slot:%s", l.prefix, key)

	vals, err := reserveScript.Run(ctx, l.client, []string{redisKey}, interval.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis limiter: %w", err)
	}

	if len(vals) < 2 {
		return nil, fmt.Errorf("redis limiter: invalid response")
	}

	wait := time.Duration(vals[0]) * time.Millisecond
	if wait < 0 {
		wait = 0
	}

	return &ratelimiter.Reservation{
		At:   time.Now().Add(wait),
		Wait: wait,
	}, nil
}
