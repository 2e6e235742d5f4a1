package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/open-apime/autoreply/internal/pkg/idempotency"
	"github.com/redis/go-redis/v9"
)

type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &RedisGuard{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Admit usa SET NX com expiração: existência e inserção numa só operação.
func (g *RedisGuard) Admit(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}

	key := fmt.Sprintf("%s:seen:%s", g.prefix, messageID)
	admitted, err := g.client.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency guard: %w", err)
	}
	return admitted, nil
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" || ttl <= 0 {
		return false, nil
	}

	claimed, err := g.client.SetNX(ctx, g.claimKey(key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency claim: %w", err)
	}
	return claimed, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

func (g *RedisGuard) claimKey(key string) string {
	return fmt.Sprintf("%s:claim:%s", g.prefix, key)
}
