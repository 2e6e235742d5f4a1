package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/open-apime/autoreply/internal/pkg/queue"
	"github.com/redis/go-redis/v9"
)

var ErrFull = errors.New("queue is full")

// LPUSH limitado: recusa o evento quando a lista já tem maxLen itens, igual
// ao buffer da fila em memória.
var boundedPushScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max > 0 and redis.call("LLEN", KEYS[1]) >= max then
    return 0
end
redis.call("LPUSH", KEYS[1], ARGV[1])
return 1
`)

type RedisQueue struct {
	client *redis.Client
	key    string
	maxLen int
}

func NewQueue(client *redis.Client, prefix string, maxLen int) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    prefix + ":webhook:events",
		maxLen: maxLen,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, event queue.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue enqueue: marshal: %w", err)
	}

	pushed, err := boundedPushScript.Run(ctx, q.client, []string{q.key}, data, q.maxLen).Int()
	if err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	if pushed == 0 {
		return ErrFull
	}

	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Event, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Timeout
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}

	// BRPOP devolve [chave, valor]
	if len(result) < 2 {
		return nil, errors.New("queue dequeue: invalid result")
	}

	var event queue.Event
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("queue dequeue: unmarshal: %w", err)
	}

	return &event, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close não fecha o client, que é compartilhado com o guard e o limiter.
func (q *RedisQueue) Close() error {
	return nil
}
