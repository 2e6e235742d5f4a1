package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/autoreply/internal/pkg/ratelimiter"
)

// idleTTL é quanto tempo uma chave sem reservas novas continua em memória.
const idleTTL = time.Hour

type MemoryLimiter struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

func NewLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		items: make(map[string]time.Time),
		now:   time.Now,
	}
	// Start cleanup routine
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) Reserve(ctx context.Context, key string, interval time.Duration) (*ratelimiter.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	at := now
	if last, exists := l.items[key]; exists {
		if next := last.Add(interval); next.After(now) {
			at = next
		}
	}
	l.items[key] = at

	return &ratelimiter.Reservation{
		At:   at,
		Wait: at.Sub(now),
	}, nil
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		l.mu.Lock()
		cutoff := l.now().Add(-idleTTL)
		for k, last := range l.items {
			if last.Before(cutoff) {
				delete(l.items, k)
			}
		}
		l.mu.Unlock()
	}
}
