package memory

import (
	"context"
	"sync"
	"time"

	"github.com/open-apime/autoreply/internal/pkg/idempotency"
)

type MemoryGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
	now   func() time.Time
}

func NewGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	g := &MemoryGuard{
		ttl:   ttl,
		items: make(map[string]time.Time),
		now:   time.Now,
	}
	go g.cleanupLoop()
	return g
}

func (g *MemoryGuard) Admit(ctx context.Context, messageID string) (bool, error) {
	return g.Claim(ctx, messageID, g.ttl)
}

func (g *MemoryGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" || ttl <= 0 {
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiresAt, exists := g.items[key]; exists && now.Before(expiresAt) {
		return false, nil
	}
	g.items[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.items, key)
	return nil
}

// Len devolve quantos ids estão retidos, incluindo expirados ainda não limpos.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

func (g *MemoryGuard) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		g.purgeExpired()
	}
}

func (g *MemoryGuard) purgeExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, expiresAt := range g.items {
		if !now.Before(expiresAt) {
			delete(g.items, k)
		}
	}
}
