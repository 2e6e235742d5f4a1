package redis

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(t0)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, "autoreply"), mr
}

func TestReserveSpacesSlots(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	first, err := l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	assert.Zero(t, first.Wait)

	second, err := l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, second.Wait)

	third, err := l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 16*time.Second, third.Wait)

	other, err := l.Reserve(ctx, "2202", 8*time.Second)
	require.NoError(t, err)
	assert.Zero(t, other.Wait)
}

func TestReserveStoresSlotWithTTL(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	key := "autoreply:slot:1101"

	_, err := l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	slot, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(t0.UnixMilli(), 10), slot)
	// intervalo + 1s de folga
	assert.Equal(t, 9*time.Second, mr.TTL(key))

	_, err = l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	slot, _ = mr.Get(key)
	assert.Equal(t, strconv.FormatInt(t0.Add(8*time.Second).UnixMilli(), 10), slot)
	// a chave vive até o slot reservado mais um intervalo
	assert.Equal(t, 17*time.Second, mr.TTL(key))

	mr.FastForward(17 * time.Second)
	assert.False(t, mr.Exists(key))
}

func TestReserveUsesRedisClock(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)

	// Só o relógio do Redis anda; o do processo é ignorado.
	mr.SetTime(t0.Add(3 * time.Second))
	res, err := l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, res.Wait)

	mr.SetTime(t0.Add(time.Minute))
	res, err = l.Reserve(ctx, "1101", 8*time.Second)
	require.NoError(t, err)
	assert.Zero(t, res.Wait)
}

func TestReserveConcurrentGetsDistinctSlots(t *testing.T) {
	l, _ := newTestLimiter(t)

	var mu sync.Mutex
	var waits []time.Duration
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Reserve(context.Background(), "1101", time.Second)
			if assert.NoError(t, err) {
				mu.Lock()
				waits = append(waits, res.Wait)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, waits)
}

func TestReserveRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	_, err := l.Reserve(context.Background(), "1101", time.Second)
	assert.Error(t, err)
}
