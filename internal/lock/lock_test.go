package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedis(rdb, time.Minute, nil)
}

func lockers(t *testing.T) map[string]Locker {
	_, r := setupRedis(t)
	return map[string]Locker{"memory": NewMemory(), "redis": r}
}

func TestTryLockExclusive(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unlock, err := l.TryLock(ctx, "u1/-/create")
			require.NoError(t, err)

			_, err = l.TryLock(ctx, "u1/-/create")
			require.ErrorIs(t, err, domain.ErrTurnInProgress)

			other, err := l.TryLock(ctx, "u1/t9/enhance")
			require.NoError(t, err, "different keys do not contend")
			other()

			unlock()
			unlock() // idempotent
			again, err := l.TryLock(ctx, "u1/-/create")
			require.NoError(t, err)
			again()
		})
	}
}

func TestTryLockConcurrent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var acquired atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			unlocks := make(chan func(), 20)
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if unlock, err := l.TryLock(ctx, "hot"); err == nil {
						acquired.Add(1)
						unlocks <- unlock
					}
				}()
			}
			close(start)
			wg.Wait()
			close(unlocks)
			for u := range unlocks {
				u()
			}
			assert.EqualValues(t, 1, acquired.Load())
		})
	}
}

func TestRedisLockExpires(t *testing.T) {
	mr, r := setupRedis(t)
	ctx := context.Background()

	stale, err := r.TryLock(ctx, "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	fresh, err := r.TryLock(ctx, "k")
	require.NoError(t, err, "expired lock can be taken over")

	// Releasing the stale handle must not drop the new holder's lock.
	stale()
	_, err = r.TryLock(ctx, "k")
	require.ErrorIs(t, err, domain.ErrTurnInProgress)

	fresh()
	assert.False(t, mr.Exists("planner:turnlock:k"))
}
