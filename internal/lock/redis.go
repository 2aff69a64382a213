package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrGSommer/vacation-planner-sub001/internal/domain"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
)

// unlockScript deletes the key only if it still carries our token, so an
// expired lock taken over by another instance is never released by us.
var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Redis is a Locker shared by every instance pointing at the same server.
// Locks expire after ttl so a crashed instance cannot wedge a conversation.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    observability.Logger
}

// NewRedis returns a Locker over rdb. The ttl must exceed the longest model
// call timeout.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, log observability.Logger) *Redis {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Redis{rdb: rdb, prefix: "planner:turnlock:", ttl: ttl, log: log.WithComponent("lock")}
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	k := r.prefix + key
	ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrTurnInProgress
	}
	return func() {
		// The caller's ctx may already be cancelled when the turn ends.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, r.rdb, []string{k}, token).Err(); err != nil {
			r.log.Warn("release turn lock failed", "key", key, "error", err)
		}
	}, nil
}
