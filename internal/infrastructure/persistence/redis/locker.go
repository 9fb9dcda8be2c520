package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LedgerLocker implements ledger.Locker with SET NX PX.
//
// The lock only narrows the contention window. Writes stay correct without
// it because every save is a compare-and-swap on the ledger version.
type LedgerLocker struct {
	cache      *Cache
	ttl        time.Duration
	retryDelay time.Duration
}

// NewLedgerLocker creates a LedgerLocker. ttl <= 0 uses TTLDistributedLock.
func NewLedgerLocker(cache *Cache, ttl time.Duration) *LedgerLocker {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	return &LedgerLocker{cache: cache, ttl: ttl, retryDelay: 25 * time.Millisecond}
}

// Lock blocks until the student's lock is acquired or ctx is done.
// Returns ErrLedgerLocked when ctx expires first.
func (l *LedgerLocker) Lock(ctx context.Context, rollNo shared.RollNo) (func(context.Context) error, error) {
	key := LockKey(rollNo.String())
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.cache.Client().SetNX(ctx, key, token, l.ttl).Result()
		if err == nil && ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err()
			}, nil
		}
		if err != nil && ctx.Err() == nil {
			return nil, shared.WrapError("redis", "Lock", shared.ErrServiceUnavailable, "lock backend unavailable", err)
		}

		select {
		case <-ctx.Done():
			return nil, shared.Detail(shared.ErrLedgerLocked, "%s", rollNo)
		case <-ticker.C:
		}
	}
}
