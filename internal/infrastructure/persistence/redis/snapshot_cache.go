package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/circuitbreaker"
)

// fillScript stores a snapshot unless its version is below the fence left
// by the last invalidation or below the version already cached.
//
// KEYS[1] snapshot, KEYS[2] fence; ARGV[1] json, ARGV[2] version, ARGV[3] ttl ms.
var fillScript = redis.NewScript(`
local v = tonumber(ARGV[2])
local fence = tonumber(redis.call("GET", KEYS[2]) or "0")
if v < fence then
	return 0
end
local cur = redis.call("GET", KEYS[1])
if cur then
	local ok, doc = pcall(cjson.decode, cur)
	if ok and type(doc) == "table" and tonumber(doc.version) and tonumber(doc.version) > v then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// fenceScript raises the fence to ARGV[1] and drops the snapshot.
//
// KEYS[1] snapshot, KEYS[2] fence; ARGV[1] version, ARGV[2] ttl ms.
var fenceScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[2]) or "0")
if tonumber(ARGV[1]) > cur then
	redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
else
	redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
redis.call("DEL", KEYS[1])
return 1
`)

// LedgerSnapshotCache implements ledger.SnapshotCache on top of Cache.
// With a breaker attached, reads and writes degrade to misses while Redis
// is failing; invalidation still reports the rejection to the caller.
type LedgerSnapshotCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

// NewLedgerSnapshotCache creates a LedgerSnapshotCache. ttl <= 0 uses TTLLedgerSnapshot.
func NewLedgerSnapshotCache(cache *Cache, ttl time.Duration) *LedgerSnapshotCache {
	if ttl <= 0 {
		ttl = TTLLedgerSnapshot
	}
	return &LedgerSnapshotCache{cache: cache, ttl: ttl}
}

// WithBreaker guards every Redis call with cb.
func (c *LedgerSnapshotCache) WithBreaker(cb *circuitbreaker.CircuitBreaker) *LedgerSnapshotCache {
	c.breaker = cb
	return c
}

func (c *LedgerSnapshotCache) do(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// GetSnapshot returns (nil, nil) on a miss.
func (c *LedgerSnapshotCache) GetSnapshot(ctx context.Context, rollNo shared.RollNo) (*ledger.Snapshot, error) {
	var (
		snap ledger.Snapshot
		hit  bool
	)
	err := c.do(ctx, func(ctx context.Context) error {
		err := c.cache.Get(ctx, LedgerKey(rollNo.String()), &snap)
		switch {
		case err == nil:
			hit = true
			return nil
		case errors.Is(err, ErrCacheMiss):
			return nil
		default:
			return err
		}
	})
	if circuitbreaker.IsRejected(err) {
		return nil, nil
	}
	if err != nil || !hit {
		return nil, err
	}
	return &snap, nil
}

// SetSnapshot caches snap unless a newer version was written or
// invalidated in the meantime.
func (c *LedgerSnapshotCache) SetSnapshot(ctx context.Context, snap *ledger.Snapshot) error {
	if snap == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return errors.Join(ErrCacheSerialization, err)
	}
	keys := []string{LedgerKey(snap.RollNo), FenceKey(snap.RollNo)}
	err = c.do(ctx, func(ctx context.Context) error {
		return fillScript.Run(ctx, c.cache.Client(), keys, raw, snap.Version, c.ttl.Milliseconds()).Err()
	})
	if circuitbreaker.IsRejected(err) {
		return nil
	}
	return err
}

// Invalidate drops the cached snapshot and fences out fills from readers
// that loaded a version older than version. The fence lives as long as a
// snapshot would.
func (c *LedgerSnapshotCache) Invalidate(ctx context.Context, rollNo shared.RollNo, version int64) error {
	keys := []string{LedgerKey(rollNo.String()), FenceKey(rollNo.String())}
	return c.do(ctx, func(ctx context.Context) error {
		return fenceScript.Run(ctx, c.cache.Client(), keys, version, c.ttl.Milliseconds()).Err()
	})
}
