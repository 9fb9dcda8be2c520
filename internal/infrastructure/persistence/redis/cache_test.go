package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/pkg/circuitbreaker"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "ledger:22B81A0501", LedgerKey("22B81A0501"))
	assert.Equal(t, "lock:ledger:22B81A0501", LockKey("22B81A0501"))
	assert.Equal(t, "ledger:fence:22B81A0501", FenceKey("22B81A0501"))
	assert.Equal(t, "pubsub:ledger.late_event_appended", PubSubChannel("ledger.late_event_appended"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
}

func TestNewLedgerCacheAndLockDefaults(t *testing.T) {
	assert.Equal(t, TTLLedgerSnapshot, NewLedgerSnapshotCache(nil, 0).ttl)
	assert.Equal(t, time.Minute, NewLedgerSnapshotCache(nil, time.Minute).ttl)
	assert.Equal(t, TTLDistributedLock, NewLedgerLocker(nil, 0).ttl)
}

func TestLedgerSnapshotCache_BreakerDegradesToMiss(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cb := circuitbreaker.New("redis", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithCooldown(time.Hour))
	cache := NewLedgerSnapshotCache(NewCacheFromClient(client), 0).WithBreaker(cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cache.GetSnapshot(ctx, "22B81A0501")
		assert.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	snap, err := cache.GetSnapshot(ctx, "22B81A0501")
	assert.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, cache.SetSnapshot(ctx, &ledger.Snapshot{RollNo: "22B81A0501"}))
	assert.ErrorIs(t, cache.Invalidate(ctx, "22B81A0501", 2), circuitbreaker.ErrCircuitOpen)
}

// liveCache connects to REDIS_TEST_ADDR or skips the test.
func liveCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return NewCacheFromClient(client)
}

func TestLedgerSnapshotCache_InvalidationFencesOlderFills(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()
	const rollNo = "22B81A0598"
	t.Cleanup(func() { c.Client().Del(ctx, LedgerKey(rollNo), FenceKey(rollNo)) })

	cache := NewLedgerSnapshotCache(c, time.Minute)
	version := func() int64 {
		snap, err := cache.GetSnapshot(ctx, rollNo)
		require.NoError(t, err)
		if snap == nil {
			return 0
		}
		return snap.Version
	}

	require.NoError(t, cache.SetSnapshot(ctx, &ledger.Snapshot{RollNo: rollNo, Version: 1}))
	assert.Equal(t, int64(1), version())

	require.NoError(t, cache.Invalidate(ctx, rollNo, 2))
	assert.Equal(t, int64(0), version())

	// A reader that loaded version 1 before the write must not repopulate.
	require.NoError(t, cache.SetSnapshot(ctx, &ledger.Snapshot{RollNo: rollNo, Version: 1}))
	assert.Equal(t, int64(0), version())

	require.NoError(t, cache.SetSnapshot(ctx, &ledger.Snapshot{RollNo: rollNo, Version: 3}))
	require.NoError(t, cache.SetSnapshot(ctx, &ledger.Snapshot{RollNo: rollNo, Version: 2}))
	assert.Equal(t, int64(3), version())
}
