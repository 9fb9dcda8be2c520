package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/internal/infrastructure/persistence/memory"
)

var testStart = time.Date(2026, 1, 5, 3, 40, 0, 0, time.UTC)

// mapCache mirrors the fencing rules of the Redis snapshot cache.
type mapCache struct {
	mu     sync.Mutex
	snaps  map[shared.RollNo]*ledger.Snapshot
	fences map[shared.RollNo]int64
	gets   int
}

func newMapCache() *mapCache {
	return &mapCache{
		snaps:  make(map[shared.RollNo]*ledger.Snapshot),
		fences: make(map[shared.RollNo]int64),
	}
}

func (c *mapCache) GetSnapshot(_ context.Context, rollNo shared.RollNo) (*ledger.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	return c.snaps[rollNo], nil
}

func (c *mapCache) SetSnapshot(_ context.Context, snap *ledger.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rollNo := shared.RollNo(snap.RollNo)
	if snap.Version < c.fences[rollNo] {
		return nil
	}
	if cur, ok := c.snaps[rollNo]; ok && cur.Version > snap.Version {
		return nil
	}
	c.snaps[rollNo] = snap
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, rollNo shared.RollNo, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.fences[rollNo] {
		c.fences[rollNo] = version
	}
	delete(c.snaps, rollNo)
	return nil
}

func (c *mapCache) cached(rollNo shared.RollNo) *ledger.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[rollNo]
}

// writeBetweenReads commits a write right after the first Get returns.
type writeBetweenReads struct {
	ledger.Repository
	once  sync.Once
	write func()
}

func (r *writeBetweenReads) Get(ctx context.Context, rollNo shared.RollNo) (*ledger.Ledger, error) {
	l, err := r.Repository.Get(ctx, rollNo)
	r.once.Do(r.write)
	return l, err
}

func seedLedger(t *testing.T, store *memory.Store, rollNo, branch string, year, lateDays int) {
	t.Helper()
	id, err := ledger.NewIdentity(rollNo, "Student "+rollNo, year, 0, branch, "A")
	require.NoError(t, err)
	l, err := ledger.New(id, ledger.DefaultPolicy(), testStart)
	require.NoError(t, err)

	actor := shared.Actor{Name: "Gate Staff"}
	for i := 0; i < lateDays; i++ {
		at := testStart.AddDate(0, 0, i)
		_, err := l.AppendEvent(ledger.NewLateEvent(at, actor, ""), nil, at)
		require.NoError(t, err)
	}
	require.NoError(t, store.Ledgers().Create(context.Background(), l))
}

func TestGetLedger_CacheThrough(t *testing.T) {
	store := memory.NewStore(ledger.DefaultPolicy())
	seedLedger(t, store, "22B81A0501", "CSE", 1, 3)
	cache := newMapCache()
	h := NewGetLedgerHandler(store.Ledgers(), cache, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, GetLedgerQuery{RollNo: "22b81a0501"})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3, res.Snapshot.Fines)
	require.Len(t, res.Snapshot.LateEvents, 3)
	assert.Equal(t, 3, res.Snapshot.LateEvents[2].Ordinal)

	res, err = h.Handle(ctx, GetLedgerQuery{RollNo: "22B81A0501"})
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	res, err = h.Handle(ctx, GetLedgerQuery{RollNo: "22B81A0501", SkipCache: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, cache.gets)
}

func TestGetLedger_StaleFillDoesNotOverwriteNewerWrite(t *testing.T) {
	store := memory.NewStore(ledger.DefaultPolicy())
	seedLedger(t, store, "22B81A0501", "CSE", 1, 3)
	cache := newMapCache()
	ctx := context.Background()
	rollNo := shared.RollNo("22B81A0501")

	repo := &writeBetweenReads{Repository: store.Ledgers()}
	repo.write = func() {
		l, err := store.Ledgers().Get(ctx, rollNo)
		require.NoError(t, err)
		at := testStart.AddDate(0, 0, 5)
		_, err = l.AppendEvent(ledger.NewLateEvent(at, shared.Actor{Name: "Gate Staff"}, ""), nil, at)
		require.NoError(t, err)
		require.NoError(t, store.Ledgers().Save(ctx, l))
		require.NoError(t, cache.Invalidate(ctx, rollNo, l.Version()))
	}
	h := NewGetLedgerHandler(repo, cache, nil)

	res, err := h.Handle(ctx, GetLedgerQuery{RollNo: "22B81A0501"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Snapshot.Version)
	assert.Nil(t, cache.cached(rollNo), "the version read before the write must not be cached")

	res, err = h.Handle(ctx, GetLedgerQuery{RollNo: "22B81A0501"})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 4, res.Snapshot.LateDays)
	require.NotNil(t, cache.cached(rollNo))
	assert.Equal(t, int64(2), cache.cached(rollNo).Version)
}

func TestGetLedger_Errors(t *testing.T) {
	store := memory.NewStore(ledger.DefaultPolicy())
	h := NewGetLedgerHandler(store.Ledgers(), nil, nil)

	_, err := h.Handle(context.Background(), GetLedgerQuery{RollNo: "22B81A0599"})
	assert.True(t, errors.Is(err, shared.ErrStudentNotFound))

	_, err = h.Handle(context.Background(), GetLedgerQuery{RollNo: "?"})
	assert.True(t, shared.IsValidation(err))
}

func TestListOutstandingFines(t *testing.T) {
	store := memory.NewStore(ledger.DefaultPolicy())
	seedLedger(t, store, "22B81A0501", "CSE", 1, 5)
	seedLedger(t, store, "22B81A0502", "CSE", 1, 2)
	seedLedger(t, store, "22B81A0503", "ECE", 1, 3)
	seedLedger(t, store, "22B81A0504", "CSE", 2, 6)
	h := NewListOutstandingFinesHandler(store.Ledgers())
	ctx := context.Background()

	res, err := h.Handle(ctx, ListOutstandingFinesQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "22B81A0501", res.Items[0].RollNo)
	assert.Equal(t, 9, res.Items[0].Outstanding)
	assert.Equal(t, ledger.StatusGracePeriod, res.Items[0].Status)
	assert.Equal(t, 9+3+14, res.PageAmount)

	res, err = h.Handle(ctx, ListOutstandingFinesQuery{Year: 1, Branch: "cse"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	res, err = h.Handle(ctx, ListOutstandingFinesQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "22B81A0504", res.Items[0].RollNo)

	_, err = h.Handle(ctx, ListOutstandingFinesQuery{Year: 7})
	assert.True(t, shared.IsValidation(err))
}

func appendRecord(t *testing.T, store *memory.Store, rollNo, authorizedBy string) *audit.Record {
	t.Helper()
	rec, err := audit.NewRemovalRecord(audit.NewRemovalParams{
		TargetRollNo: shared.RollNo(rollNo),
		TargetName:   "Student",
		RemovedDates: []string{"2026-01-05"},
		Before:       audit.Snapshot{LateDays: 1, Status: "excused"},
		After:        audit.Snapshot{Status: "normal"},
		Reason:       "Marked late by mistake at the gate",
		AuthorizedBy: authorizedBy,
		At:           testStart,
	})
	require.NoError(t, err)
	require.NoError(t, store.Audit().Append(context.Background(), rec))
	return rec
}

func TestGetAuditLogs(t *testing.T) {
	store := memory.NewStore(ledger.DefaultPolicy())
	appendRecord(t, store, "22B81A0501", "hod.cse@college.edu")
	appendRecord(t, store, "22B81A0502", "hod.cse@college.edu")
	last := appendRecord(t, store, "22B81A0501", "principal@college.edu")
	h := NewGetAuditLogsHandler(store.Audit())
	ctx := context.Background()

	res, err := h.Handle(ctx, GetAuditLogsQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, last.ID, res.Records[0].ID)

	res, err = h.Handle(ctx, GetAuditLogsQuery{RollNo: "22b81a0501"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = h.Handle(ctx, GetAuditLogsQuery{AuthorizedBy: "hod.cse@college.edu", PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Records, 1)
}

func TestVerifyAuditChain(t *testing.T) {
	store := memory.NewStore(ledger.DefaultPolicy())
	var records []*audit.Record
	for i := 0; i < 7; i++ {
		records = append(records, appendRecord(t, store, "22B81A0501", "hod.cse@college.edu"))
	}
	h := NewVerifyAuditChainHandler(store.Audit(), nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, VerifyAuditChainQuery{BatchSize: 3})
	require.NoError(t, err)
	assert.True(t, res.Intact)
	assert.Equal(t, 7, res.Verified)
	assert.Equal(t, int64(7), res.HeadSequence)
	assert.Equal(t, records[6].Hash, res.HeadHash)

	tampered := *records[4]
	tampered.Reason = "Edited after the fact"
	store.Tamper(&tampered)

	res, err = h.Handle(ctx, VerifyAuditChainQuery{BatchSize: 3})
	require.NoError(t, err)
	assert.False(t, res.Intact)
	assert.Equal(t, 3, res.Verified)
	assert.Contains(t, res.Problem, "record 5 content does not match its hash")
}
