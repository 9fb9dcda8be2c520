package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

var testStart = time.Date(2026, 1, 5, 3, 40, 0, 0, time.UTC)

func newLedger(t *testing.T, rollNo string) *ledger.Ledger {
	t.Helper()
	id, err := ledger.NewIdentity(rollNo, "Asha Rao", 1, 1, "CSE", "A")
	require.NoError(t, err)
	l, err := ledger.New(id, ledger.DefaultPolicy(), testStart)
	require.NoError(t, err)
	return l
}

func mark(t *testing.T, l *ledger.Ledger, at time.Time) {
	t.Helper()
	_, err := l.AppendEvent(ledger.NewLateEvent(at, shared.Actor{Name: "Gate Staff"}, ""), nil, at)
	require.NoError(t, err)
}

func TestLedgerRepository_CompareAndSwap(t *testing.T) {
	store := NewStore(ledger.DefaultPolicy())
	repo := store.Ledgers()
	ctx := context.Background()

	l := newLedger(t, "22B81A0501")
	require.NoError(t, repo.Create(ctx, l))
	assert.Equal(t, int64(1), l.Version())
	assert.True(t, errors.Is(repo.Create(ctx, newLedger(t, "22B81A0501")), shared.ErrStudentAlreadyExists))

	first, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)

	mark(t, first, testStart)
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version())

	mark(t, second, testStart.Add(time.Hour))
	err = repo.Save(ctx, second)
	assert.True(t, errors.Is(err, shared.ErrStaleLedgerVersion))
	assert.True(t, shared.IsRetryable(err))

	stored, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LateDays())
	assert.False(t, stored.Drifted())

	_, err = repo.Get(ctx, "22B81A0599")
	assert.True(t, errors.Is(err, shared.ErrStudentNotFound))
}

func TestLedgerRepository_GetReturnsIndependentCopies(t *testing.T) {
	store := NewStore(ledger.DefaultPolicy())
	repo := store.Ledgers()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newLedger(t, "22B81A0501")))

	l, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)
	mark(t, l, testStart)

	again, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)
	assert.Equal(t, 0, again.LateDays())
}

func TestLedgerRepository_SaveWithAuditIsAtomic(t *testing.T) {
	store := NewStore(ledger.DefaultPolicy())
	repo := store.Ledgers()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newLedger(t, "22B81A0501")))

	newRecord := func() *audit.Record {
		rec, err := audit.NewRemovalRecord(audit.NewRemovalParams{
			TargetRollNo: "22B81A0501",
			Reason:       "Marked late by mistake at the gate",
			AuthorizedBy: "hod.cse@college.edu",
			At:           testStart,
		})
		require.NoError(t, err)
		return rec
	}

	stale, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)
	fresh, err := repo.Get(ctx, "22B81A0501")
	require.NoError(t, err)

	require.NoError(t, repo.SaveWithAudit(ctx, fresh, newRecord()))

	err = repo.SaveWithAudit(ctx, stale, newRecord())
	assert.True(t, errors.Is(err, shared.ErrStaleLedgerVersion))

	n, err := store.Audit().Count(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedgerRepository_ListAndFilter(t *testing.T) {
	store := NewStore(ledger.DefaultPolicy())
	repo := store.Ledgers()
	ctx := context.Background()

	for _, roll := range []string{"22B81A0503", "22B81A0501", "22B81A0502"} {
		l := newLedger(t, roll)
		if roll != "22B81A0502" {
			for i := 0; i < 3; i++ {
				mark(t, l, testStart.AddDate(0, 0, i))
			}
		}
		require.NoError(t, repo.Create(ctx, l))
	}

	all, err := repo.List(ctx, ledger.Filter{}, ledger.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, shared.RollNo("22B81A0501"), all[0].RollNo())

	page, err := repo.List(ctx, ledger.Filter{}, ledger.ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, shared.RollNo("22B81A0502"), page[0].RollNo())

	owing, err := repo.Count(ctx, ledger.Filter{WithOutstandingFines: true})
	require.NoError(t, err)
	assert.Equal(t, 2, owing)

	rolls, err := repo.RollNos(ctx, ledger.Filter{WithOutstandingFines: true})
	require.NoError(t, err)
	assert.Equal(t, []shared.RollNo{"22B81A0501", "22B81A0503"}, rolls)

	rolls, err = repo.RollNos(ctx, ledger.Filter{Year: 2})
	require.NoError(t, err)
	assert.Empty(t, rolls)
}

func TestAuditRepository_AppendSealsChain(t *testing.T) {
	store := NewStore(ledger.DefaultPolicy())
	repo := store.Audit()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, err := audit.NewRemovalRecord(audit.NewRemovalParams{
			TargetRollNo: "22B81A0501",
			Reason:       "Marked late by mistake at the gate",
			AuthorizedBy: "hod.cse@college.edu",
			At:           testStart,
		})
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, rec))
		assert.Equal(t, int64(i+1), rec.Sequence)
	}

	records, err := repo.Range(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.NoError(t, audit.VerifyChain(nil, records))

	tail, err := repo.Range(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(2), tail[0].Sequence)

	got, err := repo.Get(ctx, records[2].ID)
	require.NoError(t, err)
	assert.Equal(t, records[2].Hash, got.Hash)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, shared.ErrAuditRecordNotFound))
}
