package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

func TestRemoveLateEvents_FirstOfFive(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.markLateDays(rollA, 5)
	require.Equal(t, 9, f.ledger(rollA).Fines())

	res, err := f.remove.Handle(context.Background(), RemoveLateEventsCommand{
		RollNo:         rollA,
		Dates:          []string{day(0)},
		CorrectionMeta: correction(),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.RemovedCount)
	assert.Equal(t, 3, res.FineReduction)
	assert.Equal(t, []string{day(0)}, res.RemovedDates)
	assert.Empty(t, res.UnmatchedDates)
	assert.Equal(t, audit.Snapshot{LateDays: 5, Fines: 9, Status: "grace_period"}, res.Before)
	assert.Equal(t, audit.Snapshot{LateDays: 4, Fines: 6, Status: "approaching_limit"}, res.After)

	// Remaining events are re-ordinaled 1..4.
	fines := make([]int, 0, 4)
	for i, ev := range res.Snapshot.LateEvents {
		assert.Equal(t, i+1, ev.Ordinal)
		fines = append(fines, ev.Fine)
	}
	assert.Equal(t, []int{0, 0, 3, 3}, fines)

	rec, err := f.store.Audit().Get(context.Background(), res.AuditRecordID)
	require.NoError(t, err)
	assert.Equal(t, rollA, rec.TargetRollNo)
	assert.Equal(t, "Student "+rollA, rec.TargetName)
	assert.Equal(t, 1, rec.RecordsRemoved)
	assert.Equal(t, "hod.cse@college.edu", rec.AuthorizedBy)
	assert.Equal(t, "admin@college.edu", rec.PerformedBy)
	assert.Equal(t, "10.0.0.7", rec.IPAddress)
	assert.Len(t, rec.RemovedEventIDs, 1)
	assert.Equal(t, int64(1), rec.Sequence)
	assert.True(t, rec.IsSealed())

	assert.Equal(t, 1, f.events.Count(shared.EventLateEventsRemoved))
}

func TestRemoveLateEvents_ZeroMatchesStillAudited(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.markLateDays(rollA, 3)

	res, err := f.remove.Handle(context.Background(), RemoveLateEventsCommand{
		RollNo:         rollA,
		Dates:          []string{day(10)},
		CorrectionMeta: correction(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.RemovedCount)
	assert.Equal(t, 0, res.FineReduction)
	assert.Equal(t, []string{day(10)}, res.UnmatchedDates)
	assert.Equal(t, res.Before, res.After)
	assert.Equal(t, 3, f.ledger(rollA).LateDays())

	n, err := f.store.Audit().Count(context.Background(), audit.Filter{RollNo: rollA})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.events.Count(shared.EventLateEventsRemoved))
}

func TestRemoveLateEvents_RemovesEveryEventOnTheDay(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.markLate(rollA)
	f.markLate(rollA)

	res, err := f.remove.Handle(context.Background(), RemoveLateEventsCommand{
		RollNo:         rollA,
		Dates:          []string{day(0), day(0)},
		CorrectionMeta: correction(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RemovedCount)
	assert.Equal(t, []string{day(0)}, res.RemovedDates)
	assert.Equal(t, 0, res.Snapshot.LateDays)
}

func TestRemoveLateEvents_Validation(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	ctx := context.Background()

	meta := correction()
	meta.Reason = "too short"
	_, err := f.remove.Handle(ctx, RemoveLateEventsCommand{RollNo: rollA, Dates: []string{day(0)}, CorrectionMeta: meta})
	assert.True(t, errors.Is(err, shared.ErrReasonTooShort))

	meta = correction()
	meta.AuthorizedBy = "  "
	_, err = f.remove.Handle(ctx, RemoveLateEventsCommand{RollNo: rollA, Dates: []string{day(0)}, CorrectionMeta: meta})
	assert.True(t, errors.Is(err, shared.ErrMissingAuthorizer))

	_, err = f.remove.Handle(ctx, RemoveLateEventsCommand{RollNo: rollA, Dates: []string{"05/01/2026"}, CorrectionMeta: correction()})
	assert.True(t, shared.IsValidation(err))

	_, err = f.remove.Handle(ctx, RemoveLateEventsCommand{RollNo: rollA, CorrectionMeta: correction()})
	assert.True(t, shared.IsValidation(err))

	meta = correction()
	meta.IPAddress = "not-an-ip"
	_, err = f.remove.Handle(ctx, RemoveLateEventsCommand{RollNo: rollA, Dates: []string{day(0)}, CorrectionMeta: meta})
	assert.True(t, shared.IsValidation(err))

	n, err := f.store.Audit().Count(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemoveLateEvents_UnknownStudentWritesNoAudit(t *testing.T) {
	f := newFixture(t)

	_, err := f.remove.Handle(context.Background(), RemoveLateEventsCommand{
		RollNo: rollA, Dates: []string{day(0)}, CorrectionMeta: correction(),
	})
	assert.True(t, errors.Is(err, shared.ErrStudentNotFound))

	n, err := f.store.Audit().Count(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemoveLateEvents_AuditChainLinks(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.registerStudent(rollB, 1, 1)
	f.markLateDays(rollA, 2)

	for _, roll := range []string{rollA, rollB, rollA} {
		_, err := f.remove.Handle(context.Background(), RemoveLateEventsCommand{
			RollNo: roll, Dates: []string{day(0)}, CorrectionMeta: correction(),
		})
		require.NoError(t, err)
	}

	records, err := f.store.Audit().Range(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.NoError(t, audit.VerifyChain(nil, records))
	assert.Equal(t, records[0].Hash, records[1].PrevHash)
}

func TestBulkRemove_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.registerStudent(rollB, 1, 1)
	f.markLateDays(rollA, 3)

	res, err := f.bulk.Handle(context.Background(), BulkRemoveCommand{
		Records: []BulkRecord{
			{RollNo: rollA, Date: day(0)},
			{RollNo: rollA, Date: day(1)},
			{RollNo: rollA, Date: day(1)},
			{RollNo: rollB, Date: day(0)},
			{RollNo: rollC, Date: day(0)},
			{RollNo: "bad!", Date: day(0)},
			{RollNo: rollA, Date: "yesterday"},
		},
		CorrectionMeta: correction(),
	})
	require.NoError(t, err)

	assert.Equal(t, 7, res.TotalRecords)
	assert.Equal(t, 2, res.RemovedCount)
	assert.Equal(t, 3, res.FineReductionTotal)
	assert.Equal(t, 1, res.AffectedStudents)
	assert.Len(t, res.AuditRecordIDs, 2)

	assert.ElementsMatch(t, []BulkFailure{
		{RollNo: rollB, Date: day(0), Error: FailureNoMatch},
		{RollNo: rollC, Date: day(0), Error: FailureStudentNotFound},
		{RollNo: "bad!", Date: day(0), Error: FailureInvalidRecord},
		{RollNo: rollA, Date: "yesterday", Error: FailureInvalidRecord},
	}, res.Failures)

	l := f.ledger(rollA)
	assert.Equal(t, 1, l.LateDays())
	assert.Equal(t, 0, l.Fines())
}

func TestBulkRemove_RequiresCorrectionMeta(t *testing.T) {
	f := newFixture(t)

	_, err := f.bulk.Handle(context.Background(), BulkRemoveCommand{
		Records:        []BulkRecord{{RollNo: rollA, Date: day(0)}},
		CorrectionMeta: CorrectionMeta{Reason: "Holiday declared by principal"},
	})
	assert.True(t, errors.Is(err, shared.ErrMissingAuthorizer))

	_, err = f.bulk.Handle(context.Background(), BulkRemoveCommand{CorrectionMeta: correction()})
	assert.True(t, shared.IsValidation(err))
}
