package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

func TestSettleFine(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.markLateDays(rollA, 5)
	ctx := context.Background()

	res, err := f.settle.Handle(ctx, SettleFineCommand{RollNo: rollA, Amount: 5, PaidBy: "Accounts Office"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.EntriesPaid)
	assert.Equal(t, 4, res.Outstanding)
	assert.Equal(t, 9, res.Snapshot.Fines)
	assert.Equal(t, ledger.StatusGracePeriod, res.Snapshot.Status)

	_, err = f.settle.Handle(ctx, SettleFineCommand{RollNo: rollA, Amount: 10, PaidBy: "Accounts Office"})
	assert.True(t, errors.Is(err, shared.ErrPaymentExceedsFines))

	res, err = f.settle.Handle(ctx, SettleFineCommand{RollNo: rollA, Amount: 4, PaidBy: "Accounts Office"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.EntriesPaid)
	assert.Equal(t, 0, res.Outstanding)

	_, err = f.settle.Handle(ctx, SettleFineCommand{RollNo: rollA, Amount: 1, PaidBy: "Accounts Office"})
	assert.True(t, errors.Is(err, shared.ErrNoOutstandingFines))

	_, err = f.settle.Handle(ctx, SettleFineCommand{RollNo: rollA, Amount: 0, PaidBy: "Accounts Office"})
	assert.True(t, errors.Is(err, shared.ErrInvalidPaymentAmount))

	l := f.ledger(rollA)
	assert.Equal(t, 9, l.FinesPaid())
	assert.Len(t, l.Payments(), 2)
	assert.Equal(t, 2, f.events.Count(shared.EventFineSettled))
}

func TestPromoteSemester_ClearsLateData(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.registerStudent(rollB, 1, 2)
	f.registerStudent(rollC, 4, 8)
	f.markLateDays(rollA, 6)
	f.markLateDays(rollB, 3)
	_, err := f.settle.Handle(context.Background(), SettleFineCommand{RollNo: rollA, Amount: 3, PaidBy: "Accounts Office"})
	require.NoError(t, err)

	res, err := f.promote.Handle(context.Background(), PromoteSemesterCommand{})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 3, res.StudentsMatched)
	assert.Equal(t, 2, res.Promoted)
	assert.Equal(t, 1, res.Graduated)
	assert.Equal(t, 1, res.YearTransitions)
	assert.Equal(t, 0, res.Failed)

	require.Len(t, res.Details, 3)
	assert.Equal(t, PromotionDetail{RollNo: rollA, From: "Y1S1", To: "Y1S2", Outcome: PromotionAdvanced, ClearedDays: 6, ClearedFines: 14}, res.Details[0])
	assert.Equal(t, PromotionDetail{RollNo: rollB, From: "Y1S2", To: "Y2S3", Outcome: PromotionAdvanced, ClearedDays: 3, ClearedFines: 3, YearChanged: true}, res.Details[1])
	assert.Equal(t, PromotionDetail{RollNo: rollC, From: "Y4S8", To: "Y4S8", Outcome: PromotionGraduated}, res.Details[2])

	for _, roll := range []string{rollA, rollB, rollC} {
		l := f.ledger(roll)
		assert.Equal(t, 0, l.LateDays(), roll)
		assert.Equal(t, 0, l.Fines(), roll)
		assert.Empty(t, l.Events(), roll)
		assert.Empty(t, l.Payments(), roll)
		assert.Empty(t, l.FineHistory(), roll)
	}
	assert.Equal(t, ledger.StatusNormal, f.ledger(rollA).Status())
	assert.Equal(t, ledger.StatusGraduated, f.ledger(rollC).Status())
	assert.Equal(t, 2, f.ledger(rollB).Identity().Year)

	assert.Equal(t, 3, f.events.Count(shared.EventSemesterPromoted))
	assert.Equal(t, 1, f.events.Count(shared.EventStudentGraduated))
}

func TestPromoteSemester_GraduatedLedgerIsClosed(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 4, 8)

	_, err := f.promote.Handle(context.Background(), PromoteSemesterCommand{})
	require.NoError(t, err)

	_, err = f.mark.Handle(context.Background(), AppendLateEventCommand{RollNo: rollA, MarkedByName: "Gate Staff"})
	assert.True(t, errors.Is(err, shared.ErrAlreadyGraduated))

	l := f.ledger(rollA)
	assert.Equal(t, 0, l.LateDays())
	assert.Equal(t, int64(2), l.Version())

	// Graduated students are excluded from later runs.
	res, err := f.promote.Handle(context.Background(), PromoteSemesterCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.StudentsMatched)
}

func TestPromoteSemester_SameRunIDSkipsCompleted(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.registerStudent(rollB, 1, 1)
	ctx := context.Background()

	// Simulate an interrupted run that only reached rollA.
	l := f.ledger(rollA)
	_, err := l.Promote("run-1", f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.Ledgers().Save(ctx, l))

	res, err := f.promote.Handle(ctx, PromoteSemesterCommand{Year: 1, RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, PromotionDetail{RollNo: rollA, From: "Y1S2", To: "Y1S2", Outcome: PromotionSkipped}, res.Details[0])

	assert.Equal(t, 2, f.ledger(rollA).Identity().Semester)
	assert.Equal(t, 2, f.ledger(rollB).Identity().Semester)

	// A fresh run advances everyone again.
	res, err = f.promote.Handle(ctx, PromoteSemesterCommand{Year: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Promoted)
	assert.Equal(t, 2, res.YearTransitions)
}

func TestPromoteSemester_BranchFilter(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	_, err := f.register.Handle(context.Background(), RegisterStudentCommand{
		RollNo: rollB, Name: "Ravi", Year: 1, Semester: 1, Branch: "ECE",
	})
	require.NoError(t, err)

	res, err := f.promote.Handle(context.Background(), PromoteSemesterCommand{Branch: "ece"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.StudentsMatched)
	assert.Equal(t, rollB, res.Details[0].RollNo)
	assert.Equal(t, 1, f.ledger(rollA).Identity().Semester)

	_, err = f.promote.Handle(context.Background(), PromoteSemesterCommand{Branch: "ARTS"})
	assert.True(t, shared.IsValidation(err))
}

func TestRegisterStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.register.Handle(ctx, RegisterStudentCommand{RollNo: "22b81a0501", Name: "Asha", Year: 3, Branch: "csm"})
	require.NoError(t, err)
	assert.Equal(t, rollA, res.Snapshot.RollNo)
	assert.Equal(t, 5, res.Snapshot.Semester)
	assert.Equal(t, "A", res.Snapshot.Section)
	assert.Equal(t, ledger.StatusNormal, res.Snapshot.Status)

	_, err = f.register.Handle(ctx, RegisterStudentCommand{RollNo: rollA, Name: "Asha", Year: 3, Branch: "CSM"})
	assert.True(t, errors.Is(err, shared.ErrStudentAlreadyExists))

	_, err = f.register.Handle(ctx, RegisterStudentCommand{RollNo: rollB, Name: "Ravi", Year: 5, Branch: "CSM"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.register.Handle(ctx, RegisterStudentCommand{RollNo: rollB, Name: "Ravi", Year: 1, Branch: "LAW"})
	assert.True(t, shared.IsValidation(err))
}
