package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

func TestReconcileLedgers_RepairsDriftedRows(t *testing.T) {
	f := newFixture(t)
	f.registerStudent(rollA, 1, 1)
	f.registerStudent(rollB, 1, 1)
	f.registerStudent(rollC, 1, 1)
	f.markLateDays(rollA, 4)
	f.markLateDays(rollB, 2)

	// Someone wrote derived columns directly.
	st, ok := f.store.State(rollA)
	require.True(t, ok)
	st.Stored.Fines = 99
	st.Stored.Status = "normal"
	f.store.PutState(st)

	// Events out of order cannot be recomputed at all.
	st, ok = f.store.State(rollC)
	require.True(t, ok)
	st.Events = append(st.Events, f.ledger(rollA).Events()[1], f.ledger(rollA).Events()[0])
	f.store.PutState(st)

	handler := NewReconcileLedgersHandler(f.store.Ledgers(), f.mutator, 2)
	res, err := handler.Handle(context.Background(), ReconcileLedgersCommand{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, []string{rollA}, res.Repaired)
	require.Contains(t, res.Failed, rollC)
	assert.Contains(t, res.Failed[rollC], "not chronological")

	st, _ = f.store.State(rollA)
	assert.Equal(t, 6, st.Stored.Fines)
	assert.Equal(t, "approaching_limit", st.Stored.Status.String())
	assert.False(t, f.ledger(rollA).Drifted())

	// A second pass finds nothing to do.
	res, err = handler.Handle(context.Background(), ReconcileLedgersCommand{Branch: shared.BranchCSE})
	require.NoError(t, err)
	assert.Empty(t, res.Repaired)
	assert.Len(t, res.Failed, 1)
}
