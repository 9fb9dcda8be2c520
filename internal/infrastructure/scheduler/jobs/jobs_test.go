package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/application/command"
	"github.com/latetrack/late-ledger/internal/application/query"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeVerifier struct {
	res *query.VerifyAuditChainResult
	err error
	got query.VerifyAuditChainQuery
}

func (f *fakeVerifier) Handle(_ context.Context, q query.VerifyAuditChainQuery) (*query.VerifyAuditChainResult, error) {
	f.got = q
	return f.res, f.err
}

func TestVerifyAuditChainJob(t *testing.T) {
	v := &fakeVerifier{res: &query.VerifyAuditChainResult{Verified: 12, HeadSequence: 12, Intact: true}}
	job := NewVerifyAuditChainJob(v, 100, quiet)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 100, v.got.BatchSize)
	assert.Equal(t, int64(12), job.LastResult().HeadSequence)

	v.res = &query.VerifyAuditChainResult{Verified: 4, Problem: "record 5: hash mismatch"}
	err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrAuditChainBroken)
	assert.Contains(t, err.Error(), "record 5")

	v.err = errors.New("connection refused")
	assert.ErrorContains(t, job.Run(context.Background()), "connection refused")
}

type fakeReconciler struct {
	res *command.ReconcileLedgersResult
}

func (f *fakeReconciler) Handle(context.Context, command.ReconcileLedgersCommand) (*command.ReconcileLedgersResult, error) {
	return f.res, nil
}

func TestReconcileLedgersJob(t *testing.T) {
	r := &fakeReconciler{res: &command.ReconcileLedgersResult{Checked: 3, Repaired: []string{"22B81A0501"}, Failed: map[string]string{}}}
	job := NewReconcileLedgersJob(r, quiet)
	assert.NoError(t, job.Run(context.Background()))

	r.res.Failed["22B81A0502"] = "stale version"
	assert.ErrorContains(t, job.Run(context.Background()), "1 of 3 ledgers failed")
}

type fakePromoter struct {
	cmds []command.PromoteSemesterCommand
	res  *command.PromoteSemesterResult
}

func (f *fakePromoter) Handle(_ context.Context, cmd command.PromoteSemesterCommand) (*command.PromoteSemesterResult, error) {
	f.cmds = append(f.cmds, cmd)
	return f.res, nil
}

func TestPromoteSemesterJob_RunIDIsStablePerDay(t *testing.T) {
	p := &fakePromoter{res: &command.PromoteSemesterResult{RunID: "scheduled-2026-06-01", Promoted: 40}}
	job := NewPromoteSemesterJob(p, quiet)
	job.now = func() time.Time { return time.Date(2026, 6, 1, 0, 30, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	job.now = func() time.Time { return time.Date(2026, 6, 1, 22, 0, 0, 0, time.UTC) }
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, p.cmds, 2)
	assert.Equal(t, "scheduled-2026-06-01", p.cmds[0].RunID)
	assert.Equal(t, p.cmds[0].RunID, p.cmds[1].RunID)

	p.res.Failed = 2
	assert.ErrorContains(t, job.Run(context.Background()), "rerun scheduled-2026-06-01")
}
