package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latetrack/late-ledger/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// LedgerReconciler rewrites drifted ledger rows.
type LedgerReconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileLedgersCommand) (*command.ReconcileLedgersResult, error)
}

// ReconcileLedgersJob periodically rewrites stored tallies that no longer
// match the recomputation from events.
type ReconcileLedgersJob struct {
	reconciler LedgerReconciler
	logger     *slog.Logger
}

// NewReconcileLedgersJob creates the job.
func NewReconcileLedgersJob(reconciler LedgerReconciler, logger *slog.Logger) *ReconcileLedgersJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileLedgersJob{reconciler: reconciler, logger: logger.With("job", "reconcile_ledgers")}
}

func (j *ReconcileLedgersJob) Name() string { return "reconcile_ledgers" }

func (j *ReconcileLedgersJob) Description() string {
	return "Repairs ledger rows whose stored tally drifted from the event list"
}

// Run reconciles every ledger. Per-student failures are logged and
// reported as a job failure after the pass completes.
func (j *ReconcileLedgersJob) Run(ctx context.Context) error {
	res, err := j.reconciler.Handle(ctx, command.ReconcileLedgersCommand{})
	if err != nil {
		return fmt.Errorf("reconcile ledgers: %w", err)
	}

	for rollNo, msg := range res.Failed {
		j.logger.Warn("ledger not reconciled", "roll_no", rollNo, "error", msg)
	}
	j.logger.Info("reconciliation finished",
		"checked", res.Checked,
		"repaired", len(res.Repaired),
		"failed", len(res.Failed),
		"duration", res.Duration.String(),
	)

	if len(res.Failed) > 0 {
		return fmt.Errorf("reconcile ledgers: %d of %d ledgers failed", len(res.Failed), res.Checked)
	}
	return nil
}
