package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGERS COMMAND
// Stored derived columns are a cache of Recompute(events). This command
// reloads every ledger and rewrites the rows whose cache has drifted.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileLedgersCommand selects the ledgers to check.
type ReconcileLedgersCommand struct {
	Year   int
	Branch shared.Branch
}

// ReconcileLedgersResult summarizes a reconciliation pass.
type ReconcileLedgersResult struct {
	Checked  int
	Repaired []string
	Failed   map[string]string
	Duration time.Duration
}

// ReconcileLedgersHandler handles the ReconcileLedgersCommand.
type ReconcileLedgersHandler struct {
	ledgers     ledger.Repository
	mutator     *Mutator
	concurrency int
}

// NewReconcileLedgersHandler creates a new ReconcileLedgersHandler.
func NewReconcileLedgersHandler(ledgers ledger.Repository, mutator *Mutator, concurrency int) *ReconcileLedgersHandler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ReconcileLedgersHandler{
		ledgers:     ledgers,
		mutator:     mutator,
		concurrency: concurrency,
	}
}

// Handle executes the reconcile command.
func (h *ReconcileLedgersHandler) Handle(ctx context.Context, cmd ReconcileLedgersCommand) (*ReconcileLedgersResult, error) {
	start := time.Now()

	rollNos, err := h.ledgers.RollNos(ctx, ledger.Filter{
		Year:             cmd.Year,
		Branch:           cmd.Branch,
		IncludeGraduated: true,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile_ledgers: list students: %w", err)
	}

	result := &ReconcileLedgersResult{
		Checked: len(rollNos),
		Failed:  make(map[string]string),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for _, rollNo := range rollNos {
		rollNo := rollNo
		g.Go(func() error {
			res, err := h.mutator.run(gctx, "reconcile_ledger", rollNo, runOptions{}, func(l *ledger.Ledger, _ time.Time) (outcome, error) {
				return outcome{skip: !l.Drifted()}, nil
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed[rollNo.String()] = err.Error()
			case !res.skipped:
				result.Repaired = append(result.Repaired, rollNo.String())
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	if len(result.Repaired) > 0 || len(result.Failed) > 0 {
		h.mutator.logger.Warn("ledger drift reconciled",
			"checked", result.Checked,
			"repaired", len(result.Repaired),
			"failed", len(result.Failed),
		)
	}
	return result, nil
}
