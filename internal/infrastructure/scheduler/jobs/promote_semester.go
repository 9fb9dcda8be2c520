package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latetrack/late-ledger/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTE SEMESTER JOB
// ══════════════════════════════════════════════════════════════════════════════

// SemesterPromoter advances students to the next academic period.
type SemesterPromoter interface {
	Handle(ctx context.Context, cmd command.PromoteSemesterCommand) (*command.PromoteSemesterResult, error)
}

// PromoteSemesterJob runs the semester rollover on the academic calendar.
// The run ID is derived from the calendar day, so a retry on the same day
// resumes the interrupted run instead of promoting students twice.
type PromoteSemesterJob struct {
	promoter SemesterPromoter
	logger   *slog.Logger
	now      func() time.Time
}

// NewPromoteSemesterJob creates the job.
func NewPromoteSemesterJob(promoter SemesterPromoter, logger *slog.Logger) *PromoteSemesterJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromoteSemesterJob{
		promoter: promoter,
		logger:   logger.With("job", "promote_semester"),
		now:      time.Now,
	}
}

func (j *PromoteSemesterJob) Name() string { return "promote_semester" }

func (j *PromoteSemesterJob) Description() string {
	return "Promotes all active students and clears their late records"
}

// RunID returns the run identifier used for t.
func RunID(t time.Time) string {
	return "scheduled-" + t.UTC().Format("2006-01-02")
}

// Run executes the promotion.
func (j *PromoteSemesterJob) Run(ctx context.Context) error {
	runID := RunID(j.now())
	res, err := j.promoter.Handle(ctx, command.PromoteSemesterCommand{RunID: runID})
	if err != nil {
		return fmt.Errorf("promote semester: %w", err)
	}

	j.logger.Info("semester promotion finished",
		"run_id", res.RunID,
		"matched", res.StudentsMatched,
		"promoted", res.Promoted,
		"graduated", res.Graduated,
		"skipped", res.Skipped,
		"year_transitions", res.YearTransitions,
		"failed", res.Failed,
		"duration", res.Duration.String(),
	)

	if res.Failed > 0 {
		return fmt.Errorf("promote semester: %d students failed, rerun %s to resume", res.Failed, runID)
	}
	return nil
}
