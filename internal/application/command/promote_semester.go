package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTE SEMESTER COMMAND
// Advances every matching student to the next academic period and clears the
// late-tracking state. Each student is an independent write; a run can be
// repeated with the same RunID and already promoted students are skipped.
// ══════════════════════════════════════════════════════════════════════════════

// PromoteSemesterCommand selects the students to promote.
type PromoteSemesterCommand struct {
	// Year restricts the run to one academic year. Zero means all years.
	Year int `validate:"omitempty,min=1,max=4"`

	// Branch restricts the run to one branch. Empty means all branches.
	Branch string `validate:"omitempty,branch"`

	// RunID identifies the run. Generated when empty; pass the previous
	// RunID to resume an interrupted run.
	RunID string `validate:"omitempty,max=64"`
}

// Validate validates the command.
func (c PromoteSemesterCommand) Validate() error {
	return validateStruct("PromoteSemester", c)
}

// Per-student promotion outcomes.
const (
	PromotionAdvanced  = "promoted"
	PromotionGraduated = "graduated"
	PromotionSkipped   = "skipped"
	PromotionFailed    = "failed"
)

// PromotionDetail describes one student's transition.
type PromotionDetail struct {
	RollNo       string `json:"roll_no"`
	From         string `json:"from"`
	To           string `json:"to"`
	Outcome      string `json:"outcome"`
	ClearedDays  int    `json:"cleared_days"`
	ClearedFines int    `json:"cleared_fines"`
	YearChanged  bool   `json:"year_changed"`
	Error        string `json:"error,omitempty"`
}

// PromoteSemesterResult contains the run summary.
type PromoteSemesterResult struct {
	RunID           string
	StudentsMatched int
	Promoted        int
	Graduated       int
	Skipped         int
	YearTransitions int
	Failed          int
	Details         []PromotionDetail
	Duration        time.Duration
}

// PromoteSemesterHandlerConfig contains configuration for the handler.
type PromoteSemesterHandlerConfig struct {
	// Concurrency is the number of students promoted in parallel.
	Concurrency int
}

// DefaultPromoteSemesterHandlerConfig returns default configuration.
func DefaultPromoteSemesterHandlerConfig() PromoteSemesterHandlerConfig {
	return PromoteSemesterHandlerConfig{Concurrency: 8}
}

// PromoteSemesterHandler handles the PromoteSemesterCommand.
type PromoteSemesterHandler struct {
	ledgers ledger.Repository
	mutator *Mutator
	config  PromoteSemesterHandlerConfig
}

// NewPromoteSemesterHandler creates a new PromoteSemesterHandler.
func NewPromoteSemesterHandler(ledgers ledger.Repository, mutator *Mutator, config PromoteSemesterHandlerConfig) *PromoteSemesterHandler {
	if config.Concurrency <= 0 {
		config = DefaultPromoteSemesterHandlerConfig()
	}
	return &PromoteSemesterHandler{
		ledgers: ledgers,
		mutator: mutator,
		config:  config,
	}
}

// Handle executes the promote semester command. A failure listing students
// aborts the run; per-student failures are reported in Details.
func (h *PromoteSemesterHandler) Handle(ctx context.Context, cmd PromoteSemesterCommand) (*PromoteSemesterResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("promote_semester: %w", err)
	}
	start := time.Now()

	runID := cmd.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	filter := ledger.Filter{Year: cmd.Year}
	if cmd.Branch != "" {
		branch, err := shared.NewBranch(cmd.Branch)
		if err != nil {
			return nil, fmt.Errorf("promote_semester: %w", err)
		}
		filter.Branch = branch
	}

	rollNos, err := h.ledgers.RollNos(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("promote_semester: list students: %w", err)
	}

	h.mutator.logger.Info("promotion started",
		"run_id", runID,
		"year", cmd.Year,
		"branch", cmd.Branch,
		"students", len(rollNos),
	)

	result := &PromoteSemesterResult{
		RunID:           runID,
		StudentsMatched: len(rollNos),
		Details:         make([]PromotionDetail, 0, len(rollNos)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for _, rollNo := range rollNos {
		rollNo := rollNo
		g.Go(func() error {
			detail := h.promoteOne(gctx, runID, rollNo)

			mu.Lock()
			defer mu.Unlock()
			result.Details = append(result.Details, detail)
			switch detail.Outcome {
			case PromotionAdvanced:
				result.Promoted++
			case PromotionGraduated:
				result.Graduated++
			case PromotionSkipped:
				result.Skipped++
			case PromotionFailed:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Details, func(i, j int) bool {
		return result.Details[i].RollNo < result.Details[j].RollNo
	})
	for _, d := range result.Details {
		if d.YearChanged {
			result.YearTransitions++
		}
	}
	result.Duration = time.Since(start)

	h.mutator.logger.Info("promotion completed",
		"run_id", runID,
		"promoted", result.Promoted,
		"graduated", result.Graduated,
		"skipped", result.Skipped,
		"year_transitions", result.YearTransitions,
		"failed", result.Failed,
		"duration", result.Duration,
	)

	return result, nil
}

// promoteOne promotes a single student and never returns an error.
func (h *PromoteSemesterHandler) promoteOne(ctx context.Context, runID string, rollNo shared.RollNo) PromotionDetail {
	detail := PromotionDetail{RollNo: rollNo.String()}

	var promotion ledger.Promotion
	res, err := h.mutator.run(ctx, "promote_semester", rollNo, runOptions{}, func(l *ledger.Ledger, now time.Time) (outcome, error) {
		if l.Graduated() || l.PromotedBy(runID) {
			return outcome{skip: true}, nil
		}
		p, err := l.Promote(runID, now)
		if err != nil {
			return outcome{}, err
		}
		promotion = p

		id := l.Identity()
		events := []shared.Event{
			shared.NewSemesterPromotedEvent(id.RollNo.String(), runID,
				p.From.String(), p.To.String(), p.ClearedDays, p.ClearedFines),
		}
		if p.Graduated {
			events = append(events, shared.NewStudentGraduatedEvent(id.RollNo.String(), runID, id.Branch.String()))
		}
		return outcome{events: events}, nil
	})
	if err != nil {
		detail.Outcome = PromotionFailed
		detail.Error = err.Error()
		if errors.Is(err, shared.ErrStudentNotFound) {
			detail.Error = FailureStudentNotFound
		}
		h.mutator.logger.Warn("student promotion failed", "run_id", runID, "roll_no", rollNo, "error", err)
		return detail
	}

	if res.skipped {
		period := res.ledger.Period().String()
		detail.From, detail.To = period, period
		detail.Outcome = PromotionSkipped
		return detail
	}

	detail.From = promotion.From.String()
	detail.To = promotion.To.String()
	detail.ClearedDays = promotion.ClearedDays
	detail.ClearedFines = promotion.ClearedFines
	detail.YearChanged = promotion.YearChanged
	detail.Outcome = PromotionAdvanced
	if promotion.Graduated {
		detail.Outcome = PromotionGraduated
	}
	return detail
}
