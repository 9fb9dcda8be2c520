package command

import (
	"context"
	"fmt"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE LATE EVENTS COMMAND
// Administrative correction: removes every event on the given local dates,
// recomputes, and writes an audit record in the same transaction as the
// ledger. A request that matches nothing still succeeds and is still audited.
// ══════════════════════════════════════════════════════════════════════════════

// CorrectionMeta describes who asked for a correction and from where.
type CorrectionMeta struct {
	Reason       string
	AuthorizedBy string
	PerformedBy  string
	IPAddress    string `validate:"omitempty,ip"`
	UserAgent    string `validate:"max=512"`
}

// Validate checks reason and authorizer first so callers get typed errors.
func (m CorrectionMeta) Validate() error {
	if err := validateCorrection(m.Reason, m.AuthorizedBy); err != nil {
		return err
	}
	return validateStruct("RemoveLateEvents", m)
}

// RemoveLateEventsCommand contains the dates to remove.
type RemoveLateEventsCommand struct {
	RollNo string `validate:"required,rollno"`

	// Dates are local calendar days, YYYY-MM-DD.
	Dates []string `validate:"required,min=1,dive,datetime=2006-01-02"`

	CorrectionMeta
}

// Validate validates the command.
func (c RemoveLateEventsCommand) Validate() error {
	if err := c.CorrectionMeta.Validate(); err != nil {
		return err
	}
	return validateStruct("RemoveLateEvents", c)
}

// RemoveLateEventsResult contains the outcome of a correction.
type RemoveLateEventsResult struct {
	RollNo        string
	RemovedCount  int
	FineReduction int
	AuditRecordID string
	Before        audit.Snapshot
	After         audit.Snapshot

	// RemovedDates are the requested dates that matched at least one event.
	RemovedDates []string

	// UnmatchedDates are the requested dates that matched nothing.
	UnmatchedDates []string

	Snapshot *ledger.Snapshot
	Attempts int
}

// RemoveLateEventsHandler handles the RemoveLateEventsCommand.
type RemoveLateEventsHandler struct {
	ledgers  ledger.Repository
	mutator  *Mutator
	calendar timeutil.Calendar
}

// NewRemoveLateEventsHandler creates a new RemoveLateEventsHandler.
func NewRemoveLateEventsHandler(ledgers ledger.Repository, mutator *Mutator, calendar timeutil.Calendar) *RemoveLateEventsHandler {
	return &RemoveLateEventsHandler{
		ledgers:  ledgers,
		mutator:  mutator,
		calendar: calendar,
	}
}

// Handle executes the remove late events command.
func (h *RemoveLateEventsHandler) Handle(ctx context.Context, cmd RemoveLateEventsCommand) (*RemoveLateEventsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("remove_late_events: %w", err)
	}
	rollNo, err := shared.NewRollNo(cmd.RollNo)
	if err != nil {
		return nil, fmt.Errorf("remove_late_events: %w", err)
	}
	days, err := h.calendar.ParseDates(cmd.Dates)
	if err != nil {
		return nil, fmt.Errorf("remove_late_events: %w",
			shared.WrapError("ledger", "RemoveLateEvents", shared.ErrValidation, "invalid date", err))
	}

	res, err := h.remove(ctx, rollNo, days, cmd.CorrectionMeta)
	if err != nil {
		return nil, fmt.Errorf("remove_late_events: %w", err)
	}
	return res, nil
}

// remove runs one audited correction for a single student. Inputs are
// already validated.
func (h *RemoveLateEventsHandler) remove(ctx context.Context, rollNo shared.RollNo, days []time.Time, meta CorrectionMeta) (*RemoveLateEventsResult, error) {
	var (
		removal ledger.Removal
		record  *audit.Record
	)

	res, err := h.mutator.run(ctx, "remove_late_events", rollNo, runOptions{}, func(l *ledger.Ledger, now time.Time) (outcome, error) {
		r, err := l.RemoveOnDates(days, h.calendar, now)
		if err != nil {
			return outcome{}, err
		}

		ids := make([]string, len(r.Removed))
		for i, ev := range r.Removed {
			ids[i] = ev.ID
		}
		rec, err := audit.NewRemovalRecord(audit.NewRemovalParams{
			PerformedBy:     meta.PerformedBy,
			TargetRollNo:    l.RollNo(),
			TargetName:      l.Name(),
			RemovedDates:    h.formatDays(days),
			RemovedEventIDs: ids,
			Before:          r.Before,
			After:           r.After,
			Reason:          meta.Reason,
			AuthorizedBy:    meta.AuthorizedBy,
			Request:         audit.RequestMeta{IPAddress: meta.IPAddress, UserAgent: meta.UserAgent},
			At:              now,
		})
		if err != nil {
			return outcome{}, err
		}
		removal, record = r, rec

		var events []shared.Event
		if len(r.Removed) > 0 {
			events = append(events, shared.NewLateEventsRemovedEvent(
				l.RollNo().String(), len(r.Removed), r.FineReduction, rec.ID,
				rec.AuthorizedBy, h.matchedDates(r.Removed),
			))
		}

		return outcome{
			write: func(ctx context.Context, l *ledger.Ledger) error {
				return h.ledgers.SaveWithAudit(ctx, l, rec)
			},
			events: events,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	matched := h.matchedDates(removal.Removed)
	h.mutator.logger.Info("late events removed",
		"roll_no", rollNo,
		"removed", len(removal.Removed),
		"fine_reduction", removal.FineReduction,
		"audit_record_id", record.ID,
		"authorized_by", record.AuthorizedBy,
	)

	return &RemoveLateEventsResult{
		RollNo:         rollNo.String(),
		RemovedCount:   len(removal.Removed),
		FineReduction:  removal.FineReduction,
		AuditRecordID:  record.ID,
		Before:         removal.Before,
		After:          removal.After,
		RemovedDates:   matched,
		UnmatchedDates: h.unmatchedDates(days, matched),
		Snapshot:       res.ledger.Snapshot(),
		Attempts:       res.attempts,
	}, nil
}

func (h *RemoveLateEventsHandler) formatDays(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = h.calendar.FormatDate(d)
	}
	return out
}

// matchedDates returns the distinct local dates of removed events in order.
func (h *RemoveLateEventsHandler) matchedDates(removed []ledger.LateEvent) []string {
	out := make([]string, 0, len(removed))
	for _, ev := range removed {
		d := h.calendar.FormatDate(ev.Timestamp)
		if len(out) == 0 || out[len(out)-1] != d {
			out = append(out, d)
		}
	}
	return out
}

func (h *RemoveLateEventsHandler) unmatchedDates(days []time.Time, matched []string) []string {
	hit := make(map[string]bool, len(matched))
	for _, d := range matched {
		hit[d] = true
	}
	var out []string
	for _, d := range days {
		key := h.calendar.FormatDate(d)
		if !hit[key] {
			out = append(out, key)
		}
	}
	return out
}
