package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPEND LATE EVENT COMMAND
// Records a late arrival at the end of the student's history and recomputes
// the ledger. Backdating is not supported: the timestamp must be "now".
// ══════════════════════════════════════════════════════════════════════════════

// ClockSkew is the tolerated difference between a submitted timestamp and now.
const ClockSkew = time.Minute

// AppendLateEventCommand contains the data to mark a student late.
type AppendLateEventCommand struct {
	RollNo        string `validate:"required,rollno"`
	MarkedByName  string `validate:"required,max=100"`
	MarkedByEmail string `validate:"omitempty,email"`

	// Timestamp defaults to now if zero.
	Timestamp time.Time

	Reason string `validate:"max=500"`

	// Enroll creates the ledger when the student is unknown. Nil means an
	// unknown student fails with ErrStudentNotFound.
	Enroll *RegisterStudentCommand
}

// Validate validates the command.
func (c AppendLateEventCommand) Validate() error {
	if err := validateStruct("AppendLateEvent", c); err != nil {
		return err
	}
	if c.Enroll != nil {
		if err := c.Enroll.Validate(); err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(c.Enroll.RollNo), strings.TrimSpace(c.RollNo)) {
			return shared.Detail(shared.ErrInvalidIdentity, "enroll roll number does not match")
		}
	}
	return nil
}

// AppendLateEventResult contains the result of marking a student late.
type AppendLateEventResult struct {
	Snapshot *ledger.Snapshot
	Event    ledger.LateEvent
	Ordinal  int
	Fine     int

	// Enrolled is true when the ledger was created by this call.
	Enrolled bool

	// AlertRaised is true when this event first raised the faculty alert.
	AlertRaised bool

	Attempts int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AppendLateEventHandlerConfig contains configuration for the handler.
type AppendLateEventHandlerConfig struct {
	// SameDayGuard runs before each append when GuardEnabled allows it.
	SameDayGuard ledger.SameDayGuard

	// GuardEnabled decides per student whether SameDayGuard applies.
	// Nil disables the guard.
	GuardEnabled func(rollNo shared.RollNo, branch shared.Branch) bool
}

// AppendLateEventHandler handles the AppendLateEventCommand.
type AppendLateEventHandler struct {
	mutator *Mutator
	config  AppendLateEventHandlerConfig
}

// NewAppendLateEventHandler creates a new AppendLateEventHandler.
func NewAppendLateEventHandler(mutator *Mutator, config AppendLateEventHandlerConfig) *AppendLateEventHandler {
	return &AppendLateEventHandler{
		mutator: mutator,
		config:  config,
	}
}

// Handle executes the append late event command.
func (h *AppendLateEventHandler) Handle(ctx context.Context, cmd AppendLateEventCommand) (*AppendLateEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("append_late_event: %w", err)
	}
	rollNo, err := shared.NewRollNo(cmd.RollNo)
	if err != nil {
		return nil, fmt.Errorf("append_late_event: %w", err)
	}

	var opts runOptions
	if cmd.Enroll != nil {
		identity, err := cmd.Enroll.Identity()
		if err != nil {
			return nil, fmt.Errorf("append_late_event: %w", err)
		}
		opts.enroll = &identity
	}

	actor := shared.Actor{Name: cmd.MarkedByName, Email: cmd.MarkedByEmail}

	// The event keeps one ID across CAS retries. An implicit timestamp is
	// re-read on every attempt so a retry never lands before the winner's event.
	now := h.mutator.Now()
	at := cmd.Timestamp
	if at.IsZero() {
		at = now
	}
	if err := checkTimestamp(at, now); err != nil {
		return nil, fmt.Errorf("append_late_event: %w", err)
	}
	event := ledger.NewLateEvent(at, actor, cmd.Reason)

	var (
		appended ledger.AppendOutcome
		attempt  int
	)
	res, err := h.mutator.run(ctx, "append_late_event", rollNo, opts, func(l *ledger.Ledger, now time.Time) (outcome, error) {
		attempt++
		ev := event
		switch {
		case cmd.Timestamp.IsZero():
			ev.Timestamp = timeutil.Canonical(now)
		case attempt > 1:
			// A writer that beat us may have recorded a later tail.
			ev.Timestamp = notBeforeTail(l, ev.Timestamp)
		}
		out, err := l.AppendEvent(ev, h.guardFor(l), now)
		if err != nil {
			return outcome{}, err
		}
		appended = out

		events := []shared.Event{
			shared.NewLateEventAppendedEvent(
				l.RollNo().String(), out.Event.ID, out.Event.Timestamp, actor.String(),
				out.Ordinal, out.Fine, l.LateDays(), l.Fines(), l.Status().String(),
			),
		}
		if out.AlertRaised {
			id := l.Identity()
			events = append(events, shared.NewFacultyAlertRaisedEvent(
				id.RollNo.String(), id.Name, id.Branch.String(), id.Section, id.Year,
				l.LateDays(), l.Fines(), l.Status().String(),
			))
		}
		return outcome{events: events}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("append_late_event: %w", err)
	}

	h.mutator.logger.Info("late event appended",
		"roll_no", rollNo,
		"ordinal", appended.Ordinal,
		"fine", appended.Fine,
		"late_days", res.ledger.LateDays(),
		"status", res.ledger.Status(),
		"attempts", res.attempts,
	)

	return &AppendLateEventResult{
		Snapshot:    res.ledger.Snapshot(),
		Event:       appended.Event,
		Ordinal:     appended.Ordinal,
		Fine:        appended.Fine,
		Enrolled:    res.created,
		AlertRaised: appended.AlertRaised,
		Attempts:    res.attempts,
	}, nil
}

func (h *AppendLateEventHandler) guardFor(l *ledger.Ledger) ledger.SameDayGuard {
	if h.config.SameDayGuard == nil || h.config.GuardEnabled == nil {
		return nil
	}
	if !h.config.GuardEnabled(l.RollNo(), l.Identity().Branch) {
		return nil
	}
	return h.config.SameDayGuard
}

// notBeforeTail moves at up to the last recorded event. Only retries use it:
// the explicit timestamp was in order when the caller's attempt began.
func notBeforeTail(l *ledger.Ledger, at time.Time) time.Time {
	events := l.Events()
	if n := len(events); n > 0 && timeutil.Canonical(at).Before(events[n-1].Timestamp) {
		return events[n-1].Timestamp
	}
	return at
}

// checkTimestamp rejects timestamps that are not "now" within ClockSkew.
func checkTimestamp(at, now time.Time) error {
	switch {
	case at.After(now.Add(ClockSkew)):
		return shared.NewDomainError("ledger", "AppendLateEvent", shared.ErrFutureTimestamp,
			fmt.Sprintf("timestamp %s is ahead of now", at.UTC().Format(time.RFC3339)))
	case at.Before(now.Add(-ClockSkew)):
		return shared.Detail(shared.ErrBackdatedEvent, "timestamp %s is behind now by %s",
			at.UTC().Format(time.RFC3339), now.Sub(at).Truncate(time.Second))
	}
	return nil
}
