package command

import (
	"context"
	"fmt"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNDO LATE EVENT COMMAND
// Self-service correction of a mistaken mark. Exactly one event, matched by
// its timestamp, inside the fixed ledger.UndoWindow. No audit record.
// ══════════════════════════════════════════════════════════════════════════════

// UndoLateEventCommand identifies the event to undo.
type UndoLateEventCommand struct {
	RollNo         string `validate:"required,rollno"`
	EventTimestamp time.Time
}

// Validate validates the command.
func (c UndoLateEventCommand) Validate() error {
	if c.EventTimestamp.IsZero() {
		return shared.NewDomainError("ledger", "UndoLateEvent", shared.ErrValidation, "event timestamp is required")
	}
	return validateStruct("UndoLateEvent", c)
}

// UndoLateEventResult contains the ledger after the undo.
type UndoLateEventResult struct {
	Snapshot *ledger.Snapshot
	Undone   ledger.LateEvent
	Attempts int
}

// UndoLateEventHandler handles the UndoLateEventCommand.
type UndoLateEventHandler struct {
	mutator *Mutator
}

// NewUndoLateEventHandler creates a new UndoLateEventHandler.
func NewUndoLateEventHandler(mutator *Mutator) *UndoLateEventHandler {
	return &UndoLateEventHandler{mutator: mutator}
}

// Handle executes the undo late event command.
func (h *UndoLateEventHandler) Handle(ctx context.Context, cmd UndoLateEventCommand) (*UndoLateEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("undo_late_event: %w", err)
	}
	rollNo, err := shared.NewRollNo(cmd.RollNo)
	if err != nil {
		return nil, fmt.Errorf("undo_late_event: %w", err)
	}

	var undone ledger.LateEvent
	res, err := h.mutator.run(ctx, "undo_late_event", rollNo, runOptions{}, func(l *ledger.Ledger, now time.Time) (outcome, error) {
		ev, err := l.UndoEvent(cmd.EventTimestamp, now)
		if err != nil {
			return outcome{}, err
		}
		undone = ev

		return outcome{events: []shared.Event{
			shared.NewLateEventUndoneEvent(l.RollNo().String(), ev.ID, ev.Timestamp, l.LateDays(), l.Fines()),
		}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("undo_late_event: %w", err)
	}

	h.mutator.logger.Info("late event undone",
		"roll_no", rollNo,
		"event_id", undone.ID,
		"late_days", res.ledger.LateDays(),
		"fines", res.ledger.Fines(),
	)

	return &UndoLateEventResult{
		Snapshot: res.ledger.Snapshot(),
		Undone:   undone,
		Attempts: res.attempts,
	}, nil
}
