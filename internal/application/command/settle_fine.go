package command

import (
	"context"
	"fmt"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTLE FINE COMMAND
// Records a payment. Settlement is separate from assessment: fines and
// status stay a function of the event list.
// ══════════════════════════════════════════════════════════════════════════════

// SettleFineCommand contains the payment.
type SettleFineCommand struct {
	RollNo string `validate:"required,rollno"`
	Amount int    `validate:"gt=0"`
	PaidBy string `validate:"required,max=100"`
}

// Validate validates the command.
func (c SettleFineCommand) Validate() error {
	if c.Amount <= 0 {
		return shared.ErrInvalidPaymentAmount
	}
	return validateStruct("SettleFine", c)
}

// SettleFineResult contains the payment outcome.
type SettleFineResult struct {
	Snapshot    *ledger.Snapshot
	Payment     ledger.Payment
	EntriesPaid int
	Outstanding int
}

// SettleFineHandler handles the SettleFineCommand.
type SettleFineHandler struct {
	mutator *Mutator
}

// NewSettleFineHandler creates a new SettleFineHandler.
func NewSettleFineHandler(mutator *Mutator) *SettleFineHandler {
	return &SettleFineHandler{mutator: mutator}
}

// Handle executes the settle fine command.
func (h *SettleFineHandler) Handle(ctx context.Context, cmd SettleFineCommand) (*SettleFineResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("settle_fine: %w", err)
	}
	rollNo, err := shared.NewRollNo(cmd.RollNo)
	if err != nil {
		return nil, fmt.Errorf("settle_fine: %w", err)
	}

	var settlement ledger.Settlement
	res, err := h.mutator.run(ctx, "settle_fine", rollNo, runOptions{}, func(l *ledger.Ledger, now time.Time) (outcome, error) {
		s, err := l.Settle(cmd.Amount, cmd.PaidBy, now)
		if err != nil {
			return outcome{}, err
		}
		settlement = s
		return outcome{events: []shared.Event{
			shared.NewFineSettledEvent(l.RollNo().String(), s.Payment.Amount, s.Payment.PaidBy, s.Outstanding),
		}}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("settle_fine: %w", err)
	}

	h.mutator.logger.Info("fine settled",
		"roll_no", rollNo,
		"amount", settlement.Payment.Amount,
		"entries_paid", settlement.EntriesPaid,
		"outstanding", settlement.Outstanding,
	)

	return &SettleFineResult{
		Snapshot:    res.ledger.Snapshot(),
		Payment:     settlement.Payment,
		EntriesPaid: settlement.EntriesPaid,
		Outstanding: settlement.Outstanding,
	}, nil
}
