package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER STUDENT COMMAND
// Creates an empty ledger for a student. Marking an unknown student late with
// an Enroll identity does the same implicitly.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterStudentCommand contains the student's identity.
type RegisterStudentCommand struct {
	RollNo   string `validate:"required,rollno"`
	Name     string `validate:"required,max=100"`
	Year     int    `validate:"min=1,max=4"`
	Semester int    `validate:"min=0,max=8"`
	Branch   string `validate:"required,branch"`
	Section  string `validate:"max=3"`
}

// Validate validates the command.
func (c RegisterStudentCommand) Validate() error {
	return validateStruct("RegisterStudent", c)
}

// Identity converts the command into a validated ledger identity.
func (c RegisterStudentCommand) Identity() (ledger.Identity, error) {
	return ledger.NewIdentity(c.RollNo, c.Name, c.Year, c.Semester, c.Branch, c.Section)
}

// RegisterStudentResult contains the new ledger.
type RegisterStudentResult struct {
	Snapshot *ledger.Snapshot
}

// RegisterStudentHandler handles the RegisterStudentCommand.
type RegisterStudentHandler struct {
	ledgers ledger.Repository
	mutator *Mutator
	logger  *slog.Logger
}

// NewRegisterStudentHandler creates a new RegisterStudentHandler.
func NewRegisterStudentHandler(ledgers ledger.Repository, mutator *Mutator) *RegisterStudentHandler {
	return &RegisterStudentHandler{
		ledgers: ledgers,
		mutator: mutator,
		logger:  mutator.logger,
	}
}

// Handle executes the register student command.
func (h *RegisterStudentHandler) Handle(ctx context.Context, cmd RegisterStudentCommand) (*RegisterStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}
	identity, err := cmd.Identity()
	if err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}

	l, err := ledger.New(identity, h.mutator.Policy(), h.mutator.Now())
	if err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.mutator.config.OperationTimeout)
	defer cancel()

	if err := h.ledgers.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("register_student: %w", err)
	}

	h.logger.Info("student registered",
		"roll_no", identity.RollNo,
		"branch", identity.Branch,
		"period", identity.Period().String(),
	)

	return &RegisterStudentResult{Snapshot: l.Snapshot()}, nil
}
