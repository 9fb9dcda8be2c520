package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const ledgerColumns = `
	roll_no, name, year, semester, branch, section, graduated,
	events, payments, last_promotion_run,
	late_days, excuse_days_used, fines, per_event_fine, status, grace_period_used, alert_faculty,
	version, created_at, updated_at`

// LedgerRepository implements ledger.Repository for PostgreSQL.
type LedgerRepository struct {
	conn   *Connection
	policy ledger.Policy
}

// NewLedgerRepository creates a new LedgerRepository. Rows are restored
// with policy.
func NewLedgerRepository(conn *Connection, policy ledger.Policy) *LedgerRepository {
	return &LedgerRepository{conn: conn, policy: policy}
}

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a new ledger with version 1.
func (r *LedgerRepository) Create(ctx context.Context, l *ledger.Ledger) error {
	query := `
		INSERT INTO ledgers (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, $18, $19)
	`

	st := l.State()
	payload, err := encodeState(st)
	if err != nil {
		return err
	}

	_, err = r.conn.Exec(ctx, query,
		st.Identity.RollNo.String(),
		st.Identity.Name,
		st.Identity.Year,
		st.Identity.Semester,
		st.Identity.Branch.String(),
		st.Identity.Section,
		st.Graduated,
		payload.events,
		payload.payments,
		st.LastPromotionRun,
		st.Stored.LateDays,
		st.Stored.ExcuseDaysUsed,
		st.Stored.Fines,
		payload.perEventFine,
		st.Stored.Status.String(),
		st.Stored.GracePeriodUsed,
		st.Stored.AlertFaculty,
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrStudentAlreadyExists
		}
		return transient("create_ledger", err)
	}

	l.MarkPersisted(1)
	return nil
}

// Get returns a ledger by roll number.
func (r *LedgerRepository) Get(ctx context.Context, rollNo shared.RollNo) (*ledger.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE roll_no = $1`

	st, err := scanState(r.conn.QueryRow(ctx, query, rollNo.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, transient("get_ledger", err)
	}

	l, err := ledger.Restore(st, r.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger %s: %w", rollNo, err)
	}
	return l, nil
}

// Save writes the ledger if the stored version still matches.
func (r *LedgerRepository) Save(ctx context.Context, l *ledger.Ledger) error {
	version, err := r.update(ctx, r.conn, l)
	if err != nil {
		return err
	}
	l.MarkPersisted(version)
	return nil
}

// SaveWithAudit writes the ledger and appends rec in one transaction.
func (r *LedgerRepository) SaveWithAudit(ctx context.Context, l *ledger.Ledger, rec *audit.Record) error {
	var version int64
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		v, err := r.update(ctx, tx, l)
		if err != nil {
			return err
		}
		if err := appendRecord(ctx, tx, rec); err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		var domainErr *shared.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return transient("save_ledger_with_audit", err)
	}

	l.MarkPersisted(version)
	return nil
}

// update performs the compare-and-swap and returns the new version.
func (r *LedgerRepository) update(ctx context.Context, q Querier, l *ledger.Ledger) (int64, error) {
	query := `
		UPDATE ledgers SET
			name = $3,
			year = $4,
			semester = $5,
			branch = $6,
			section = $7,
			graduated = $8,
			events = $9,
			payments = $10,
			last_promotion_run = $11,
			late_days = $12,
			excuse_days_used = $13,
			fines = $14,
			per_event_fine = $15,
			status = $16,
			grace_period_used = $17,
			alert_faculty = $18,
			fines_paid = $19,
			updated_at = $20,
			version = version + 1
		WHERE roll_no = $1 AND version = $2
		RETURNING version
	`

	st := l.State()
	payload, err := encodeState(st)
	if err != nil {
		return 0, err
	}

	var version int64
	err = q.QueryRow(ctx, query,
		st.Identity.RollNo.String(),
		st.Version,
		st.Identity.Name,
		st.Identity.Year,
		st.Identity.Semester,
		st.Identity.Branch.String(),
		st.Identity.Section,
		st.Graduated,
		payload.events,
		payload.payments,
		st.LastPromotionRun,
		st.Stored.LateDays,
		st.Stored.ExcuseDaysUsed,
		st.Stored.Fines,
		payload.perEventFine,
		st.Stored.Status.String(),
		st.Stored.GracePeriodUsed,
		st.Stored.AlertFaculty,
		l.FinesPaid(),
		st.UpdatedAt,
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !IsNoRows(err) {
		return 0, transient("update_ledger", err)
	}

	var stored int64
	err = q.QueryRow(ctx, `SELECT version FROM ledgers WHERE roll_no = $1`, st.Identity.RollNo.String()).Scan(&stored)
	switch {
	case IsNoRows(err):
		return 0, shared.ErrStudentNotFound
	case err != nil:
		return 0, transient("update_ledger", err)
	}
	return 0, shared.Detail(shared.ErrStaleLedgerVersion, "%s: have %d, stored %d", st.Identity.RollNo, st.Version, stored)
}

// ─────────────────────────────────────────────────────────────────────────────
// Bulk Operations
// ─────────────────────────────────────────────────────────────────────────────

// List returns matching ledgers ordered by roll number.
func (r *LedgerRepository) List(ctx context.Context, filter ledger.Filter, opts ledger.ListOptions) ([]*ledger.Ledger, error) {
	where, args := buildLedgerWhere(filter)
	query := `SELECT ` + ledgerColumns + ` FROM ledgers` + where + ` ORDER BY roll_no` + pageClause(opts, len(args))
	if opts.Limit > 0 {
		args = append(args, opts.Offset, opts.Limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, transient("list_ledgers", err)
	}
	defer rows.Close()

	ledgers := make([]*ledger.Ledger, 0)
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		l, err := ledger.Restore(st, r.policy)
		if err != nil {
			return nil, fmt.Errorf("failed to restore ledger %s: %w", st.Identity.RollNo, err)
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

// Count returns the number of matching ledgers.
func (r *LedgerRepository) Count(ctx context.Context, filter ledger.Filter) (int, error) {
	where, args := buildLedgerWhere(filter)

	var count int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledgers`+where, args...).Scan(&count); err != nil {
		return 0, transient("count_ledgers", err)
	}
	return count, nil
}

// RollNos returns roll numbers of all matching ledgers. Rows are not
// restored, so a malformed event list does not hide the row.
func (r *LedgerRepository) RollNos(ctx context.Context, filter ledger.Filter) ([]shared.RollNo, error) {
	where, args := buildLedgerWhere(filter)

	rows, err := r.conn.Query(ctx, `SELECT roll_no FROM ledgers`+where+` ORDER BY roll_no`, args...)
	if err != nil {
		return nil, transient("list_roll_nos", err)
	}
	defer rows.Close()

	out := make([]shared.RollNo, 0)
	for rows.Next() {
		var roll string
		if err := rows.Scan(&roll); err != nil {
			return nil, fmt.Errorf("failed to scan roll_no: %w", err)
		}
		out = append(out, shared.RollNo(roll))
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// buildLedgerWhere renders filter as a WHERE clause with positional args.
func buildLedgerWhere(f ledger.Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Year != 0 {
		add("year = $%d", f.Year)
	}
	if f.Branch != "" {
		add("branch = $%d", f.Branch.String())
	}
	if f.Section != "" {
		add("section = $%d", f.Section)
	}
	if !f.IncludeGraduated {
		conds = append(conds, "NOT graduated")
	}
	if f.WithOutstandingFines {
		conds = append(conds, "fines > fines_paid")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// pageClause returns OFFSET/LIMIT placeholders following n filter args.
func pageClause(opts ledger.ListOptions, n int) string {
	if opts.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" OFFSET $%d LIMIT $%d", n+1, n+2)
}

type encodedState struct {
	events       []byte
	payments     []byte
	perEventFine []byte
}

func encodeState(st ledger.State) (encodedState, error) {
	var (
		out encodedState
		err error
	)
	if out.events, err = json.Marshal(nonNilSlice(st.Events)); err != nil {
		return out, fmt.Errorf("failed to marshal events: %w", err)
	}
	if out.payments, err = json.Marshal(nonNilSlice(st.Payments)); err != nil {
		return out, fmt.Errorf("failed to marshal payments: %w", err)
	}
	if out.perEventFine, err = json.Marshal(nonNilSlice(st.Stored.PerEventFine)); err != nil {
		return out, fmt.Errorf("failed to marshal per-event fines: %w", err)
	}
	return out, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanState(row pgx.Row) (ledger.State, error) {
	var (
		st                         ledger.State
		stored                     ledger.Tally
		rollNo, branch, status     string
		events, payments, perEvent []byte
	)

	err := row.Scan(
		&rollNo,
		&st.Identity.Name,
		&st.Identity.Year,
		&st.Identity.Semester,
		&branch,
		&st.Identity.Section,
		&st.Graduated,
		&events,
		&payments,
		&st.LastPromotionRun,
		&stored.LateDays,
		&stored.ExcuseDaysUsed,
		&stored.Fines,
		&perEvent,
		&status,
		&stored.GracePeriodUsed,
		&stored.AlertFaculty,
		&st.Version,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return ledger.State{}, err
	}

	st.Identity.RollNo = shared.RollNo(rollNo)
	st.Identity.Branch = shared.Branch(branch)
	stored.Status = ledger.Status(status)
	st.CreatedAt = timeutil.Canonical(st.CreatedAt)
	st.UpdatedAt = timeutil.Canonical(st.UpdatedAt)

	if err := json.Unmarshal(events, &st.Events); err != nil {
		return ledger.State{}, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	if err := json.Unmarshal(payments, &st.Payments); err != nil {
		return ledger.State{}, fmt.Errorf("failed to unmarshal payments: %w", err)
	}
	if err := json.Unmarshal(perEvent, &stored.PerEventFine); err != nil {
		return ledger.State{}, fmt.Errorf("failed to unmarshal per-event fines: %w", err)
	}
	for i := range st.Events {
		st.Events[i].Timestamp = timeutil.Canonical(st.Events[i].Timestamp)
	}
	for i := range st.Payments {
		st.Payments[i].PaidAt = timeutil.Canonical(st.Payments[i].PaidAt)
	}

	st.Stored = &stored
	return st, nil
}
