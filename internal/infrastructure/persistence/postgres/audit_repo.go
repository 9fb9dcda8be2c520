package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// auditChainLockKey serializes appends to the audit chain across processes.
const auditChainLockKey int64 = 0x6c6174656c6f6701

const auditColumns = `
	id, sequence, recorded_at, performed_by, target_roll_no, target_name,
	records_removed, removed_dates, removed_event_ids, before_state, after_state,
	reason, authorized_by, ip_address, user_agent, prev_hash, hash`

// AuditRepository implements audit.Repository for PostgreSQL.
type AuditRepository struct {
	conn *Connection
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(conn *Connection) *AuditRepository {
	return &AuditRepository{conn: conn}
}

// Append seals rec after the current head and inserts it.
func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return appendRecord(ctx, tx, rec)
	})
	if err != nil {
		return transient("append_audit_record", err)
	}
	return nil
}

// appendRecord must run inside a transaction: the advisory lock is held
// until commit or rollback.
func appendRecord(ctx context.Context, tx pgx.Tx, rec *audit.Record) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
		return fmt.Errorf("failed to lock audit chain: %w", err)
	}

	var prev *audit.Record
	head := &audit.Record{}
	err := tx.QueryRow(ctx, `SELECT sequence, hash FROM audit_records ORDER BY sequence DESC LIMIT 1`).
		Scan(&head.Sequence, &head.Hash)
	switch {
	case err == nil:
		prev = head
	case !IsNoRows(err):
		return fmt.Errorf("failed to read audit head: %w", err)
	}

	rec.Seal(prev)

	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before snapshot: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after snapshot: %w", err)
	}

	query := `INSERT INTO audit_records (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = tx.Exec(ctx, query,
		rec.ID,
		rec.Sequence,
		rec.Timestamp,
		rec.PerformedBy,
		rec.TargetRollNo,
		rec.TargetName,
		rec.RecordsRemoved,
		nonNilSlice(rec.RemovedDates),
		nonNilSlice(rec.RemovedEventIDs),
		before,
		after,
		rec.Reason,
		rec.AuthorizedBy,
		rec.IPAddress,
		rec.UserAgent,
		rec.PrevHash,
		rec.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Get returns a record by ID.
func (r *AuditRepository) Get(ctx context.Context, id string) (*audit.Record, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE id::text = $1`

	rec, err := scanRecord(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAuditRecordNotFound
		}
		return nil, transient("get_audit_record", err)
	}
	return rec, nil
}

// List returns matching records, newest first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter, page shared.Pagination) ([]*audit.Record, error) {
	where, args := buildAuditWhere(filter)
	args = append(args, page.Offset(), page.Limit())
	query := fmt.Sprintf(`SELECT %s FROM audit_records%s ORDER BY sequence DESC OFFSET $%d LIMIT $%d`,
		auditColumns, where, len(args)-1, len(args))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, transient("list_audit_records", err)
	}
	return scanRecords(rows)
}

// Count returns the number of matching records.
func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int, error) {
	where, args := buildAuditWhere(filter)

	var count int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&count); err != nil {
		return 0, transient("count_audit_records", err)
	}
	return count, nil
}

// Range returns up to limit records after afterSequence, ascending.
// limit <= 0 returns the rest of the chain.
func (r *AuditRepository) Range(ctx context.Context, afterSequence int64, limit int) ([]*audit.Record, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE sequence > $1 ORDER BY sequence`
	args := []interface{}{afterSequence}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, transient("range_audit_records", err)
	}
	return scanRecords(rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

func buildAuditWhere(f audit.Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.RollNo != "" {
		args = append(args, f.RollNo.String())
		conds = append(conds, fmt.Sprintf("target_roll_no = $%d", len(args)))
	}
	if f.AuthorizedBy != "" {
		args = append(args, f.AuthorizedBy)
		conds = append(conds, fmt.Sprintf("authorized_by = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecords(rows pgx.Rows) ([]*audit.Record, error) {
	defer rows.Close()

	records := make([]*audit.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*audit.Record, error) {
	var (
		rec           audit.Record
		before, after []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.Sequence,
		&rec.Timestamp,
		&rec.PerformedBy,
		&rec.TargetRollNo,
		&rec.TargetName,
		&rec.RecordsRemoved,
		&rec.RemovedDates,
		&rec.RemovedEventIDs,
		&before,
		&after,
		&rec.Reason,
		&rec.AuthorizedBy,
		&rec.IPAddress,
		&rec.UserAgent,
		&rec.PrevHash,
		&rec.Hash,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp = timeutil.Canonical(rec.Timestamp)
	if err := json.Unmarshal(before, &rec.Before); err != nil {
		return nil, fmt.Errorf("failed to unmarshal before snapshot: %w", err)
	}
	if err := json.Unmarshal(after, &rec.After); err != nil {
		return nil, fmt.Errorf("failed to unmarshal after snapshot: %w", err)
	}
	return &rec, nil
}
