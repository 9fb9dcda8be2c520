package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_ledgers",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_audit_records",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// 001: ledgers
// events/payments are the source of truth; the derived columns are a cache
// rewritten on every compare-and-swap update.
// ──────────────────────────────────────────────────────────────────────────────

const migration001Up = `
CREATE TABLE IF NOT EXISTS ledgers (
    roll_no            VARCHAR(20) PRIMARY KEY,
    name               VARCHAR(100) NOT NULL,
    year               SMALLINT NOT NULL,
    semester           SMALLINT NOT NULL,
    branch             VARCHAR(10) NOT NULL,
    section            VARCHAR(3) NOT NULL DEFAULT 'A',
    graduated          BOOLEAN NOT NULL DEFAULT FALSE,

    events             JSONB NOT NULL DEFAULT '[]'::jsonb,
    payments           JSONB NOT NULL DEFAULT '[]'::jsonb,
    last_promotion_run TEXT NOT NULL DEFAULT '',

    late_days          INTEGER NOT NULL DEFAULT 0,
    excuse_days_used   INTEGER NOT NULL DEFAULT 0,
    fines              INTEGER NOT NULL DEFAULT 0,
    fines_paid         INTEGER NOT NULL DEFAULT 0,
    per_event_fine     JSONB NOT NULL DEFAULT '[]'::jsonb,
    status             VARCHAR(20) NOT NULL DEFAULT 'normal',
    grace_period_used  INTEGER NOT NULL DEFAULT 0,
    alert_faculty      BOOLEAN NOT NULL DEFAULT FALSE,

    version            BIGINT NOT NULL DEFAULT 1,
    created_at         TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_year CHECK (year BETWEEN 1 AND 4),
    CONSTRAINT valid_semester CHECK (semester BETWEEN 1 AND 8),
    CONSTRAINT valid_status CHECK (status IN (
        'normal', 'excused', 'approaching_limit', 'grace_period', 'fined', 'alert', 'graduated'
    )),
    CONSTRAINT valid_fines CHECK (fines >= 0 AND fines_paid >= 0)
);

CREATE INDEX IF NOT EXISTS idx_ledgers_year_branch ON ledgers(year, branch) WHERE NOT graduated;
CREATE INDEX IF NOT EXISTS idx_ledgers_outstanding ON ledgers(roll_no) WHERE fines > fines_paid;
CREATE INDEX IF NOT EXISTS idx_ledgers_alert ON ledgers(branch, section) WHERE alert_faculty;
`

const migration001Down = `
DROP TABLE IF EXISTS ledgers;
`

// ──────────────────────────────────────────────────────────────────────────────
// 002: audit_records
// Append-only. sequence is assigned under pg_advisory_xact_lock.
// ──────────────────────────────────────────────────────────────────────────────

const migration002Up = `
CREATE TABLE IF NOT EXISTS audit_records (
    sequence          BIGINT PRIMARY KEY,
    id                UUID NOT NULL UNIQUE,
    recorded_at       TIMESTAMP WITH TIME ZONE NOT NULL,
    performed_by      TEXT NOT NULL,
    target_roll_no    VARCHAR(20) NOT NULL,
    target_name       VARCHAR(100) NOT NULL DEFAULT '',
    records_removed   INTEGER NOT NULL,
    removed_dates     TEXT[] NOT NULL DEFAULT '{}',
    removed_event_ids TEXT[] NOT NULL DEFAULT '{}',
    before_state      JSONB NOT NULL,
    after_state       JSONB NOT NULL,
    reason            TEXT NOT NULL,
    authorized_by     TEXT NOT NULL,
    ip_address        TEXT NOT NULL DEFAULT '',
    user_agent        TEXT NOT NULL DEFAULT '',
    prev_hash         TEXT NOT NULL,
    hash              TEXT NOT NULL UNIQUE,

    CONSTRAINT valid_removed CHECK (records_removed >= 0)
);

CREATE INDEX IF NOT EXISTS idx_audit_records_roll_no ON audit_records(target_roll_no, sequence DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_authorized_by ON audit_records(authorized_by, sequence DESC);

CREATE OR REPLACE FUNCTION audit_records_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'audit_records is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_audit_records_immutable ON audit_records;
CREATE TRIGGER trg_audit_records_immutable
    BEFORE UPDATE OR DELETE ON audit_records
    FOR EACH ROW EXECUTE FUNCTION audit_records_immutable();
`

const migration002Down = `
DROP TRIGGER IF EXISTS trg_audit_records_immutable ON audit_records;
DROP FUNCTION IF EXISTS audit_records_immutable();
DROP TABLE IF EXISTS audit_records;
`
