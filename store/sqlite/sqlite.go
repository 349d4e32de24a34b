/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists balance accounts, the audit trail, leave requests, accrual
  settings, monthly reports and the directory data (members, working rules,
  holidays, time entries) read by the engines.

UNIQUENESS ENFORCED BY THE SCHEMA:
  - audit_entries.idempotency_key: a scheduler grant or reconciliation step
    is written at most once
  - accrual_settings(workspace_id) WHERE enabled: one enabled setting per
    workspace
  - monthly_reports(workspace_id, year, month): one reconciliation per month

OPTIMISTIC LOCKING:
  accounts.version is compared and bumped on every save. A stale save
  returns generic.ErrConcurrentModification, which generic.WithRetry
  re-runs.

CONNECTIONS:
  The pool is limited to one connection. SQLite serializes writers anyway,
  and ":memory:" databases are per-connection. Never keep a *sql.Rows open
  while issuing another query.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements generic.Store over either the pool or an open sql.Tx.
type queries struct {
	q querier
}

// Store implements generic.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		UNIQUE(workspace_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS buckets (
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		value TEXT NOT NULL,
		consumed TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_paid BOOLEAN NOT NULL DEFAULT TRUE,
		position INTEGER NOT NULL,
		PRIMARY KEY(account_id, type)
	);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		bucket_type TEXT NOT NULL,
		delta TEXT NOT NULL,
		previous_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		acting_user TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_account
		ON audit_entries(workspace_id, user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_reference
		ON audit_entries(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		number_of_days TEXT NOT NULL,
		daily_details_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		pending_json TEXT,
		allocation_json TEXT,
		reason TEXT,
		created_by TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_account
		ON leave_requests(workspace_id, user_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON leave_requests(status);

	CREATE TABLE IF NOT EXISTS accrual_settings (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		bucket_type TEXT NOT NULL,
		number_of_leaves TEXT NOT NULL,
		recurrence TEXT NOT NULL,
		frequency TEXT,
		anchor_day INTEGER NOT NULL DEFAULT 0,
		next_execution TEXT,
		last_execution TEXT,
		history_json TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one enabled setting per workspace
	CREATE UNIQUE INDEX IF NOT EXISTS idx_settings_one_enabled
		ON accrual_settings(workspace_id) WHERE enabled;

	CREATE TABLE IF NOT EXISTS monthly_reports (
		id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		status TEXT NOT NULL,
		working_days INTEGER NOT NULL DEFAULT 0,
		ideal_hours TEXT NOT NULL,
		per_user_json TEXT NOT NULL,
		deductions_json TEXT NOT NULL,
		error TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		UNIQUE(workspace_id, year, month)
	);

	CREATE TABLE IF NOT EXISTS memberships (
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		joined_at TEXT NOT NULL,
		PRIMARY KEY(workspace_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS working_rules (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		working_hours TEXT NOT NULL,
		week_days_json TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_workspace_date
		ON holidays(workspace_id, date);

	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		start TEXT NOT NULL,
		day TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_entries_user_day
		ON time_entries(workspace_id, user_id, day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Multi-statement writes outside a caller transaction get their own.

func (s *Store) SaveAccount(ctx context.Context, acct *generic.Account) error {
	return s.WithTx(ctx, func(tx generic.Store) error { return tx.SaveAccount(ctx, acct) })
}

func (s *Store) AppendAudit(ctx context.Context, entries ...generic.AuditEntry) error {
	return s.WithTx(ctx, func(tx generic.Store) error { return tx.AppendAudit(ctx, entries...) })
}

func (s *Store) SaveWorkingRule(ctx context.Context, r generic.WorkingRule) error {
	return s.WithTx(ctx, func(tx generic.Store) error { return tx.SaveWorkingRule(ctx, r) })
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"buckets", "accounts", "audit_entries", "leave_requests", "accrual_settings",
		"monthly_reports", "memberships", "working_rules", "holidays", "time_entries",
	}
	return s.WithTx(ctx, func(tx generic.Store) error {
		q := tx.(*queries)
		for _, t := range tables {
			if _, err := q.q.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("failed to clear %s: %w", t, err)
			}
		}
		return nil
	})
}

var _ generic.TxStore = (*Store)(nil)

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	return generic.MustParseDecimal(s)
}

func parseDate(s string) generic.Date {
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}
	}
	return d
}

func sqliteCode(err error) (sqlite3.ErrNo, sqlite3.ErrNoExtended, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code, se.ExtendedCode, true
	}
	return 0, 0, false
}

func isUniqueConstraintError(err error) bool {
	_, ext, ok := sqliteCode(err)
	return ok && (ext == sqlite3.ErrConstraintUnique || ext == sqlite3.ErrConstraintPrimaryKey)
}

// mapErr turns lock contention into the retryable domain error.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if code, _, ok := sqliteCode(err); ok && (code == sqlite3.ErrBusy || code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
	}
	return err
}
