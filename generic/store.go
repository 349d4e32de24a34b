/*
store.go - Persistence contracts

PURPOSE:
  Defines the interface between the engines and the database. The engines
  never talk to a database directly: they receive a Store (usually the
  transactional view handed to a WithTx callback) and call these methods.

KEY INTERFACES:
  AccountStore: balance accounts with optimistic versioning
  AuditLog:     append-only audit entries with unique idempotency keys
  RequestStore: leave requests
  SettingStore: auto-accrual settings (one enabled per workspace)
  ReportStore:  monthly reports (unique per workspace/year/month)
  Directory:    memberships, working rules, holidays, time entries
  TxStore:      all of the above plus WithTx

ATOMICITY:
  WithTx runs fn against a view of the store. If fn returns an error every
  write made through the view is rolled back. Callers retry the whole
  callback on retryable errors (see WithRetry).

IMPLEMENTATIONS:
  - store/sqlite: SQLite (production)
  - generic/store: in-memory (tests, demo)
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type AccountStore interface {
	// GetAccount returns ErrAccountNotFound if the member has no account yet.
	GetAccount(ctx context.Context, key AccountKey) (*Account, error)

	// SaveAccount inserts an account with Version 0 or updates one whose
	// stored version equals acct.Version. On success acct.Version is
	// incremented. A stale version returns ErrConcurrentModification.
	SaveAccount(ctx context.Context, acct *Account) error

	ListAccounts(ctx context.Context, workspaceID WorkspaceID) ([]Account, error)
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

type AuditLog interface {
	// AppendAudit persists entries. Returns ErrDuplicateIdempotencyKey if any
	// entry reuses a key.
	AppendAudit(ctx context.Context, entries ...AuditEntry) error

	// AuditKeyExists checks if an idempotency key was already written.
	AuditKeyExists(ctx context.Context, idempotencyKey string) (bool, error)

	// QueryAudit returns matching entries ordered by timestamp.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

type RequestStore interface {
	SaveRequest(ctx context.Context, r LeaveRequest) error
	GetRequest(ctx context.Context, id string) (*LeaveRequest, error)
	DeleteRequest(ctx context.Context, id string) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
}

// =============================================================================
// SETTING STORE
// =============================================================================

type SettingStore interface {
	// SaveSetting upserts s. Returns ErrSettingConflict if s is enabled and
	// another enabled setting exists in the same workspace.
	SaveSetting(ctx context.Context, s AutoAccrualSetting) error
	GetSetting(ctx context.Context, id string) (*AutoAccrualSetting, error)
	DeleteSetting(ctx context.Context, id string) error
	ListSettings(ctx context.Context, filter SettingFilter) ([]AutoAccrualSetting, error)
}

// =============================================================================
// REPORT STORE
// =============================================================================

type ReportStore interface {
	// ClaimReport inserts r (status running) under the unique
	// (workspace, year, month) constraint. If a failed report holds the slot
	// it is taken over atomically. Any other existing report returns
	// ErrReportExists.
	ClaimReport(ctx context.Context, r MonthlyReport) error

	// SaveReport overwrites the report in r's (workspace, year, month) slot.
	SaveReport(ctx context.Context, r MonthlyReport) error

	GetReport(ctx context.Context, workspaceID WorkspaceID, year int, month time.Month) (*MonthlyReport, error)
}

// =============================================================================
// DIRECTORY - Collaborator data
// =============================================================================

type Directory interface {
	SaveMembership(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, workspaceID WorkspaceID, userID UserID) (*Membership, error)
	ListMembers(ctx context.Context, workspaceID WorkspaceID) ([]Membership, error)

	// SaveWorkingRule stores r; if r is active every other rule of the
	// workspace is deactivated.
	SaveWorkingRule(ctx context.Context, r WorkingRule) error
	// ActiveWorkingRule returns ErrNoWorkingRule if none is active.
	ActiveWorkingRule(ctx context.Context, workspaceID WorkspaceID) (*WorkingRule, error)

	SaveHoliday(ctx context.Context, h Holiday) error
	HolidaysInRange(ctx context.Context, workspaceID WorkspaceID, p Period) ([]Holiday, error)

	AddTimeEntry(ctx context.Context, e TimeEntry) error
	// DailyTotals sums DurationInSeconds per calendar day (UTC) in p,
	// ordered by day.
	DailyTotals(ctx context.Context, workspaceID WorkspaceID, userID UserID, p Period) ([]DailyTotal, error)
}

// =============================================================================
// STORE / TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	AccountStore
	AuditLog
	RequestStore
	SettingStore
	ReportStore
	Directory
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
