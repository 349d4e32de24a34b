package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AUDIT TRAIL - Append-only history of every balance mutation
// =============================================================================

type AuditAction string

const (
	AuditApplied        AuditAction = "applied"
	AuditApproved       AuditAction = "approved"
	AuditRejected       AuditAction = "rejected"
	AuditDeleted        AuditAction = "deleted"
	AuditAddedByAdmin   AuditAction = "addedByAdmin"
	AuditUpdatedByAdmin AuditAction = "updatedByAdmin"
	AuditReduced        AuditAction = "reduced"
)

// AuditEntry records one bucket movement. Entries are never modified.
//
// IdempotencyKey, when set, is unique across the whole log; the ledger uses
// it to make scheduler grants and reconciliation steps safe to re-run.
type AuditEntry struct {
	ID             string          `json:"id"`
	WorkspaceID    WorkspaceID     `json:"workspaceId"`
	UserID         UserID          `json:"userId"`
	Action         AuditAction     `json:"action"`
	BucketType     BucketType      `json:"bucketType"`
	Delta          decimal.Decimal `json:"delta"`
	PreviousValue  decimal.Decimal `json:"previousValue"`
	NewValue       decimal.Decimal `json:"newValue"`
	ActingUser     string          `json:"actingUser"`
	ReferenceID    string          `json:"referenceId,omitempty"`
	IdempotencyKey string          `json:"-"`
	Timestamp      time.Time       `json:"timestamp"`
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	WorkspaceID WorkspaceID
	UserID      UserID
	BucketType  BucketType
	ReferenceID string
	Actions     []AuditAction
	From        *time.Time
	To          *time.Time
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.WorkspaceID != "" && e.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.BucketType != "" && e.BucketType != f.BucketType {
		return false
	}
	if f.ReferenceID != "" && e.ReferenceID != f.ReferenceID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}
