/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Response bodies reuse
  the generic types where their JSON tags already are the contract
  (LeaveRequest, Account, AuditEntry, AutoAccrualSetting, MonthlyReport);
  request bodies are API-specific so that dates arrive as strings and are
  validated in the handlers.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// LeaveRequestBody creates or updates a leave request. Dates are YYYY-MM-DD.
type LeaveRequestBody struct {
	UserID    string   `json:"userId"`
	Type      string   `json:"type"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	HalfDays  []string `json:"halfDays,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Actor     string   `json:"actor,omitempty"`
}

// DecisionRequest approves, rejects or deletes a request.
type DecisionRequest struct {
	Actor string `json:"actor"`
}

// RejectionResponse reports a leave request the resolution engine refused.
// It is a business outcome, returned with 422.
type RejectionResponse struct {
	Rejected bool                  `json:"rejected"`
	Code     timeoff.RejectionCode `json:"code"`
	Message  string                `json:"message"`
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceResponse is one member's account.
type BalanceResponse struct {
	WorkspaceID string           `json:"workspaceId"`
	UserID      string           `json:"userId"`
	Buckets     []generic.Bucket `json:"buckets"`
	Version     int64            `json:"version"`
}

// SetBucketRequest is the admin manual update of a bucket.
type SetBucketRequest struct {
	Value decimal.Decimal `json:"value"`
	Actor string          `json:"actor"`
}

// GrantRequest adds days to a bucket. IdempotencyKey, when given, makes the
// call safe to retry.
type GrantRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Title          string          `json:"title,omitempty"`
	Actor          string          `json:"actor"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// =============================================================================
// ACCRUAL SETTINGS
// =============================================================================

type AccrualSettingRequest struct {
	BucketType       string          `json:"bucketType"`
	NumberOfLeaves   decimal.Decimal `json:"numberOfLeaves"`
	Recurrence       string          `json:"recurrence"`
	Frequency        string          `json:"frequency,omitempty"`
	AnchorDayOfMonth int             `json:"anchorDayOfMonth,omitempty"`
	// ExecutionDate is the target of a one-time setting (YYYY-MM-DD).
	ExecutionDate string `json:"executionDate,omitempty"`
	Enabled       bool   `json:"enabled,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// EnableRequest optionally overrides the computed next execution date.
type EnableRequest struct {
	Override string `json:"override,omitempty"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconcileRequest struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Actor string `json:"actor"`
}

// =============================================================================
// COLLABORATOR FEEDS
// =============================================================================

type MembershipRequest struct {
	Role    string `json:"role"`
	Status  string `json:"status"`
	Deleted bool   `json:"deleted"`
}

type WorkingRuleRequest struct {
	WorkingHours decimal.Decimal `json:"workingHours"`
	// WeekDays are English weekday names ("Monday").
	WeekDays []string `json:"weekDays"`
}

type HolidayRequest struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type TimeEntryRequest struct {
	UserID            string `json:"userId"`
	Start             string `json:"start"` // RFC 3339
	DurationInSeconds int64  `json:"durationInSeconds"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID  string `json:"scenarioId"`
	WorkspaceID string `json:"workspaceId"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
