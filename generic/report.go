package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONTHLY REPORT - Persisted reconciliation artifact
// =============================================================================

type ReportStatus string

const (
	ReportRunning   ReportStatus = "running"
	ReportFailed    ReportStatus = "failed"
	ReportCompleted ReportStatus = "completed"
)

// MonthlyReport is unique per (workspace, year, month). Its row is claimed
// before any balance is touched, so a second run of the same month fails
// fast.
type MonthlyReport struct {
	ID          string            `json:"id"`
	WorkspaceID WorkspaceID       `json:"workspaceId"`
	Year        int               `json:"year"`
	Month       time.Month        `json:"month"`
	Status      ReportStatus      `json:"status"`
	WorkingDays int               `json:"workingDays"`
	IdealHours  decimal.Decimal   `json:"idealHours"`
	PerUser     []UserReport      `json:"perUserReport"`
	Deductions  []DeductionDetail `json:"deductionDetails"`
	Error       string            `json:"error,omitempty"`
	CreatedBy   string            `json:"createdBy"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// UserReport is one member's line of the monthly report. TrackedSeconds is
// the raw tracked time; ActualSeconds is CreditedDays at the working rule's
// hours per day and is what IdealSeconds is compared against.
type UserReport struct {
	UserID            UserID          `json:"userId"`
	TrackedSeconds    int64           `json:"trackedSeconds"`
	ActualSeconds     int64           `json:"actualSeconds"`
	IdealSeconds      int64           `json:"idealSeconds"`
	CreditedDays      decimal.Decimal `json:"creditedDays"`
	ApprovedLeaveDays decimal.Decimal `json:"approvedLeaveDays"`
	OvertimeDays      decimal.Decimal `json:"overtimeDays"`
	UndertimeDays     decimal.Decimal `json:"undertimeDays"`
}

// DeductionDetail records one step of an undertime cascade.
type DeductionDetail struct {
	UserID        UserID          `json:"userId"`
	BucketType    BucketType      `json:"bucketType"`
	Amount        decimal.Decimal `json:"amount"`
	PreviousValue decimal.Decimal `json:"previousValue"`
	NewValue      decimal.Decimal `json:"newValue"`
}

func (r MonthlyReport) Clone() MonthlyReport {
	r.PerUser = append([]UserReport(nil), r.PerUser...)
	r.Deductions = append([]DeductionDetail(nil), r.Deductions...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}
