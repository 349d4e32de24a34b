package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE REQUEST - Persisted request record
// =============================================================================

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Duration is the share of a working day a request covers.
type Duration string

const (
	DurationFull Duration = "full"
	DurationHalf Duration = "half"
)

// Days returns the day amount of d.
func (d Duration) Days() decimal.Decimal {
	if d == DurationHalf {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromInt(1)
}

type DailyDetail struct {
	Date     Date     `json:"date"`
	Duration Duration `json:"duration"`
}

// LeaveRequest is created pending with a non-empty PendingData. Approval
// clears PendingData without touching balances; rejection and deletion
// reverse it.
type LeaveRequest struct {
	ID           string          `json:"id"`
	WorkspaceID  WorkspaceID     `json:"workspaceId"`
	UserID       UserID          `json:"userId"`
	Type         BucketType      `json:"type"`
	StartDate    Date            `json:"startDate"`
	EndDate      Date            `json:"endDate"`
	NumberOfDays decimal.Decimal `json:"numberOfDays"`
	DailyDetails []DailyDetail   `json:"dailyDetails"`
	Status       RequestStatus   `json:"status"`
	PendingData  PendingData     `json:"pendingData,omitempty"`
	Allocation   []Part          `json:"allocation"`
	Reason       string          `json:"reason,omitempty"`
	CreatedBy    string          `json:"createdBy"`
	DecidedBy    string          `json:"decidedBy,omitempty"`
	DecidedAt    *time.Time      `json:"decidedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (r *LeaveRequest) Key() AccountKey {
	return AccountKey{WorkspaceID: r.WorkspaceID, UserID: r.UserID}
}

func (r *LeaveRequest) Period() Period {
	return Period{Start: r.StartDate, End: r.EndDate}
}

// DaysIn returns the charged days of the request that fall inside p, from
// DailyDetails. Days on a gazetted holiday were never charged and are skipped.
func (r *LeaveRequest) DaysIn(p Period, holidays []Holiday) decimal.Decimal {
	total := decimal.Zero
	for _, d := range r.DailyDetails {
		if p.Contains(d.Date) && !IsGazetted(holidays, d.Date) {
			total = total.Add(d.Duration.Days())
		}
	}
	return total
}

func (r LeaveRequest) Clone() LeaveRequest {
	r.DailyDetails = append([]DailyDetail(nil), r.DailyDetails...)
	r.Allocation = append([]Part(nil), r.Allocation...)
	r.PendingData = r.PendingData.Clone()
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		r.DecidedAt = &t
	}
	return r
}

// RequestFilter narrows a request listing. Zero fields match everything.
type RequestFilter struct {
	WorkspaceID WorkspaceID
	UserID      UserID
	Statuses    []RequestStatus
	Overlapping *Period
}

func (f RequestFilter) Matches(r LeaveRequest) bool {
	if f.WorkspaceID != "" && r.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.Overlapping != nil && !r.Period().Overlaps(*f.Overlapping) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if s == r.Status {
				return true
			}
		}
		return false
	}
	return true
}
