package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIRECTORY - Collaborator data read by the engines
// =============================================================================

type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// Membership is the per-(user, workspace) record carrying role and status.
type Membership struct {
	WorkspaceID WorkspaceID  `json:"workspaceId"`
	UserID      UserID       `json:"userId"`
	Role        string       `json:"role"`
	Status      MemberStatus `json:"status"`
	Deleted     bool         `json:"deleted"`
	JoinedAt    time.Time    `json:"joinedAt"`
}

// Eligible reports whether the member receives grants and may request leave.
func (m Membership) Eligible() bool {
	return !m.Deleted && m.Status == MemberActive
}

// WorkingRule defines the working week of a workspace. One rule is active.
type WorkingRule struct {
	ID           string          `json:"id"`
	WorkspaceID  WorkspaceID     `json:"workspaceId"`
	WorkingHours decimal.Decimal `json:"workingHours"`
	WeekDays     []time.Weekday  `json:"weekDays"`
	IsActive     bool            `json:"isActive"`
}

// IsWorkingDay reports whether d falls on one of the rule's week days.
func (r WorkingRule) IsWorkingDay(d Date) bool {
	for _, wd := range r.WeekDays {
		if wd == d.Weekday() {
			return true
		}
	}
	return false
}

func (r WorkingRule) Clone() WorkingRule {
	r.WeekDays = append([]time.Weekday(nil), r.WeekDays...)
	return r
}

type HolidayType string

const (
	HolidayGazetted   HolidayType = "gazetted"
	HolidayRestricted HolidayType = "restricted"
	HolidayOptional   HolidayType = "optional"
)

type Holiday struct {
	ID          string      `json:"id"`
	WorkspaceID WorkspaceID `json:"workspaceId"`
	Date        Date        `json:"date"`
	Name        string      `json:"name"`
	Type        HolidayType `json:"type"`
}

// CountHolidays returns how many holidays of type t fall inside p.
func CountHolidays(holidays []Holiday, t HolidayType, p Period) int {
	n := 0
	for _, h := range holidays {
		if h.Type == t && p.Contains(h.Date) {
			n++
		}
	}
	return n
}

// IsGazetted reports whether a gazetted holiday falls on d.
func IsGazetted(holidays []Holiday, d Date) bool {
	for _, h := range holidays {
		if h.Type == HolidayGazetted && h.Date.Equal(d) {
			return true
		}
	}
	return false
}

// TimeEntry is one tracked span of work.
type TimeEntry struct {
	ID                string      `json:"id"`
	WorkspaceID       WorkspaceID `json:"workspaceId"`
	UserID            UserID      `json:"userId"`
	Start             time.Time   `json:"start"`
	DurationInSeconds int64       `json:"durationInSeconds"`
}

// DailyTotal is the worked seconds of one user on one calendar day.
type DailyTotal struct {
	Date    Date  `json:"date"`
	Seconds int64 `json:"seconds"`
}
