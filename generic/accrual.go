package generic

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AUTO ACCRUAL SETTING - Persisted schedule of recurring grants
// =============================================================================

type Recurrence string

const (
	RecurrenceOnce   Recurrence = "once"
	RecurrenceRepeat Recurrence = "repeat"
)

type Frequency string

const (
	FrequencyMonth    Frequency = "month"
	FrequencyQuarter  Frequency = "quarter"
	FrequencyHalfYear Frequency = "halfYear"
	FrequencyYear     Frequency = "year"
)

// AutoAccrualSetting grants NumberOfLeaves days of BucketType to every active
// member of the workspace on each fire. At most one setting per workspace is
// Enabled at a time.
//
// For RecurrenceOnce, NextExecutionDate holds the configured target date.
type AutoAccrualSetting struct {
	ID                string          `json:"id"`
	WorkspaceID       WorkspaceID     `json:"workspaceId"`
	BucketType        BucketType      `json:"bucketType"`
	NumberOfLeaves    decimal.Decimal `json:"numberOfLeaves"`
	Recurrence        Recurrence      `json:"recurrence"`
	Frequency         Frequency       `json:"frequency,omitempty"`
	AnchorDayOfMonth  int             `json:"anchorDayOfMonth,omitempty"`
	NextExecutionDate *time.Time      `json:"nextExecutionDate,omitempty"`
	LastExecutionDate *time.Time      `json:"lastExecutionDate,omitempty"`
	ExecutionHistory  []time.Time     `json:"executionHistory"`
	Enabled           bool            `json:"enabled"`
	CreatedBy         string          `json:"createdBy"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// RecordFire appends at to the history unless already present.
func (s *AutoAccrualSetting) RecordFire(at time.Time) {
	for _, h := range s.ExecutionHistory {
		if h.Equal(at) {
			return
		}
	}
	s.ExecutionHistory = append(s.ExecutionHistory, at)
	sort.Slice(s.ExecutionHistory, func(i, j int) bool {
		return s.ExecutionHistory[i].Before(s.ExecutionHistory[j])
	})
}

func (s AutoAccrualSetting) Clone() AutoAccrualSetting {
	s.ExecutionHistory = append([]time.Time(nil), s.ExecutionHistory...)
	if s.NextExecutionDate != nil {
		t := *s.NextExecutionDate
		s.NextExecutionDate = &t
	}
	if s.LastExecutionDate != nil {
		t := *s.LastExecutionDate
		s.LastExecutionDate = &t
	}
	return s
}

// SettingFilter narrows a setting listing.
type SettingFilter struct {
	WorkspaceID WorkspaceID
	EnabledOnly bool
}

func (f SettingFilter) Matches(s AutoAccrualSetting) bool {
	if f.WorkspaceID != "" && s.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.EnabledOnly && !s.Enabled {
		return false
	}
	return true
}
