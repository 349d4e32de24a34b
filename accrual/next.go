/*
Package accrual schedules recurring leave grants.

PURPOSE:
  An AutoAccrualSetting grants NumberOfLeaves days of one bucket to every
  active member of a workspace, once or on a cadence. The Scheduler owns the
  settings, computes when each fires next, registers one-shot timers and
  performs the grants through the ledger.

STATE MACHINE (per setting):
  disabled -> enabling -> scheduled -> fired -> rescheduled (repeat)
                                           \-> completed  (once, disabled)

DURABILITY:
  Timers live in process memory. The persisted NextExecutionDate is the
  source of truth: Recover re-registers a timer for every enabled setting on
  startup, and Start repeats that scan periodically. Fires are idempotent per
  (setting, fire date, user), so a fire re-run after a crash never
  double-grants.

SEE ALSO:
  - next.go:      next-date algorithm
  - scheduler.go: lifecycle and fire handler
  - timers.go:    one-shot timer registry
  - lock.go:      fire guard for multi-instance deployments
*/
package accrual

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// VALIDATION
// =============================================================================

var (
	minLeaves = decimal.NewFromInt(1)
	maxLeaves = decimal.NewFromInt(12)
)

// Validate checks a setting's shape. Frequency and anchor day are required
// iff the setting repeats; a one-shot setting needs its target date.
func Validate(s generic.AutoAccrualSetting) error {
	if s.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace is required", generic.ErrInvalidSetting)
	}
	if s.BucketType == "" {
		return fmt.Errorf("%w: bucket type is required", generic.ErrInvalidSetting)
	}
	if s.NumberOfLeaves.LessThan(minLeaves) || s.NumberOfLeaves.GreaterThan(maxLeaves) {
		return fmt.Errorf("%w: number of leaves must be between 1 and 12, got %s", generic.ErrInvalidSetting, s.NumberOfLeaves)
	}

	switch s.Recurrence {
	case generic.RecurrenceOnce:
		if s.NextExecutionDate == nil {
			return fmt.Errorf("%w: a one-time setting needs an execution date", generic.ErrInvalidSetting)
		}
	case generic.RecurrenceRepeat:
		if _, ok := stepMonths[s.Frequency]; !ok {
			return fmt.Errorf("%w: unknown frequency %q", generic.ErrInvalidSetting, s.Frequency)
		}
		if s.AnchorDayOfMonth < 1 || s.AnchorDayOfMonth > 31 {
			return fmt.Errorf("%w: anchor day must be between 1 and 31, got %d", generic.ErrInvalidSetting, s.AnchorDayOfMonth)
		}
	default:
		return fmt.Errorf("%w: unknown recurrence %q", generic.ErrInvalidSetting, s.Recurrence)
	}
	return nil
}

// =============================================================================
// NEXT-DATE ALGORITHM
// =============================================================================

var stepMonths = map[generic.Frequency]int{
	generic.FrequencyMonth:    1,
	generic.FrequencyQuarter:  3,
	generic.FrequencyHalfYear: 6,
	generic.FrequencyYear:     12,
}

// ComputeNext returns the instant a setting should fire next. Dates are
// calendar days in loc; the returned instant is midnight of that day.
//
// once:   the stored target if it is after now, else ErrUnschedulable.
// repeat: step from prev when given, else from the current month:
//
//	month     next month on the anchor day
//	quarter   the next of Jan/Apr/Jul/Oct after the current month
//	halfYear  Jul when the current month is before Jun, else Jan next year
//	year      Jan 1 of next year
//
// Month steps clamp to the month's length and return to the anchor day
// (Jan 31, Feb 28, Mar 31). A result that is not after now keeps stepping,
// so missed periods are skipped rather than granted late.
func ComputeNext(s generic.AutoAccrualSetting, prev *time.Time, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	if s.Recurrence == generic.RecurrenceOnce {
		if s.NextExecutionDate != nil && s.NextExecutionDate.After(now) {
			return *s.NextExecutionDate, nil
		}
		return time.Time{}, fmt.Errorf("%w: execution date has passed", generic.ErrUnschedulable)
	}

	step, ok := stepMonths[s.Frequency]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown frequency %q", generic.ErrUnschedulable, s.Frequency)
	}
	anchor := s.AnchorDayOfMonth
	if s.Frequency == generic.FrequencyYear {
		// yearly grants keep the day they first fired on
		anchor = 0
	}

	var next generic.Date
	if prev != nil {
		next = generic.DateOf(prev.In(loc)).AddMonths(step, anchor)
	} else {
		next = firstAfter(s.Frequency, generic.DateOf(now.In(loc)), s.AnchorDayOfMonth)
	}

	for !next.At(loc).After(now) {
		next = next.AddMonths(step, anchor)
	}
	return next.At(loc), nil
}

// firstAfter picks the first fire date of a setting that has never fired.
func firstAfter(f generic.Frequency, today generic.Date, anchor int) generic.Date {
	year, month := today.Year(), today.Month()
	switch f {
	case generic.FrequencyQuarter:
		// Jan, Apr, Jul, Oct: the boundary after the current month
		m := ((int(month)-1)/3+1)*3 + 1
		if m > 12 {
			return onDay(year+1, time.January, anchor)
		}
		return onDay(year, time.Month(m), anchor)
	case generic.FrequencyHalfYear:
		if month < time.June {
			return onDay(year, time.July, anchor)
		}
		return onDay(year+1, time.January, anchor)
	case generic.FrequencyYear:
		return generic.NewDate(year+1, time.January, 1)
	default:
		return onDay(year, month, anchor).AddMonths(1, anchor)
	}
}

func onDay(year int, month time.Month, day int) generic.Date {
	if last := generic.DaysInMonth(year, month); day > last {
		day = last
	}
	return generic.NewDate(year, month, day)
}
