/*
Package reconcile converts a month of tracked time into overtime credit or
undertime deductions.

PURPOSE:
  Once per workspace and month an admin triggers a run. The Engine compares
  each active member's credited days, at the rule's hours per day, to the
  ideal hours of the month (less approved leave), banks the surplus on the
  overtime bucket and cascades a shortfall across overtime, a secondary paid
  bucket and leaveWithoutPay.

KEY CONCEPTS:
  - Ideal hours: working weekdays of the month, minus gazetted holidays on
    them, times the working rule's hours per day
  - Day credit: each worked day becomes 1, 0.5 or a quarter-rounded fraction
    of a day; surplus minutes carry into the following days
  - Run guard: the report row is claimed under a unique
    (workspace, year, month) constraint before any balance moves

SEE ALSO:
  - engine.go: Engine.Run
*/
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

var (
	hourSeconds = decimal.NewFromInt(3600)
	half        = decimal.NewFromFloat(0.5)
	eight       = decimal.NewFromInt(8)
)

// IdealHours returns the working days of the month and the hours they are
// worth under rule. Gazetted holidays on a working weekday are not working
// days; holidays on other days change nothing.
func IdealHours(year int, month time.Month, rule generic.WorkingRule, holidays []generic.Holiday) (int, decimal.Decimal) {
	gazetted := make(map[string]bool)
	for _, h := range holidays {
		if h.Type == generic.HolidayGazetted {
			gazetted[h.Date.String()] = true
		}
	}

	days := 0
	for _, d := range generic.MonthPeriod(year, month).Days() {
		if rule.IsWorkingDay(d) && !gazetted[d.String()] {
			days++
		}
	}
	return days, rule.WorkingHours.Mul(decimal.NewFromInt(int64(days)))
}

// =============================================================================
// DAY CREDIT
// =============================================================================

// Credit is the day credit of one worked day.
type Credit struct {
	Date generic.Date
	Days decimal.Decimal
	// CarryMinutes is the carry balance after this day.
	CarryMinutes int64
}

// CreditDays credits each day in chronological order, carrying surplus
// minutes forward:
//
//	>= 8h    1 day, carry += minutes past 8h
//	4h - 8h  1 day if the day plus carry reaches 8h (carry keeps the excess),
//	         else 0.5 day with carry set to the minutes past 4h
//	< 4h     1 day at 8h with carry, 0.5 day at 4h with carry (carry keeps
//	         the excess), else a quarter-rounded fraction with carry untouched
func CreditDays(daily []generic.DailyTotal) (decimal.Decimal, []Credit) {
	total := decimal.Zero
	credits := make([]Credit, 0, len(daily))
	var carry int64

	for _, d := range daily {
		hours := d.Seconds / 3600
		minutes := (d.Seconds % 3600) / 60
		worked := hours*60 + minutes

		var credit decimal.Decimal
		switch {
		case hours >= 8:
			credit = decimal.NewFromInt(1)
			carry += worked - 480
		case hours >= 4:
			if effective := worked + carry; effective >= 480 {
				credit = decimal.NewFromInt(1)
				carry = effective - 480
			} else {
				credit = half
				carry = worked - 240
			}
		default:
			effective := worked + carry
			switch {
			case effective >= 480:
				credit = decimal.NewFromInt(1)
				carry = effective - 480
			case effective >= 240:
				credit = half
				carry = effective - 240
			default:
				credit = generic.RoundQuarter(decimal.NewFromInt(d.Seconds).Div(hourSeconds).Div(eight))
			}
		}

		total = total.Add(credit)
		credits = append(credits, Credit{Date: d.Date, Days: credit, CarryMinutes: carry})
	}
	return total, credits
}

// =============================================================================
// DAY UNITS
// =============================================================================

// OvertimeDays converts surplus seconds into quarter-rounded days of
// workingHours each.
func OvertimeDays(seconds int64, workingHours decimal.Decimal) decimal.Decimal {
	if seconds <= 0 || !workingHours.IsPositive() {
		return decimal.Zero
	}
	return generic.RoundQuarter(decimal.NewFromInt(seconds).Div(hourSeconds).Div(workingHours))
}

var undertimeSteps = []struct {
	hours decimal.Decimal
	days  decimal.Decimal
}{
	{decimal.NewFromInt(8), decimal.NewFromInt(1)},
	{decimal.NewFromInt(6), decimal.NewFromFloat(0.75)},
	{decimal.NewFromInt(4), decimal.NewFromFloat(0.5)},
	{decimal.NewFromInt(2), decimal.NewFromFloat(0.25)},
}

// UndertimeDays buckets a shortfall in hours into day units. The largest
// unit is one day, whatever the shortfall.
func UndertimeDays(hours decimal.Decimal) decimal.Decimal {
	for _, s := range undertimeSteps {
		if hours.GreaterThanOrEqual(s.hours) {
			return s.days
		}
	}
	return decimal.Zero
}
