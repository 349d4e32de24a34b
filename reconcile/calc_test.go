package reconcile_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/reconcile"
)

func weekdays(hours float64) generic.WorkingRule {
	return generic.WorkingRule{
		ID:           "rule1",
		WorkspaceID:  "ws1",
		WorkingHours: generic.Days(hours),
		WeekDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		IsActive:     true,
	}
}

func hm(h, m int64) int64 { return h*3600 + m*60 }

func TestIdealHours_SkipsWeekendsAndGazettedHolidays(t *testing.T) {
	// January 2025: 23 weekdays, Jan 1 (Wed) is gazetted, Jan 4 (Sat) is
	// gazetted but not a working day
	holidays := []generic.Holiday{
		{Date: generic.NewDate(2025, time.January, 1), Type: generic.HolidayGazetted},
		{Date: generic.NewDate(2025, time.January, 4), Type: generic.HolidayGazetted},
		{Date: generic.NewDate(2025, time.January, 6), Type: generic.HolidayRestricted},
	}

	days, hours := reconcile.IdealHours(2025, time.January, weekdays(8), holidays)

	assert.Equal(t, 22, days)
	assert.True(t, generic.Days(176).Equal(hours), "got %s", hours)
}

func TestCreditDays_CarryAcrossDays(t *testing.T) {
	// GIVEN: 9h on day A, 3h on day B
	daily := []generic.DailyTotal{
		{Date: generic.NewDate(2025, time.January, 6), Seconds: hm(9, 0)},
		{Date: generic.NewDate(2025, time.January, 7), Seconds: hm(3, 0)},
	}

	total, credits := reconcile.CreditDays(daily)

	// THEN: A credits 1.0 with 60 carried, B uses the carry for a half day
	assert.True(t, generic.Days(1.5).Equal(total))
	assert.True(t, generic.Days(1).Equal(credits[0].Days))
	assert.Equal(t, int64(60), credits[0].CarryMinutes)
	assert.True(t, generic.Days(0.5).Equal(credits[1].Days))
	assert.Equal(t, int64(0), credits[1].CarryMinutes)
}

func TestCreditDays_Branches(t *testing.T) {
	tests := []struct {
		name      string
		seconds   []int64
		wantDays  []float64
		wantCarry []int64
	}{
		{"long days accumulate carry", []int64{hm(10, 0), hm(9, 30)}, []float64{1, 1}, []int64{120, 210}},
		{"mid day reaches 8h with carry", []int64{hm(11, 0), hm(5, 0)}, []float64{1, 1}, []int64{180, 0}},
		{"mid day short of 8h resets carry", []int64{hm(9, 0), hm(5, 30)}, []float64{1, 0.5}, []int64{60, 90}},
		{"short day reaches 8h with carry", []int64{hm(12, 0), hm(12, 0), hm(1, 0)}, []float64{1, 1, 1}, []int64{240, 480, 60}},
		{"short day fraction keeps carry", []int64{hm(8, 30), hm(2, 0)}, []float64{1, 0.25}, []int64{30, 30}},
		{"one hour rounds to a quarter", []int64{hm(1, 0)}, []float64{0.25}, []int64{0}},
		{"exactly four hours", []int64{hm(4, 0)}, []float64{0.5}, []int64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var daily []generic.DailyTotal
			for i, s := range tt.seconds {
				daily = append(daily, generic.DailyTotal{Date: generic.NewDate(2025, time.January, 6+i), Seconds: s})
			}
			_, credits := reconcile.CreditDays(daily)
			for i := range credits {
				assert.True(t, generic.Days(tt.wantDays[i]).Equal(credits[i].Days), "day %d: got %s", i, credits[i].Days)
				assert.Equal(t, tt.wantCarry[i], credits[i].CarryMinutes, "day %d carry", i)
			}
		})
	}
}

func TestOvertimeDays_QuarterRounding(t *testing.T) {
	assert.True(t, generic.Days(1.5).Equal(reconcile.OvertimeDays(hm(12, 0), generic.Days(8))))
	assert.True(t, generic.Days(0.5).Equal(reconcile.OvertimeDays(hm(3, 0), generic.Days(8))))
	assert.True(t, generic.Days(0.25).Equal(reconcile.OvertimeDays(hm(2, 0), generic.Days(8))))
	assert.True(t, reconcile.OvertimeDays(0, generic.Days(8)).IsZero())
}

func TestUndertimeDays_Thresholds(t *testing.T) {
	tests := []struct {
		hours float64
		want  float64
	}{
		{40, 1}, {8, 1}, {7.5, 0.75}, {6, 0.75}, {5, 0.5}, {4, 0.5}, {3, 0.25}, {2, 0.25}, {1.9, 0}, {0, 0},
	}
	for _, tt := range tests {
		got := reconcile.UndertimeDays(decimal.NewFromFloat(tt.hours))
		assert.True(t, generic.Days(tt.want).Equal(got), "%vh: got %s", tt.hours, got)
	}
}
