package timeoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(d int) generic.Date {
	// January 2025: the 6th is a Monday
	return generic.NewDate(2025, time.January, d)
}

func bucket(t generic.BucketType, value float64) generic.Bucket {
	return generic.Bucket{
		Type:     t,
		Title:    generic.DefaultTitle(t),
		Value:    generic.Days(value),
		IsActive: true,
		IsPaid:   generic.IsPaidType(t),
	}
}

func input(t generic.BucketType, days float64, start, end int, buckets ...generic.Bucket) timeoff.ResolveInput {
	return timeoff.ResolveInput{
		Buckets: buckets,
		Type:    t,
		Start:   day(start),
		End:     day(end),
		Days:    generic.Days(days),
	}
}

func requireMixed(t *testing.T, res timeoff.Resolution) timeoff.Mixed {
	t.Helper()
	m, ok := res.(timeoff.Mixed)
	require.True(t, ok, "expected Mixed, got %#v", res)
	return m
}

func requireSingle(t *testing.T, res timeoff.Resolution) timeoff.Single {
	t.Helper()
	s, ok := res.(timeoff.Single)
	require.True(t, ok, "expected Single, got %#v", res)
	return s
}

func requireRejection(t *testing.T, res timeoff.Resolution, code timeoff.RejectionCode) *timeoff.Rejection {
	t.Helper()
	r, ok := res.(*timeoff.Rejection)
	require.True(t, ok, "expected Rejection, got %#v", res)
	assert.Equal(t, code, r.Code)
	return r
}

// =============================================================================
// PAID TYPES
// =============================================================================

func TestResolve_CasualShortfall_SplitsWithOvertime(t *testing.T) {
	// GIVEN: casual 3, overtime 2
	// WHEN: requesting 4 casual days
	// THEN: casual covers days 1-3, overtime covers day 4

	res := timeoff.Resolve(input(generic.BucketCasual, 4, 6, 9,
		bucket(generic.BucketCasual, 3), bucket(generic.BucketOvertime, 2)))

	m := requireMixed(t, res)
	assert.Equal(t, generic.BucketCasual, m.Leading.Type)
	assert.True(t, generic.Days(3).Equal(m.Leading.Amount))
	assert.Equal(t, day(6), m.Leading.Start)
	assert.Equal(t, day(8), m.Leading.End)

	assert.Equal(t, generic.BucketOvertime, m.Trailing.Type)
	assert.True(t, generic.Days(1).Equal(m.Trailing.Amount))
	assert.Equal(t, day(9), m.Trailing.Start)
	assert.Equal(t, day(9), m.Trailing.End)
}

func TestResolve_ZeroBalance_Rejected(t *testing.T) {
	// GIVEN: casual 0 (paid, active), no overtime
	// WHEN: requesting 2 casual days
	// THEN: rejected; the member must pick another category

	res := timeoff.Resolve(input(generic.BucketCasual, 2, 6, 7, bucket(generic.BucketCasual, 0)))

	r := requireRejection(t, res, timeoff.RejectInsufficientBalance)
	assert.Contains(t, r.Message, "casual")
}

func TestResolve_ZeroBalanceWithOvertime_StillRejected(t *testing.T) {
	// A split needs a positive balance on the requested type.
	res := timeoff.Resolve(input(generic.BucketCasual, 2, 6, 7,
		bucket(generic.BucketCasual, 0), bucket(generic.BucketOvertime, 5)))

	requireRejection(t, res, timeoff.RejectInsufficientBalance)
}

func TestResolve_ExactMatch_IsSingle(t *testing.T) {
	res := timeoff.Resolve(input(generic.BucketSick, 3, 6, 8,
		bucket(generic.BucketSick, 3), bucket(generic.BucketOvertime, 2)))

	s := requireSingle(t, res)
	assert.Equal(t, generic.BucketSick, s.Type)
	assert.True(t, generic.Days(3).Equal(s.Amount))
	assert.Equal(t, day(6), s.Start)
	assert.Equal(t, day(8), s.End)
}

func TestResolve_NotEnoughEvenWithOvertime_Rejected(t *testing.T) {
	res := timeoff.Resolve(input(generic.BucketCasual, 5, 6, 10,
		bucket(generic.BucketCasual, 2), bucket(generic.BucketOvertime, 2)))

	requireRejection(t, res, timeoff.RejectInsufficientBalance)
}

func TestResolve_GazettedHolidays_ReduceDays(t *testing.T) {
	// GIVEN: 3 requested days, one is a gazetted holiday
	// THEN: only 2 days are drawn
	in := input(generic.BucketCasual, 3, 6, 8, bucket(generic.BucketCasual, 2))
	in.Holidays = []generic.Holiday{{Date: day(7), Type: generic.HolidayGazetted}}

	s := requireSingle(t, timeoff.Resolve(in))
	assert.True(t, generic.Days(2).Equal(s.Amount))
}

func TestResolve_FullyCoveredByHolidays_NoLeaveNeeded(t *testing.T) {
	in := input(generic.BucketCasual, 1, 7, 7, bucket(generic.BucketCasual, 2))
	in.Holidays = []generic.Holiday{{Date: day(7), Type: generic.HolidayGazetted}}

	requireRejection(t, timeoff.Resolve(in), timeoff.RejectNoLeaveNeeded)
}

func TestResolve_MissingOrInactiveBucket_Rejected(t *testing.T) {
	requireRejection(t, timeoff.Resolve(input(generic.BucketSick, 1, 6, 6)), timeoff.RejectBucketUnavailable)

	inactive := bucket(generic.BucketSick, 5)
	inactive.IsActive = false
	requireRejection(t, timeoff.Resolve(input(generic.BucketSick, 1, 6, 6, inactive)), timeoff.RejectBucketUnavailable)
}

func TestResolve_HalfDayLead_SharesBoundaryDay(t *testing.T) {
	// GIVEN: casual 1.5, overtime 5
	// WHEN: requesting 3 casual days
	// THEN: casual ends on day 2, overtime starts on day 2

	res := timeoff.Resolve(input(generic.BucketCasual, 3, 6, 8,
		bucket(generic.BucketCasual, 1.5), bucket(generic.BucketOvertime, 5)))

	m := requireMixed(t, res)
	assert.Equal(t, day(7), m.Leading.End)
	assert.Equal(t, day(7), m.Trailing.Start)
	assert.True(t, generic.Days(1.5).Equal(m.Trailing.Amount))
}

func TestResolve_MixedParts_SumToEffectiveDays(t *testing.T) {
	for _, have := range []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5} {
		res := timeoff.Resolve(input(generic.BucketCasual, 4, 6, 9,
			bucket(generic.BucketCasual, have), bucket(generic.BucketOvertime, 10)))

		m := requireMixed(t, res)
		assert.True(t, generic.Days(4).Equal(m.Total()), "casual %v: total %s", have, m.Total())
		assert.True(t, generic.Days(have).Equal(m.Leading.Amount))
	}
}

// =============================================================================
// RESTRICTED
// =============================================================================

func TestResolve_Restricted_MustMatchRestrictedHolidays(t *testing.T) {
	in := input(generic.BucketRestricted, 2, 6, 7, bucket(generic.BucketRestricted, 2))
	in.Holidays = []generic.Holiday{{Date: day(6), Type: generic.HolidayRestricted}}

	requireRejection(t, timeoff.Resolve(in), timeoff.RejectRestrictedMismatch)

	in.Holidays = append(in.Holidays, generic.Holiday{Date: day(7), Type: generic.HolidayRestricted})
	s := requireSingle(t, timeoff.Resolve(in))
	assert.Equal(t, generic.BucketRestricted, s.Type)
	assert.True(t, generic.Days(2).Equal(s.Amount))
}

func TestResolve_Restricted_NeedsBalance(t *testing.T) {
	in := input(generic.BucketRestricted, 1, 6, 6, bucket(generic.BucketRestricted, 0))
	in.Holidays = []generic.Holiday{{Date: day(6), Type: generic.HolidayRestricted}}

	requireRejection(t, timeoff.Resolve(in), timeoff.RejectInsufficientBalance)
}

// =============================================================================
// UNPAID
// =============================================================================

func TestResolve_Unpaid_OvertimeFirstThenUnpaid(t *testing.T) {
	// GIVEN: overtime 2
	// WHEN: requesting 5 days of leaveWithoutPay
	// THEN: overtime covers days 1-2, leaveWithoutPay covers days 3-5

	res := timeoff.Resolve(input(generic.BucketLeaveWithoutPay, 5, 6, 10, bucket(generic.BucketOvertime, 2)))

	m := requireMixed(t, res)
	assert.Equal(t, generic.BucketOvertime, m.Leading.Type)
	assert.True(t, generic.Days(2).Equal(m.Leading.Amount))
	assert.Equal(t, day(6), m.Leading.Start)
	assert.Equal(t, day(7), m.Leading.End)

	assert.Equal(t, generic.BucketLeaveWithoutPay, m.Trailing.Type)
	assert.True(t, generic.Days(3).Equal(m.Trailing.Amount))
	assert.Equal(t, day(8), m.Trailing.Start)
	assert.Equal(t, day(10), m.Trailing.End)
}

func TestResolve_Unpaid_EnoughOvertime_AllOvertime(t *testing.T) {
	s := requireSingle(t, timeoff.Resolve(input(generic.BucketLeaveWithoutPay, 2, 6, 7, bucket(generic.BucketOvertime, 4))))
	assert.Equal(t, generic.BucketOvertime, s.Type)
}

func TestResolve_Unpaid_NoOvertime_AllUnpaid(t *testing.T) {
	s := requireSingle(t, timeoff.Resolve(input(generic.BucketLeaveWithoutPay, 2, 6, 7, bucket(generic.BucketOvertime, 0))))
	assert.Equal(t, generic.BucketLeaveWithoutPay, s.Type)
	assert.True(t, generic.Days(2).Equal(s.Amount))
}

func TestResolve_InvalidInput_Rejected(t *testing.T) {
	requireRejection(t, timeoff.Resolve(input(generic.BucketCasual, 0, 6, 6)), timeoff.RejectInvalidRequest)
	requireRejection(t, timeoff.Resolve(input(generic.BucketCasual, 1, 8, 6)), timeoff.RejectInvalidRequest)
}
