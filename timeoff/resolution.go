package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// RESOLVE - Fixed rule table, evaluated in priority order
// =============================================================================

// Resolve decides which buckets a request draws from. It is pure: the
// caller applies the returned Allocation through the ledger.
//
//  1. leaveWithoutPay draws on overtime first, the rest is unpaid.
//  2. restricted is allowed only on restricted holidays, day for day, then
//     continues as a paid type against the restricted bucket.
//  3. paid types subtract gazetted holidays, use their own bucket, and fall
//     back to a split with overtime.
func Resolve(in ResolveInput) Resolution {
	if !in.Days.IsPositive() {
		return reject(RejectInvalidRequest, "requested days must be positive")
	}
	if in.End.Before(in.Start) {
		return reject(RejectInvalidRequest, "end date is before start date")
	}

	switch in.Type {
	case generic.BucketLeaveWithoutPay:
		return resolveUnpaid(in)
	case generic.BucketRestricted:
		n := generic.CountHolidays(in.Holidays, generic.HolidayRestricted, in.period())
		if !decimal.NewFromInt(int64(n)).Equal(in.Days) {
			return reject(RejectRestrictedMismatch,
				fmt.Sprintf("restricted leave must match restricted holidays: %d in range, %s requested", n, in.Days))
		}
	}
	return resolvePaid(in)
}

func resolveUnpaid(in ResolveInput) Resolution {
	overtime := in.available(generic.BucketOvertime)
	switch {
	case overtime.GreaterThanOrEqual(in.Days):
		return Single{Type: generic.BucketOvertime, Amount: in.Days, Start: in.Start, End: in.End}
	case overtime.IsPositive():
		return split(in, generic.BucketOvertime, overtime, generic.BucketLeaveWithoutPay, in.Days.Sub(overtime))
	default:
		return Single{Type: generic.BucketLeaveWithoutPay, Amount: in.Days, Start: in.Start, End: in.End}
	}
}

func resolvePaid(in ResolveInput) Resolution {
	gazetted := generic.CountHolidays(in.Holidays, generic.HolidayGazetted, in.period())
	effective := in.Days.Sub(decimal.NewFromInt(int64(gazetted)))
	if !effective.IsPositive() {
		return reject(RejectNoLeaveNeeded, "no leave needed: fully covered by holidays")
	}

	b := in.bucket(in.Type)
	if b == nil || !b.IsActive {
		return reject(RejectBucketUnavailable, fmt.Sprintf("leave type %s is not available", in.Type))
	}

	// exact match stays Single
	if b.Value.GreaterThanOrEqual(effective) {
		return Single{Type: in.Type, Amount: effective, Start: in.Start, End: in.End}
	}

	if in.Type != generic.BucketOvertime && b.Value.IsPositive() {
		overtime := in.available(generic.BucketOvertime)
		if b.Value.Add(overtime).GreaterThanOrEqual(effective) {
			return split(in, in.Type, b.Value, generic.BucketOvertime, effective.Sub(b.Value))
		}
	}
	return reject(RejectInsufficientBalance, fmt.Sprintf("insufficient balance for %s", in.Type))
}

// split builds a Mixed allocation. The leading part covers lead days from
// the start date and ends on start+ceil(lead)-1; the trailing part starts on
// start+floor(lead), so a half day is shared by both parts.
func split(in ResolveInput, leadType generic.BucketType, lead decimal.Decimal, trailType generic.BucketType, trail decimal.Decimal) Mixed {
	leadEnd := in.Start.AddDays(int(lead.Ceil().IntPart()) - 1)
	trailStart := in.Start.AddDays(int(lead.Floor().IntPart()))
	if leadEnd.After(in.End) {
		leadEnd = in.End
	}
	if trailStart.After(in.End) {
		trailStart = in.End
	}
	return Mixed{
		Leading:  generic.Part{Type: leadType, Amount: lead, Start: in.Start, End: leadEnd},
		Trailing: generic.Part{Type: trailType, Amount: trail, Start: trailStart, End: in.End},
	}
}
