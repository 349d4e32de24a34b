// Package timeoff decides how a leave request draws on a member's buckets
// and runs the request lifecycle (create, update, approve, reject, delete)
// against the generic ledger.
package timeoff

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// RESOLUTION - Tagged union returned by Resolve
// =============================================================================

// Resolution is either an Allocation (Single or Mixed) or a *Rejection.
type Resolution interface {
	isResolution()
}

// Allocation is a plan the ledger can apply.
type Allocation interface {
	Resolution
	Parts() []generic.Part
	Total() decimal.Decimal
}

// Single draws the whole request from one bucket.
type Single struct {
	Type   generic.BucketType
	Amount decimal.Decimal
	Start  generic.Date
	End    generic.Date
}

func (Single) isResolution() {}

func (s Single) Parts() []generic.Part {
	return []generic.Part{{Type: s.Type, Amount: s.Amount, Start: s.Start, End: s.End}}
}

func (s Single) Total() decimal.Decimal { return s.Amount }

// Mixed splits a request across two buckets by day range: Leading covers
// the first days from the start date, Trailing the rest.
type Mixed struct {
	Leading  generic.Part
	Trailing generic.Part
}

func (Mixed) isResolution() {}

func (m Mixed) Parts() []generic.Part { return []generic.Part{m.Leading, m.Trailing} }

func (m Mixed) Total() decimal.Decimal { return m.Leading.Amount.Add(m.Trailing.Amount) }

// RejectionCode classifies a business rejection.
type RejectionCode string

const (
	RejectInsufficientBalance RejectionCode = "insufficient_balance"
	RejectRestrictedMismatch  RejectionCode = "restricted_mismatch"
	RejectNoLeaveNeeded       RejectionCode = "no_leave_needed"
	RejectBucketUnavailable   RejectionCode = "bucket_unavailable"
	RejectOverlapping         RejectionCode = "overlapping_request"
	RejectInvalidRequest      RejectionCode = "invalid_request"
)

// Rejection is a business outcome, not an error. It is never retried.
type Rejection struct {
	Code    RejectionCode `json:"code"`
	Message string        `json:"message"`
}

func (*Rejection) isResolution() {}

func reject(code RejectionCode, msg string) *Rejection {
	return &Rejection{Code: code, Message: msg}
}

// Compile-time checks
var (
	_ Allocation = Single{}
	_ Allocation = Mixed{}
	_ Resolution = (*Rejection)(nil)
)

// =============================================================================
// RESOLVE INPUT
// =============================================================================

// ResolveInput is everything Resolve reads. Holidays should be limited to
// the requested days.
type ResolveInput struct {
	Buckets  []generic.Bucket
	Type     generic.BucketType
	Start    generic.Date
	End      generic.Date
	Days     decimal.Decimal
	Holidays []generic.Holiday
}

func (in ResolveInput) bucket(t generic.BucketType) *generic.Bucket {
	for i := range in.Buckets {
		if in.Buckets[i].Type == t {
			return &in.Buckets[i]
		}
	}
	return nil
}

// available returns the value of an active bucket, zero otherwise.
func (in ResolveInput) available(t generic.BucketType) decimal.Decimal {
	if b := in.bucket(t); b != nil && b.IsActive && b.Value.IsPositive() {
		return b.Value
	}
	return decimal.Zero
}

func (in ResolveInput) period() generic.Period {
	return generic.Period{Start: in.Start, End: in.End}
}
