/*
Package generic provides the core leave-ledger model shared by every engine.

PURPOSE:
  This package holds the balance buckets, the audit trail, the persisted
  records of the request/accrual/reconciliation flows, and the Ledger that
  is the only code allowed to move a bucket's value. The timeoff, accrual
  and reconcile packages decide WHAT to move; the Ledger moves it and
  writes the audit entries.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkspaceID / UserID: tenant and member identifiers
  - AccountKey: the (workspace, user) pair that owns one balance account
  - BucketType: a named balance counter ("casual", "overtime", ...)
  - Part: one slice of an allocation (bucket, amount, day range)
  - PendingData: what a pending request reserved, per bucket

DESIGN PRINCIPLES:
  1. Precision: every amount is a decimal.Decimal (half days, quarter days)
  2. Auditability: one AuditEntry per touched bucket per mutation
  3. Atomicity: ledger operations run against a transactional Store view

SEE ALSO:
  - account.go: Account and Bucket
  - ledger.go: balance mutations
  - store.go: persistence contracts
*/
package generic

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkspaceID string
type UserID string

// AccountKey identifies the balance account of one member in one workspace.
type AccountKey struct {
	WorkspaceID WorkspaceID
	UserID      UserID
}

func (k AccountKey) String() string { return string(k.WorkspaceID) + "/" + string(k.UserID) }

// SystemActor is recorded as the acting user for scheduler and engine writes.
const SystemActor = "system"

// =============================================================================
// BUCKET TYPES
// =============================================================================

// BucketType is the key of a balance bucket, unique within an account.
type BucketType string

const (
	BucketCasual          BucketType = "casual"
	BucketSick            BucketType = "sick"
	BucketRestricted      BucketType = "restricted"
	BucketOvertime        BucketType = "overtime"
	BucketLeaveWithoutPay BucketType = "leaveWithoutPay"
)

// =============================================================================
// AMOUNTS
// =============================================================================

// Days builds a day amount from a float literal. Use for constants and tests;
// computed amounts should stay in decimal arithmetic.
func Days(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundQuarter rounds d to the nearest quarter, halves rounding up.
func RoundQuarter(d decimal.Decimal) decimal.Decimal {
	four := decimal.NewFromInt(4)
	return d.Mul(four).Round(0).Div(four)
}

// =============================================================================
// ALLOCATION PARTS / PENDING DATA
// =============================================================================

// Part is one bucket's share of an allocation, covering [Start, End].
type Part struct {
	Type   BucketType      `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Start  Date            `json:"start"`
	End    Date            `json:"end"`
}

// PendingData records exactly what a pending request reserved, so that a
// rejection or deletion can reverse it.
type PendingData map[BucketType]decimal.Decimal

// Total returns the sum of all reserved amounts.
func (p PendingData) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range p {
		total = total.Add(v)
	}
	return total
}

// Types returns the bucket types in a stable order.
func (p PendingData) Types() []BucketType {
	types := make([]BucketType, 0, len(p))
	for t := range p {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (p PendingData) Clone() PendingData {
	if p == nil {
		return nil
	}
	out := make(PendingData, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
