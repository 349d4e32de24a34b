package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE ACCOUNT - Per (user, workspace) set of buckets
// =============================================================================

// Bucket is a named balance counter.
//
// Value is what is left to draw from. Consumed is the cumulative amount
// reserved or used. Apply moves an amount from Value to Consumed; Reverse
// moves it back.
type Bucket struct {
	Type     BucketType      `json:"type"`
	Title    string          `json:"title"`
	Value    decimal.Decimal `json:"value"`
	Consumed decimal.Decimal `json:"consumed"`
	IsActive bool            `json:"isActive"`
	IsPaid   bool            `json:"isPaid"`
}

// Account owns the ordered buckets of one member in one workspace.
// Version is an optimistic lock; stores reject saves of a stale version.
type Account struct {
	ID          string      `json:"id"`
	WorkspaceID WorkspaceID `json:"workspaceId"`
	UserID      UserID      `json:"userId"`
	Buckets     []Bucket    `json:"buckets"`
	Version     int         `json:"version"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (a *Account) Key() AccountKey {
	return AccountKey{WorkspaceID: a.WorkspaceID, UserID: a.UserID}
}

// Bucket returns the bucket with type t, or nil.
func (a *Account) Bucket(t BucketType) *Bucket {
	for i := range a.Buckets {
		if a.Buckets[i].Type == t {
			return &a.Buckets[i]
		}
	}
	return nil
}

// ValueOf returns the value of bucket t, zero if absent.
func (a *Account) ValueOf(t BucketType) decimal.Decimal {
	if b := a.Bucket(t); b != nil {
		return b.Value
	}
	return decimal.Zero
}

// ensureBucket returns bucket t, appending a fresh active bucket if absent.
func (a *Account) ensureBucket(t BucketType, title string) *Bucket {
	if b := a.Bucket(t); b != nil {
		return b
	}
	if title == "" {
		title = DefaultTitle(t)
	}
	a.Buckets = append(a.Buckets, Bucket{
		Type:     t,
		Title:    title,
		Value:    decimal.Zero,
		Consumed: decimal.Zero,
		IsActive: true,
		IsPaid:   IsPaidType(t),
	})
	return &a.Buckets[len(a.Buckets)-1]
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	a.Buckets = append([]Bucket(nil), a.Buckets...)
	return a
}

// NewAccount returns an empty account for key.
func NewAccount(id string, key AccountKey) *Account {
	return &Account{ID: id, WorkspaceID: key.WorkspaceID, UserID: key.UserID}
}

// =============================================================================
// BUCKET CATALOG
// =============================================================================

var defaultTitles = map[BucketType]string{
	BucketCasual:          "Casual Leave",
	BucketSick:            "Sick Leave",
	BucketRestricted:      "Restricted Holiday",
	BucketOvertime:        "Overtime",
	BucketLeaveWithoutPay: "Leave Without Pay",
}

// DefaultTitle returns the display title used when a bucket is created implicitly.
func DefaultTitle(t BucketType) string {
	if title, ok := defaultTitles[t]; ok {
		return title
	}
	return string(t)
}

// IsPaidType reports whether buckets of type t are paid leave.
func IsPaidType(t BucketType) bool {
	return t != BucketLeaveWithoutPay
}
