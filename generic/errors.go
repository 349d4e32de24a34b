/*
errors.go - Centralized error types for the leave ledger

ERROR CLASSES:
  1. Domain rejections (insufficient balance, restricted mismatch, "no leave
     needed") are NOT errors. They are Rejection values returned by the
     resolution engine (see timeoff/resolution.go).
  2. Precondition violations: a missing bucket, a second enabled accrual
     setting, a duplicate report. Fatal to the current operation; the
     transaction is aborted.
  3. Transient failures: write conflicts and a busy database. Retried at the
     transaction boundary by WithRetry.

USAGE:
  if errors.Is(err, generic.ErrReportExists) {
      // month already reconciled
  }
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a ledger write reuses an
	// idempotency key. Expected on retries; callers treat it as "already done".
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when an optimistic version check
	// fails or the database is busy. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrAccountNotFound   = errors.New("balance account not found")
	ErrBucketNotFound    = errors.New("balance bucket not found")
	ErrRequestNotFound   = errors.New("leave request not found")
	ErrSettingNotFound   = errors.New("accrual setting not found")
	ErrReportNotFound    = errors.New("monthly report not found")
	ErrMemberNotFound    = errors.New("workspace member not found")
	ErrNoWorkingRule     = errors.New("no active working rule for workspace")
	ErrRequestNotPending = errors.New("leave request is not pending")
	ErrMemberInactive    = errors.New("workspace member is not active")

	// ErrSettingConflict is returned when enabling a setting while another
	// setting of the same workspace is enabled.
	ErrSettingConflict = errors.New("another accrual setting is already enabled for this workspace")

	// ErrUnschedulable is returned when no next execution date can be computed.
	ErrUnschedulable = errors.New("accrual setting cannot be scheduled")

	// ErrInvalidSetting is returned for malformed accrual settings.
	ErrInvalidSetting = errors.New("invalid accrual setting")

	// ErrReportExists is returned when a month was already reconciled (or a
	// reconciliation of it is running).
	ErrReportExists = errors.New("monthly report already exists")

	// ErrNegativeBalance is returned when an admin update would drive a bucket
	// below zero on a bucket type that does not permit it.
	ErrNegativeBalance = errors.New("negative balance not permitted")

	// ErrInvalidAmount is returned for non-positive ledger movements.
	ErrInvalidAmount = errors.New("amount must be positive")

	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BucketNotFoundError reports an allocation that references a bucket the
// account does not have.
type BucketNotFoundError struct {
	Account AccountKey
	Type    BucketType
}

func (e *BucketNotFoundError) Error() string {
	return fmt.Sprintf("bucket %q not found on account %s", e.Type, e.Account)
}

func (e *BucketNotFoundError) Unwrap() error { return ErrBucketNotFound }

// NegativeBalanceError details a rejected admin update.
type NegativeBalanceError struct {
	Type  BucketType
	Value decimal.Decimal
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("bucket %q may not be set to %s", e.Type, e.Value)
}

func (e *NegativeBalanceError) Unwrap() error { return ErrNegativeBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsPrecondition returns true for caller/state bugs that must not be retried.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrBucketNotFound) ||
		errors.Is(err, ErrSettingConflict) ||
		errors.Is(err, ErrReportExists) ||
		errors.Is(err, ErrRequestNotPending) ||
		errors.Is(err, ErrUnschedulable) ||
		errors.Is(err, ErrInvalidSetting) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrMemberInactive) ||
		errors.Is(err, ErrNoWorkingRule)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrSettingNotFound) ||
		errors.Is(err, ErrReportNotFound) ||
		errors.Is(err, ErrMemberNotFound)
}
