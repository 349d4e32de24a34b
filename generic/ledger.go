/*
ledger.go - Balance mutations and their audit entries

PURPOSE:
  The Ledger is the only code that changes a bucket. Every operation loads
  the account from the Store it is given, mutates it, saves it under the
  account's optimistic version and appends exactly one AuditEntry per
  touched bucket. Pass the view handed to TxStore.WithTx so that the bucket
  writes and the audit writes commit or roll back together.

OPERATIONS:
  Apply:    reserve an allocation (value -> consumed), returns PendingData
  Reverse:  release a reservation (consumed -> value)
  Finalize: approve a reservation; zero-delta entries, no balance movement
  Grant:    add to a bucket, creating it (and the account) if absent
  Deduct:   remove from a bucket, clamped at zero
  Charge:   record owed usage on a bucket without clamping
  SetValue: admin manual update of a bucket's value

IDEMPOTENCY:
  Grant, Deduct and Charge accept an idempotency key. It is stored on the
  audit entry; a reused key returns ErrDuplicateIdempotencyKey before
  anything is written. The accrual scheduler and the reconciliation engine
  derive keys from (run, user) so a re-run never double-moves a balance.

NEGATIVE BALANCES:
  Bucket types listed in AllowNegative (leaveWithoutPay by default) record
  owed days: Apply and Charge create them on first use and may drive them
  below zero, and SetValue may write a negative value on them. Every other
  bucket must already exist for Apply, and the resolution engine never
  allocates more than it holds.
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Clock Clock

	// AllowNegative lists the bucket types SetValue may drive below zero.
	AllowNegative map[BucketType]bool

	// NewID generates account and audit entry IDs.
	NewID func() string
}

// NewLedger creates a ledger. allowNegative defaults to leaveWithoutPay.
func NewLedger(clock Clock, allowNegative ...BucketType) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if len(allowNegative) == 0 {
		allowNegative = []BucketType{BucketLeaveWithoutPay}
	}
	allowed := make(map[BucketType]bool, len(allowNegative))
	for _, t := range allowNegative {
		allowed[t] = true
	}
	return &Ledger{Clock: clock, AllowNegative: allowed, NewID: uuid.NewString}
}

// Movement describes a single-bucket Grant, Deduct or Charge.
type Movement struct {
	Type           BucketType
	Amount         decimal.Decimal
	Title          string // used when the bucket is created
	Action         AuditAction
	Actor          string
	ReferenceID    string
	IdempotencyKey string
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// Apply reserves every part of an allocation: value decreases and consumed
// increases by each part's amount. Returns the PendingData to store on the
// request. A part naming a bucket the account lacks is a precondition
// violation and nothing is written.
func (l *Ledger) Apply(ctx context.Context, s Store, key AccountKey, parts []Part, actor, ref string) (PendingData, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("apply: empty allocation: %w", ErrInvalidAmount)
	}
	acct, err := l.loadOrCreate(ctx, s, key)
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	for _, p := range parts {
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("apply %s: %w", p.Type, ErrInvalidAmount)
		}
		if acct.Bucket(p.Type) == nil && !l.AllowNegative[p.Type] {
			return nil, &BucketNotFoundError{Account: key, Type: p.Type}
		}
	}

	now := l.Clock.Now()
	pending := make(PendingData, len(parts))
	entries := make([]AuditEntry, 0, len(parts))
	for _, p := range parts {
		// owing buckets (leaveWithoutPay) are created on first use
		b := acct.ensureBucket(p.Type, "")
		prev := b.Value
		b.Value = b.Value.Sub(p.Amount)
		b.Consumed = b.Consumed.Add(p.Amount)
		pending[p.Type] = pending[p.Type].Add(p.Amount)
		entries = append(entries, l.entry(key, AuditApplied, p.Type, p.Amount.Neg(), prev, b.Value, actor, ref, "", now))
	}

	if err := l.commit(ctx, s, acct, entries, now); err != nil {
		return nil, err
	}
	return pending, nil
}

// Reverse releases a reservation recorded in pending. action is AuditRejected
// or AuditDeleted.
func (l *Ledger) Reverse(ctx context.Context, s Store, key AccountKey, pending PendingData, actor, ref string, action AuditAction) error {
	if len(pending) == 0 {
		return nil
	}
	acct, err := s.GetAccount(ctx, key)
	if err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	types := pending.Types()
	for _, t := range types {
		if acct.Bucket(t) == nil {
			return &BucketNotFoundError{Account: key, Type: t}
		}
	}

	now := l.Clock.Now()
	entries := make([]AuditEntry, 0, len(types))
	for _, t := range types {
		amount := pending[t]
		b := acct.Bucket(t)
		prev := b.Value
		b.Value = b.Value.Add(amount)
		b.Consumed = b.Consumed.Sub(amount)
		entries = append(entries, l.entry(key, action, t, amount, prev, b.Value, actor, ref, "", now))
	}
	return l.commit(ctx, s, acct, entries, now)
}

// Finalize records the approval of a reservation. Balances do not move: the
// reservation already happened when the request was applied.
func (l *Ledger) Finalize(ctx context.Context, s Store, key AccountKey, pending PendingData, actor, ref string) error {
	acct, err := s.GetAccount(ctx, key)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	now := l.Clock.Now()
	var entries []AuditEntry
	for _, t := range pending.Types() {
		b := acct.Bucket(t)
		if b == nil {
			return &BucketNotFoundError{Account: key, Type: t}
		}
		entries = append(entries, l.entry(key, AuditApproved, t, decimal.Zero, b.Value, b.Value, actor, ref, "", now))
	}
	if len(entries) == 0 {
		return nil
	}
	return s.AppendAudit(ctx, entries...)
}

// =============================================================================
// SINGLE-BUCKET MOVEMENTS
// =============================================================================

// Grant increases a bucket's value, creating the account and the bucket
// (consumed 0, active) when absent.
func (l *Ledger) Grant(ctx context.Context, s Store, key AccountKey, mv Movement) (AuditEntry, error) {
	if !mv.Amount.IsPositive() {
		return AuditEntry{}, fmt.Errorf("grant %s: %w", mv.Type, ErrInvalidAmount)
	}
	if err := l.checkKey(ctx, s, mv.IdempotencyKey); err != nil {
		return AuditEntry{}, err
	}
	acct, err := l.loadOrCreate(ctx, s, key)
	if err != nil {
		return AuditEntry{}, err
	}

	now := l.Clock.Now()
	b := acct.ensureBucket(mv.Type, mv.Title)
	prev := b.Value
	b.Value = b.Value.Add(mv.Amount)
	e := l.entry(key, actionOr(mv.Action, AuditAddedByAdmin), mv.Type, mv.Amount, prev, b.Value, mv.Actor, mv.ReferenceID, mv.IdempotencyKey, now)
	return e, l.commit(ctx, s, acct, []AuditEntry{e}, now)
}

// Deduct decreases a bucket's value by mv.Amount, clamped so the value never
// drops below zero. Returns the amount actually deducted. Nothing is
// written when the clamped amount is zero.
func (l *Ledger) Deduct(ctx context.Context, s Store, key AccountKey, mv Movement) (decimal.Decimal, error) {
	if !mv.Amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deduct %s: %w", mv.Type, ErrInvalidAmount)
	}
	if err := l.checkKey(ctx, s, mv.IdempotencyKey); err != nil {
		return decimal.Zero, err
	}
	acct, err := s.GetAccount(ctx, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("deduct: %w", err)
	}
	b := acct.Bucket(mv.Type)
	if b == nil {
		return decimal.Zero, &BucketNotFoundError{Account: key, Type: mv.Type}
	}

	amount := decimal.Min(mv.Amount, decimal.Max(b.Value, decimal.Zero))
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	now := l.Clock.Now()
	prev := b.Value
	b.Value = b.Value.Sub(amount)
	e := l.entry(key, actionOr(mv.Action, AuditReduced), mv.Type, amount.Neg(), prev, b.Value, mv.Actor, mv.ReferenceID, mv.IdempotencyKey, now)
	return amount, l.commit(ctx, s, acct, []AuditEntry{e}, now)
}

// Charge records mv.Amount of owed usage: consumed increases and value
// decreases without clamping, so the value may go negative. Used for
// leaveWithoutPay, which tracks days owed rather than days available.
func (l *Ledger) Charge(ctx context.Context, s Store, key AccountKey, mv Movement) (AuditEntry, error) {
	if !mv.Amount.IsPositive() {
		return AuditEntry{}, fmt.Errorf("charge %s: %w", mv.Type, ErrInvalidAmount)
	}
	if err := l.checkKey(ctx, s, mv.IdempotencyKey); err != nil {
		return AuditEntry{}, err
	}
	acct, err := l.loadOrCreate(ctx, s, key)
	if err != nil {
		return AuditEntry{}, err
	}

	now := l.Clock.Now()
	b := acct.ensureBucket(mv.Type, mv.Title)
	prev := b.Value
	b.Value = b.Value.Sub(mv.Amount)
	b.Consumed = b.Consumed.Add(mv.Amount)
	e := l.entry(key, actionOr(mv.Action, AuditReduced), mv.Type, mv.Amount.Neg(), prev, b.Value, mv.Actor, mv.ReferenceID, mv.IdempotencyKey, now)
	return e, l.commit(ctx, s, acct, []AuditEntry{e}, now)
}

// SetValue is the admin manual update. The bucket is created if absent.
func (l *Ledger) SetValue(ctx context.Context, s Store, key AccountKey, t BucketType, value decimal.Decimal, actor string) (AuditEntry, error) {
	if value.IsNegative() && !l.AllowNegative[t] {
		return AuditEntry{}, &NegativeBalanceError{Type: t, Value: value}
	}
	acct, err := l.loadOrCreate(ctx, s, key)
	if err != nil {
		return AuditEntry{}, err
	}
	now := l.Clock.Now()
	b := acct.ensureBucket(t, "")
	prev := b.Value
	b.Value = value
	e := l.entry(key, AuditUpdatedByAdmin, t, value.Sub(prev), prev, value, actor, "", "", now)
	return e, l.commit(ctx, s, acct, []AuditEntry{e}, now)
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) checkKey(ctx context.Context, s Store, key string) error {
	if key == "" {
		return nil
	}
	exists, err := s.AuditKeyExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotencyKey
	}
	return nil
}

func (l *Ledger) loadOrCreate(ctx context.Context, s Store, key AccountKey) (*Account, error) {
	acct, err := s.GetAccount(ctx, key)
	if err == nil {
		return acct, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	return NewAccount(l.NewID(), key), nil
}

func (l *Ledger) commit(ctx context.Context, s Store, acct *Account, entries []AuditEntry, now time.Time) error {
	acct.UpdatedAt = now
	if err := s.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("save account %s: %w", acct.Key(), err)
	}
	if err := s.AppendAudit(ctx, entries...); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (l *Ledger) entry(key AccountKey, action AuditAction, t BucketType, delta, prev, next decimal.Decimal, actor, ref, idem string, now time.Time) AuditEntry {
	if actor == "" {
		actor = SystemActor
	}
	return AuditEntry{
		ID:             l.NewID(),
		WorkspaceID:    key.WorkspaceID,
		UserID:         key.UserID,
		Action:         action,
		BucketType:     t,
		Delta:          delta,
		PreviousValue:  prev,
		NewValue:       next,
		ActingUser:     actor,
		ReferenceID:    ref,
		IdempotencyKey: idem,
		Timestamp:      now,
	}
}

func actionOr(a, fallback AuditAction) AuditAction {
	if a == "" {
		return fallback
	}
	return a
}
