package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs monthly reconciliations.
//
// Every run first claims its MonthlyReport row; a month that already has a
// running or completed report is rejected before any balance moves. Members
// are reconciled one at a time, each in its own transaction. Ledger writes
// carry the idempotency key reconcile:<workspace>:<yyyy-mm>:<user>:<step>,
// so re-running a failed month skips the members it already moved.
type Engine struct {
	Store   generic.TxStore
	Ledger  *generic.Ledger
	Clock   generic.Clock
	Logger  *zap.Logger
	NewID   func() string
	Retries int

	// SecondaryBucket is drawn on after overtime when cascading undertime.
	// Sick is drawn instead for accounts without it.
	SecondaryBucket generic.BucketType
}

func NewEngine(store generic.TxStore, ledger *generic.Ledger, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:           store,
		Ledger:          ledger,
		Clock:           ledger.Clock,
		Logger:          logger,
		NewID:           uuid.NewString,
		Retries:         generic.DefaultRetryAttempts,
		SecondaryBucket: generic.BucketCasual,
	}
}

type RunInput struct {
	WorkspaceID generic.WorkspaceID
	Year        int
	Month       time.Month
	Actor       string
}

// ErrInvalidMonth is returned for a malformed RunInput.
var ErrInvalidMonth = errors.New("invalid reconciliation month")

// Run reconciles one month of one workspace and returns the saved report.
// On a per-member failure the report is saved as failed and returned along
// with the error; the month may then be run again.
func (e *Engine) Run(ctx context.Context, in RunInput) (*generic.MonthlyReport, error) {
	if in.WorkspaceID == "" || in.Year < 1 || in.Month < time.January || in.Month > time.December {
		return nil, fmt.Errorf("%w: %04d-%02d", ErrInvalidMonth, in.Year, in.Month)
	}
	actor := in.Actor
	if actor == "" {
		actor = generic.SystemActor
	}

	rule, err := e.Store.ActiveWorkingRule(ctx, in.WorkspaceID)
	if err != nil {
		return nil, err
	}
	month := generic.MonthPeriod(in.Year, in.Month)
	holidays, err := e.Store.HolidaysInRange(ctx, in.WorkspaceID, month)
	if err != nil {
		return nil, err
	}
	workingDays, idealHours := IdealHours(in.Year, in.Month, *rule, holidays)

	report := generic.MonthlyReport{
		ID:          e.NewID(),
		WorkspaceID: in.WorkspaceID,
		Year:        in.Year,
		Month:       in.Month,
		Status:      generic.ReportRunning,
		WorkingDays: workingDays,
		IdealHours:  idealHours,
		PerUser:     []generic.UserReport{},
		Deductions:  []generic.DeductionDetail{},
		CreatedBy:   actor,
		CreatedAt:   e.Clock.Now(),
	}
	if err := e.Store.ClaimReport(ctx, report); err != nil {
		return nil, err
	}

	log := e.Logger.With(
		zap.String("workspace_id", string(in.WorkspaceID)),
		zap.String("month", fmt.Sprintf("%04d-%02d", in.Year, in.Month)))

	members, err := e.Store.ListMembers(ctx, in.WorkspaceID)
	if err != nil {
		return e.fail(ctx, log, report, err)
	}

	run := &monthRun{
		engine:     e,
		ws:         in.WorkspaceID,
		ref:        fmt.Sprintf("reconcile:%s:%04d-%02d", in.WorkspaceID, in.Year, in.Month),
		month:      month,
		rule:       *rule,
		holidays:   holidays,
		idealHours: idealHours,
		actor:      actor,
	}
	for _, m := range members {
		if !m.Eligible() {
			continue
		}
		line, details, err := run.member(ctx, m.UserID)
		if err != nil {
			return e.fail(ctx, log, report, fmt.Errorf("user %s: %w", m.UserID, err))
		}
		report.PerUser = append(report.PerUser, line)
		report.Deductions = append(report.Deductions, details...)
	}

	done := e.Clock.Now()
	report.Status = generic.ReportCompleted
	report.CompletedAt = &done
	if err := e.Store.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	log.Info("month reconciled",
		zap.Int("members", len(report.PerUser)),
		zap.Int("deductions", len(report.Deductions)))
	return &report, nil
}

// Report returns the saved report of a month.
func (e *Engine) Report(ctx context.Context, ws generic.WorkspaceID, year int, month time.Month) (*generic.MonthlyReport, error) {
	return e.Store.GetReport(ctx, ws, year, month)
}

func (e *Engine) fail(ctx context.Context, log *zap.Logger, report generic.MonthlyReport, cause error) (*generic.MonthlyReport, error) {
	report.Status = generic.ReportFailed
	report.Error = cause.Error()
	log.Error("reconciliation failed", zap.Error(cause))
	if err := e.Store.SaveReport(ctx, report); err != nil {
		return nil, errors.Join(cause, err)
	}
	return &report, cause
}

// =============================================================================
// PER MEMBER
// =============================================================================

type monthRun struct {
	engine     *Engine
	ws         generic.WorkspaceID
	ref        string
	month      generic.Period
	rule       generic.WorkingRule
	holidays   []generic.Holiday
	idealHours decimal.Decimal
	actor      string
}

func (r *monthRun) member(ctx context.Context, user generic.UserID) (generic.UserReport, []generic.DeductionDetail, error) {
	e := r.engine
	var (
		line    generic.UserReport
		details []generic.DeductionDetail
	)
	err := generic.WithRetry(ctx, e.Store, e.Retries, func(tx generic.Store) error {
		var err error
		line, err = r.measure(ctx, tx, user)
		if err != nil {
			return err
		}

		// a previous attempt of this month already moved this member
		prior, err := tx.QueryAudit(ctx, generic.AuditFilter{WorkspaceID: r.ws, UserID: user, ReferenceID: r.ref})
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			details = deductionsFrom(prior)
			return nil
		}

		key := generic.AccountKey{WorkspaceID: r.ws, UserID: user}
		details, err = r.settle(ctx, tx, key, line)
		return err
	})
	return line, details, err
}

// measure computes a member's report line without writing anything.
func (r *monthRun) measure(ctx context.Context, tx generic.Store, user generic.UserID) (generic.UserReport, error) {
	ws := r.ws
	daily, err := tx.DailyTotals(ctx, ws, user, r.month)
	if err != nil {
		return generic.UserReport{}, err
	}
	var tracked int64
	for _, d := range daily {
		tracked += d.Seconds
	}
	// settlement compares credited days, not raw seconds; carry left
	// unconverted at month end earns nothing
	credited, _ := CreditDays(daily)
	actual := credited.Mul(r.rule.WorkingHours).Mul(hourSeconds).IntPart()

	approved, err := tx.ListRequests(ctx, generic.RequestFilter{
		WorkspaceID: ws,
		UserID:      user,
		Statuses:    []generic.RequestStatus{generic.RequestApproved},
		Overlapping: &r.month,
	})
	if err != nil {
		return generic.UserReport{}, err
	}
	leaveDays := decimal.Zero
	for _, req := range approved {
		leaveDays = leaveDays.Add(req.DaysIn(r.month, r.holidays))
	}

	ideal := r.idealHours.Sub(leaveDays.Mul(r.rule.WorkingHours)).Mul(hourSeconds).IntPart()
	if ideal < 0 {
		ideal = 0
	}

	line := generic.UserReport{
		UserID:            user,
		TrackedSeconds:    tracked,
		ActualSeconds:     actual,
		IdealSeconds:      ideal,
		CreditedDays:      credited,
		ApprovedLeaveDays: leaveDays,
		OvertimeDays:      decimal.Zero,
		UndertimeDays:     decimal.Zero,
	}
	switch {
	case actual > ideal:
		line.OvertimeDays = OvertimeDays(actual-ideal, r.rule.WorkingHours)
	case actual < ideal:
		short := decimal.NewFromInt(ideal - actual).Div(hourSeconds)
		line.UndertimeDays = UndertimeDays(short)
	}
	return line, nil
}

// settle banks overtime or cascades undertime for one member.
func (r *monthRun) settle(ctx context.Context, tx generic.Store, key generic.AccountKey, line generic.UserReport) ([]generic.DeductionDetail, error) {
	l := r.engine.Ledger
	idem := func(step string) string { return fmt.Sprintf("%s:%s:%s", r.ref, key.UserID, step) }

	if line.OvertimeDays.IsPositive() {
		_, err := l.Grant(ctx, tx, key, generic.Movement{
			Type:           generic.BucketOvertime,
			Amount:         line.OvertimeDays,
			Action:         generic.AuditAddedByAdmin,
			Actor:          r.actor,
			ReferenceID:    r.ref,
			IdempotencyKey: idem("overtime"),
		})
		return nil, err
	}

	remaining := line.UndertimeDays
	if !remaining.IsPositive() {
		return nil, nil
	}

	var details []generic.DeductionDetail
	acct, err := tx.GetAccount(ctx, key)
	if err != nil && !generic.IsNotFound(err) {
		return nil, err
	}
	for _, t := range []generic.BucketType{generic.BucketOvertime, r.secondary(acct)} {
		if acct == nil || acct.Bucket(t) == nil || !remaining.IsPositive() {
			continue
		}
		prev := acct.ValueOf(t)
		taken, err := l.Deduct(ctx, tx, key, generic.Movement{
			Type:           t,
			Amount:         remaining,
			Action:         generic.AuditReduced,
			Actor:          r.actor,
			ReferenceID:    r.ref,
			IdempotencyKey: idem("deduct:" + string(t)),
		})
		if err != nil {
			return nil, err
		}
		if !taken.IsPositive() {
			continue
		}
		details = append(details, generic.DeductionDetail{
			UserID:        key.UserID,
			BucketType:    t,
			Amount:        taken,
			PreviousValue: prev,
			NewValue:      prev.Sub(taken),
		})
		remaining = remaining.Sub(taken)
	}

	if remaining.IsPositive() {
		entry, err := l.Charge(ctx, tx, key, generic.Movement{
			Type:           generic.BucketLeaveWithoutPay,
			Amount:         remaining,
			Action:         generic.AuditReduced,
			Actor:          r.actor,
			ReferenceID:    r.ref,
			IdempotencyKey: idem("charge:" + string(generic.BucketLeaveWithoutPay)),
		})
		if err != nil {
			return nil, err
		}
		details = append(details, generic.DeductionDetail{
			UserID:        key.UserID,
			BucketType:    generic.BucketLeaveWithoutPay,
			Amount:        remaining,
			PreviousValue: entry.PreviousValue,
			NewValue:      entry.NewValue,
		})
	}
	return details, nil
}

// secondary picks the paid bucket drawn after overtime: the configured one,
// or sick when the account has no such bucket.
func (r *monthRun) secondary(acct *generic.Account) generic.BucketType {
	if acct != nil && acct.Bucket(r.engine.SecondaryBucket) == nil {
		return generic.BucketSick
	}
	return r.engine.SecondaryBucket
}

// deductionsFrom rebuilds the deduction details of a member from the audit
// entries an earlier attempt wrote.
func deductionsFrom(entries []generic.AuditEntry) []generic.DeductionDetail {
	var out []generic.DeductionDetail
	for _, e := range entries {
		if e.Action != generic.AuditReduced {
			continue
		}
		out = append(out, generic.DeductionDetail{
			UserID:        e.UserID,
			BucketType:    e.BucketType,
			Amount:        e.Delta.Neg(),
			PreviousValue: e.PreviousValue,
			NewValue:      e.NewValue,
		})
	}
	return out
}
