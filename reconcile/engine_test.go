package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/generic/store"
	"github.com/warp/leave-ledger/reconcile"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type env struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	ledger *generic.Ledger
	engine *reconcile.Engine
}

// newEnv sets up January 2025 with a Mon-Fri 8h rule and Jan 1 as a
// gazetted holiday: 22 working days, 176 ideal hours.
func newEnv(t *testing.T, users ...generic.UserID) *env {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	clock := &generic.FixedClock{T: time.Date(2025, time.February, 3, 9, 0, 0, 0, time.UTC)}
	ledger := generic.NewLedger(clock)

	require.NoError(t, mem.SaveWorkingRule(ctx, weekdays(8)))
	require.NoError(t, mem.SaveHoliday(ctx, generic.Holiday{
		ID: "h1", WorkspaceID: "ws1", Date: generic.NewDate(2025, time.January, 1), Name: "New Year", Type: generic.HolidayGazetted,
	}))
	for _, u := range users {
		require.NoError(t, mem.SaveMembership(ctx, generic.Membership{WorkspaceID: "ws1", UserID: u, Status: generic.MemberActive}))
	}
	return &env{t: t, ctx: ctx, store: mem, ledger: ledger, engine: reconcile.NewEngine(mem, ledger, nil)}
}

// work logs hours on every working day of January 2025 except skip.
func (e *env) work(user generic.UserID, hours int64, skip int) {
	e.t.Helper()
	rule := weekdays(8)
	n := 0
	for _, d := range generic.MonthPeriod(2025, time.January).Days() {
		if !rule.IsWorkingDay(d) || d.Day() == 1 {
			continue
		}
		if n++; n <= skip {
			continue
		}
		e.log(user, d, hours*3600)
	}
}

func (e *env) log(user generic.UserID, d generic.Date, seconds int64) {
	e.t.Helper()
	require.NoError(e.t, e.store.AddTimeEntry(e.ctx, generic.TimeEntry{
		ID:                fmt.Sprintf("%s-%s-%d", user, d, seconds),
		WorkspaceID:       "ws1",
		UserID:            user,
		Start:             d.At(time.UTC).Add(9 * time.Hour),
		DurationInSeconds: seconds,
	}))
}

func (e *env) set(user generic.UserID, bt generic.BucketType, v float64) {
	e.t.Helper()
	_, err := e.ledger.SetValue(e.ctx, e.store, generic.AccountKey{WorkspaceID: "ws1", UserID: user}, bt, generic.Days(v), "admin")
	require.NoError(e.t, err)
}

func (e *env) value(user generic.UserID, bt generic.BucketType) string {
	e.t.Helper()
	acct, err := e.store.GetAccount(e.ctx, generic.AccountKey{WorkspaceID: "ws1", UserID: user})
	if errors.Is(err, generic.ErrAccountNotFound) {
		return "0"
	}
	require.NoError(e.t, err)
	return acct.ValueOf(bt).String()
}

func january() reconcile.RunInput {
	return reconcile.RunInput{WorkspaceID: "ws1", Year: 2025, Month: time.January, Actor: "admin"}
}

// =============================================================================
// OVERTIME / UNDERTIME
// =============================================================================

func TestRun_OvertimeIsBanked(t *testing.T) {
	// GIVEN: alice works every working day plus 12h on Saturday Jan 4
	e := newEnv(t, "alice")
	e.work("alice", 8, 0)
	e.log("alice", generic.NewDate(2025, time.January, 4), 12*3600)

	// WHEN
	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: Saturday credits one day, its 4h carry is never converted,
	// so 23 credited days against 22 give 1 day of overtime
	assert.Equal(t, generic.ReportCompleted, report.Status)
	assert.Equal(t, 22, report.WorkingDays)
	assert.True(t, generic.Days(176).Equal(report.IdealHours))
	require.Len(t, report.PerUser, 1)
	line := report.PerUser[0]
	assert.Equal(t, int64(188*3600), line.TrackedSeconds)
	assert.Equal(t, int64(184*3600), line.ActualSeconds)
	assert.True(t, generic.Days(23).Equal(line.CreditedDays))
	assert.True(t, generic.Days(1).Equal(line.OvertimeDays))
	assert.Equal(t, "1", e.value("alice", generic.BucketOvertime))
	assert.Empty(t, report.Deductions)
}

func TestRun_UnconvertedCarryEarnsNothing(t *testing.T) {
	// GIVEN: alice works 8h30 on every working day, 11h over in raw time
	e := newEnv(t, "alice")
	rule := weekdays(8)
	for _, d := range generic.MonthPeriod(2025, time.January).Days() {
		if rule.IsWorkingDay(d) && d.Day() != 1 {
			e.log("alice", d, 8*3600+30*60)
		}
	}

	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: every day credits exactly one, the carry is left over
	line := report.PerUser[0]
	assert.True(t, generic.Days(22).Equal(line.CreditedDays))
	assert.Equal(t, line.IdealSeconds, line.ActualSeconds)
	assert.True(t, line.OvertimeDays.IsZero())
	assert.True(t, line.UndertimeDays.IsZero())
	assert.Equal(t, "0", e.value("alice", generic.BucketOvertime))
}

func TestRun_UndertimeCascades(t *testing.T) {
	// GIVEN: bob skips one working day (8h short = 1 day) and holds
	// overtime 0.25, casual 0.5
	e := newEnv(t, "bob")
	e.work("bob", 8, 1)
	e.set("bob", generic.BucketOvertime, 0.25)
	e.set("bob", generic.BucketCasual, 0.5)

	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: overtime then casual are drained, the rest is owed
	assert.Equal(t, "0", e.value("bob", generic.BucketOvertime))
	assert.Equal(t, "0", e.value("bob", generic.BucketCasual))
	assert.Equal(t, "-0.25", e.value("bob", generic.BucketLeaveWithoutPay))

	require.Len(t, report.Deductions, 3)
	want := []struct {
		bt     generic.BucketType
		amount float64
		prev   float64
	}{
		{generic.BucketOvertime, 0.25, 0.25},
		{generic.BucketCasual, 0.5, 0.5},
		{generic.BucketLeaveWithoutPay, 0.25, 0},
	}
	total := generic.Days(0)
	for i, w := range want {
		d := report.Deductions[i]
		assert.Equal(t, w.bt, d.BucketType)
		assert.True(t, generic.Days(w.amount).Equal(d.Amount), "%s amount %s", d.BucketType, d.Amount)
		assert.True(t, generic.Days(w.prev).Equal(d.PreviousValue), "%s prev %s", d.BucketType, d.PreviousValue)
		if d.BucketType != generic.BucketLeaveWithoutPay {
			assert.True(t, d.Amount.LessThanOrEqual(d.PreviousValue))
		}
		total = total.Add(d.Amount)
	}
	assert.True(t, report.PerUser[0].UndertimeDays.Equal(total))

	audit, err := e.store.QueryAudit(e.ctx, generic.AuditFilter{UserID: "bob", Actions: []generic.AuditAction{generic.AuditReduced}})
	require.NoError(t, err)
	assert.Len(t, audit, 3)
}

func TestRun_UndertimeFallsBackToSick(t *testing.T) {
	// GIVEN: bob is one day short and holds sick leave but no casual bucket
	e := newEnv(t, "bob")
	e.work("bob", 8, 1)
	e.set("bob", generic.BucketSick, 2)

	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: sick covers the day before anything is owed
	require.Len(t, report.Deductions, 1)
	d := report.Deductions[0]
	assert.Equal(t, generic.BucketSick, d.BucketType)
	assert.True(t, generic.Days(1).Equal(d.Amount))
	assert.True(t, generic.Days(2).Equal(d.PreviousValue))
	assert.Equal(t, "1", e.value("bob", generic.BucketSick))
	assert.Equal(t, "0", e.value("bob", generic.BucketLeaveWithoutPay))
}

func TestRun_CascadeStopsWhenCovered(t *testing.T) {
	e := newEnv(t, "bob")
	e.work("bob", 8, 1)
	e.set("bob", generic.BucketOvertime, 3)

	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	require.Len(t, report.Deductions, 1)
	assert.Equal(t, "2", e.value("bob", generic.BucketOvertime))
	assert.Equal(t, "0", e.value("bob", generic.BucketLeaveWithoutPay))
}

func TestRun_ApprovedLeaveReducesIdeal(t *testing.T) {
	// GIVEN: carol took two approved leave days and worked the other 20
	e := newEnv(t, "carol")
	e.work("carol", 8, 2)
	require.NoError(t, e.store.SaveRequest(e.ctx, generic.LeaveRequest{
		ID: "req1", WorkspaceID: "ws1", UserID: "carol", Type: generic.BucketCasual,
		StartDate: generic.NewDate(2025, time.January, 2), EndDate: generic.NewDate(2025, time.January, 3),
		NumberOfDays: generic.Days(2), Status: generic.RequestApproved,
		DailyDetails: []generic.DailyDetail{
			{Date: generic.NewDate(2025, time.January, 2), Duration: generic.DurationFull},
			{Date: generic.NewDate(2025, time.January, 3), Duration: generic.DurationFull},
		},
	}))

	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: no overtime, no undertime
	line := report.PerUser[0]
	assert.True(t, generic.Days(2).Equal(line.ApprovedLeaveDays))
	assert.Equal(t, int64(160*3600), line.IdealSeconds)
	assert.True(t, line.OvertimeDays.IsZero())
	assert.True(t, line.UndertimeDays.IsZero())
	assert.Empty(t, report.Deductions)
}

func TestRun_LeaveOnGazettedHolidayCountsOnce(t *testing.T) {
	// GIVEN: carol holds casual 5 and took Jan 1-3 off; Jan 1 is gazetted,
	// so the request charged 2 days. She worked every other working day.
	e := newEnv(t, "carol")
	e.set("carol", generic.BucketCasual, 5)
	e.work("carol", 8, 2)
	require.NoError(t, e.store.SaveRequest(e.ctx, generic.LeaveRequest{
		ID: "req1", WorkspaceID: "ws1", UserID: "carol", Type: generic.BucketCasual,
		StartDate: generic.NewDate(2025, time.January, 1), EndDate: generic.NewDate(2025, time.January, 3),
		NumberOfDays: generic.Days(3), Status: generic.RequestApproved,
		DailyDetails: []generic.DailyDetail{
			{Date: generic.NewDate(2025, time.January, 1), Duration: generic.DurationFull},
			{Date: generic.NewDate(2025, time.January, 2), Duration: generic.DurationFull},
			{Date: generic.NewDate(2025, time.January, 3), Duration: generic.DurationFull},
		},
	}))

	report, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: the holiday is out of the ideal hours once, not twice
	line := report.PerUser[0]
	assert.True(t, generic.Days(2).Equal(line.ApprovedLeaveDays))
	assert.Equal(t, int64(160*3600), line.IdealSeconds)
	assert.True(t, line.OvertimeDays.IsZero())
	assert.Equal(t, "0", e.value("carol", generic.BucketOvertime))
	assert.Empty(t, report.Deductions)
}

// =============================================================================
// RUN GUARD
// =============================================================================

func TestRun_SecondRunRejectedWithoutMutation(t *testing.T) {
	e := newEnv(t, "bob")
	e.work("bob", 8, 1)
	e.set("bob", generic.BucketOvertime, 2)

	_, err := e.engine.Run(e.ctx, january())
	require.NoError(t, err)
	before := e.value("bob", generic.BucketOvertime)

	_, err = e.engine.Run(e.ctx, january())
	assert.ErrorIs(t, err, generic.ErrReportExists)
	assert.Equal(t, before, e.value("bob", generic.BucketOvertime))
}

func TestRun_NoWorkingRule(t *testing.T) {
	mem := store.NewMemory()
	engine := reconcile.NewEngine(mem, generic.NewLedger(&generic.FixedClock{T: time.Now()}), nil)

	_, err := engine.Run(context.Background(), january())
	assert.ErrorIs(t, err, generic.ErrNoWorkingRule)

	_, err = engine.Run(context.Background(), reconcile.RunInput{WorkspaceID: "ws1", Year: 2025, Month: 13})
	assert.ErrorIs(t, err, reconcile.ErrInvalidMonth)
}

// failingStore fails account writes for one user while fail is set.
type failingStore struct {
	generic.TxStore
	user generic.UserID
	fail bool
}

func (f *failingStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.TxStore.WithTx(ctx, func(tx generic.Store) error {
		return fn(&failingTx{Store: tx, parent: f})
	})
}

type failingTx struct {
	generic.Store
	parent *failingStore
}

func (f *failingTx) SaveAccount(ctx context.Context, acct *generic.Account) error {
	if f.parent.fail && acct.UserID == f.parent.user {
		return errors.New("disk full")
	}
	return f.Store.SaveAccount(ctx, acct)
}

func TestRun_FailedMonthRerunsWithoutDoubleMove(t *testing.T) {
	// GIVEN: alice and bob are both one day short; bob's writes fail
	e := newEnv(t, "alice", "bob")
	e.work("alice", 8, 1)
	e.work("bob", 8, 1)
	e.set("alice", generic.BucketOvertime, 5)
	e.set("bob", generic.BucketOvertime, 5)

	failing := &failingStore{TxStore: e.store, user: "bob", fail: true}
	e.engine.Store = failing

	// WHEN: the first run fails on bob
	report, err := e.engine.Run(e.ctx, january())
	require.Error(t, err)
	assert.Equal(t, generic.ReportFailed, report.Status)
	assert.Equal(t, "4", e.value("alice", generic.BucketOvertime))
	assert.Equal(t, "5", e.value("bob", generic.BucketOvertime))

	// AND: the month is run again once the failure clears
	failing.fail = false
	report, err = e.engine.Run(e.ctx, january())
	require.NoError(t, err)

	// THEN: alice is not deducted twice, bob is deducted once
	assert.Equal(t, generic.ReportCompleted, report.Status)
	assert.Equal(t, "4", e.value("alice", generic.BucketOvertime))
	assert.Equal(t, "4", e.value("bob", generic.BucketOvertime))
	assert.Len(t, report.Deductions, 2)

	saved, err := e.engine.Report(e.ctx, "ws1", 2025, time.January)
	require.NoError(t, err)
	assert.Equal(t, generic.ReportCompleted, saved.Status)
}
