package timeoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/generic/store"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	ws    generic.WorkspaceID = "ws-1"
	alice generic.UserID      = "alice"
)

var aliceKey = generic.AccountKey{WorkspaceID: ws, UserID: alice}

type fixture struct {
	store  *store.Memory
	ledger *generic.Ledger
	svc    *timeoff.RequestService
}

func newFixture(t *testing.T, buckets map[generic.BucketType]float64) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	clock := &generic.FixedClock{T: time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)}
	ledger := generic.NewLedger(clock)

	require.NoError(t, mem.SaveMembership(ctx, generic.Membership{
		WorkspaceID: ws, UserID: alice, Role: "member", Status: generic.MemberActive,
	}))
	require.NoError(t, mem.SaveWorkingRule(ctx, generic.WorkingRule{
		ID: "rule-1", WorkspaceID: ws, WorkingHours: generic.Days(8), IsActive: true,
		WeekDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}))
	for bt, v := range buckets {
		if v == 0 {
			_, err := ledger.SetValue(ctx, mem, aliceKey, bt, generic.Days(0), "admin")
			require.NoError(t, err)
			continue
		}
		_, err := ledger.Grant(ctx, mem, aliceKey, generic.Movement{Type: bt, Amount: generic.Days(v), Actor: "admin"})
		require.NoError(t, err)
	}

	return &fixture{store: mem, ledger: ledger, svc: timeoff.NewRequestService(mem, ledger, nil)}
}

func (f *fixture) bucket(t *testing.T, bt generic.BucketType) generic.Bucket {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), aliceKey)
	require.NoError(t, err)
	b := acct.Bucket(bt)
	require.NotNil(t, b, "bucket %s", bt)
	return *b
}

func (f *fixture) auditCount(t *testing.T, actions ...generic.AuditAction) int {
	t.Helper()
	entries, err := f.store.QueryAudit(context.Background(), generic.AuditFilter{WorkspaceID: ws, Actions: actions})
	require.NoError(t, err)
	return len(entries)
}

func casualRequest(start, end int) timeoff.RequestInput {
	return timeoff.RequestInput{
		WorkspaceID: ws, UserID: alice, Type: generic.BucketCasual,
		StartDate: day(start), EndDate: day(end), Actor: string(alice),
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ReservesMixedAllocation(t *testing.T) {
	// GIVEN: casual 3, overtime 2
	// WHEN: requesting casual Mon 6 - Thu 9 January
	// THEN: casual 3 and overtime 1 are reserved, request is pending

	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 3, generic.BucketOvertime: 2})
	ctx := context.Background()

	req, rej, err := f.svc.Create(ctx, casualRequest(6, 9))
	require.NoError(t, err)
	require.Nil(t, rej)

	assert.Equal(t, generic.RequestPending, req.Status)
	assert.True(t, generic.Days(4).Equal(req.NumberOfDays))
	assert.Len(t, req.DailyDetails, 4)
	assert.True(t, generic.Days(3).Equal(req.PendingData[generic.BucketCasual]))
	assert.True(t, generic.Days(1).Equal(req.PendingData[generic.BucketOvertime]))

	casual := f.bucket(t, generic.BucketCasual)
	assert.True(t, casual.Value.IsZero())
	assert.True(t, generic.Days(3).Equal(casual.Consumed))
	overtime := f.bucket(t, generic.BucketOvertime)
	assert.True(t, generic.Days(1).Equal(overtime.Value))

	assert.Equal(t, 2, f.auditCount(t, generic.AuditApplied))
}

func TestCreate_SkipsWeekendDays(t *testing.T) {
	// Fri 10 - Mon 13 January is two working days
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 5})

	req, rej, err := f.svc.Create(context.Background(), casualRequest(10, 13))
	require.NoError(t, err)
	require.Nil(t, rej)
	assert.True(t, generic.Days(2).Equal(req.NumberOfDays))
}

func TestCreate_HalfDay(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 5})
	in := casualRequest(6, 7)
	in.HalfDays = []generic.Date{day(7)}

	req, _, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, generic.Days(1.5).Equal(req.NumberOfDays))
	assert.True(t, generic.Days(3.5).Equal(f.bucket(t, generic.BucketCasual).Value))
}

func TestCreate_Rejection_WritesNothing(t *testing.T) {
	// GIVEN: casual 0
	// WHEN: requesting 2 casual days
	// THEN: rejection returned, no request and no audit entry written

	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 0})
	ctx := context.Background()
	before := f.auditCount(t)

	req, rej, err := f.svc.Create(ctx, casualRequest(6, 7))
	require.NoError(t, err)
	assert.Nil(t, req)
	require.NotNil(t, rej)
	assert.Equal(t, timeoff.RejectInsufficientBalance, rej.Code)

	all, err := f.svc.List(ctx, generic.RequestFilter{WorkspaceID: ws})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, before, f.auditCount(t))
}

func TestCreate_OverlappingRequest_Rejected(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 10})
	ctx := context.Background()

	_, rej, err := f.svc.Create(ctx, casualRequest(6, 8))
	require.NoError(t, err)
	require.Nil(t, rej)

	_, rej, err = f.svc.Create(ctx, casualRequest(8, 9))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, timeoff.RejectOverlapping, rej.Code)
}

func TestCreate_InactiveMember_Fails(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 10})
	ctx := context.Background()
	require.NoError(t, f.store.SaveMembership(ctx, generic.Membership{
		WorkspaceID: ws, UserID: alice, Status: generic.MemberInactive,
	}))

	_, _, err := f.svc.Create(ctx, casualRequest(6, 6))
	assert.ErrorIs(t, err, generic.ErrMemberInactive)
	assert.True(t, generic.IsPrecondition(err))
}

func TestCreate_Unpaid_CreatesOwingBucket(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketOvertime: 2})
	in := casualRequest(6, 10)
	in.Type = generic.BucketLeaveWithoutPay

	req, rej, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Nil(t, rej)
	assert.True(t, generic.Days(2).Equal(req.PendingData[generic.BucketOvertime]))
	assert.True(t, generic.Days(3).Equal(req.PendingData[generic.BucketLeaveWithoutPay]))

	lwp := f.bucket(t, generic.BucketLeaveWithoutPay)
	assert.True(t, generic.Days(-3).Equal(lwp.Value))
	assert.True(t, generic.Days(3).Equal(lwp.Consumed))
	assert.False(t, lwp.IsPaid)
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestReject_RestoresBuckets(t *testing.T) {
	// GIVEN: a pending mixed request
	// WHEN: rejected
	// THEN: every touched bucket's (value, consumed) is back to its pre-apply state

	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 3, generic.BucketOvertime: 2})
	ctx := context.Background()
	casualBefore := f.bucket(t, generic.BucketCasual)
	overtimeBefore := f.bucket(t, generic.BucketOvertime)

	req, _, err := f.svc.Create(ctx, casualRequest(6, 9))
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, req.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestRejected, rejected.Status)
	assert.Empty(t, rejected.PendingData)
	assert.Equal(t, "manager", rejected.DecidedBy)

	for _, pair := range [][2]generic.Bucket{
		{casualBefore, f.bucket(t, generic.BucketCasual)},
		{overtimeBefore, f.bucket(t, generic.BucketOvertime)},
	} {
		assert.True(t, pair[0].Value.Equal(pair[1].Value), "%s value", pair[0].Type)
		assert.True(t, pair[0].Consumed.Equal(pair[1].Consumed), "%s consumed", pair[0].Type)
	}
	assert.Equal(t, 2, f.auditCount(t, generic.AuditRejected))
}

func TestApprove_KeepsReservation(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 5})
	ctx := context.Background()

	req, _, err := f.svc.Create(ctx, casualRequest(6, 7))
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, req.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestApproved, approved.Status)
	assert.Empty(t, approved.PendingData)
	require.NotNil(t, approved.DecidedAt)

	assert.True(t, generic.Days(3).Equal(f.bucket(t, generic.BucketCasual).Value))

	entries, err := f.store.QueryAudit(ctx, generic.AuditFilter{ReferenceID: req.ID, Actions: []generic.AuditAction{generic.AuditApproved}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Delta.IsZero())

	// Decided requests cannot be decided again
	_, err = f.svc.Reject(ctx, req.ID, "manager")
	assert.ErrorIs(t, err, generic.ErrRequestNotPending)
}

func TestDelete_PendingOnly(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 5})
	ctx := context.Background()

	req, _, err := f.svc.Create(ctx, casualRequest(6, 7))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, req.ID, "alice"))

	_, err = f.svc.Get(ctx, req.ID)
	assert.ErrorIs(t, err, generic.ErrRequestNotFound)
	assert.True(t, generic.Days(5).Equal(f.bucket(t, generic.BucketCasual).Value))
	assert.Equal(t, 1, f.auditCount(t, generic.AuditDeleted))

	approved, _, err := f.svc.Create(ctx, casualRequest(8, 8))
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approved.ID, "manager")
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Delete(ctx, approved.ID, "alice"), generic.ErrRequestNotPending)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_ReplacesReservation(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 5})
	ctx := context.Background()

	req, _, err := f.svc.Create(ctx, casualRequest(6, 7))
	require.NoError(t, err)

	updated, rej, err := f.svc.Update(ctx, req.ID, casualRequest(6, 9))
	require.NoError(t, err)
	require.Nil(t, rej)
	assert.True(t, generic.Days(4).Equal(updated.NumberOfDays))
	assert.True(t, generic.Days(4).Equal(updated.PendingData[generic.BucketCasual]))
	assert.True(t, generic.Days(1).Equal(f.bucket(t, generic.BucketCasual).Value))
}

func TestUpdate_Rejected_LeavesOriginal(t *testing.T) {
	f := newFixture(t, map[generic.BucketType]float64{generic.BucketCasual: 3})
	ctx := context.Background()

	req, _, err := f.svc.Create(ctx, casualRequest(6, 7))
	require.NoError(t, err)
	auditBefore := f.auditCount(t)

	_, rej, err := f.svc.Update(ctx, req.ID, casualRequest(6, 10))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, timeoff.RejectInsufficientBalance, rej.Code)

	got, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, day(7), got.EndDate)
	assert.True(t, generic.Days(2).Equal(got.PendingData[generic.BucketCasual]))
	assert.True(t, generic.Days(1).Equal(f.bucket(t, generic.BucketCasual).Value))
	assert.Equal(t, auditBefore, f.auditCount(t))
}
