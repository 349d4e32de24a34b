package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var alice = generic.AccountKey{WorkspaceID: "ws1", UserID: "alice"}

func TestAccount_RoundTripAndVersion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	acct := generic.NewAccount("acct-1", alice)
	acct.Buckets = []generic.Bucket{
		{Type: generic.BucketCasual, Title: "Casual Leave", Value: generic.Days(2.5), Consumed: generic.Days(0.5), IsActive: true, IsPaid: true},
		{Type: generic.BucketLeaveWithoutPay, Title: "Leave Without Pay", Value: generic.Days(-1), Consumed: generic.Days(1), IsActive: true},
	}
	require.NoError(t, s.SaveAccount(ctx, acct))
	assert.Equal(t, 1, acct.Version)

	got, err := s.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	require.Len(t, got.Buckets, 2)
	assert.Equal(t, generic.BucketCasual, got.Buckets[0].Type, "bucket order is preserved")
	assert.Equal(t, "2.5", got.Buckets[0].Value.String())
	assert.Equal(t, "-1", got.Buckets[1].Value.String())
	assert.False(t, got.Buckets[1].IsPaid)

	// a stale copy loses the race
	stale, err := s.GetAccount(ctx, alice)
	require.NoError(t, err)
	got.Buckets[0].Value = generic.Days(3)
	require.NoError(t, s.SaveAccount(ctx, got))
	assert.Equal(t, 2, got.Version)

	stale.Buckets[0].Value = generic.Days(9)
	err = s.SaveAccount(ctx, stale)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	final, err := s.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "3", final.Buckets[0].Value.String())
}

func TestAccount_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetAccount(context.Background(), alice)
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
}

func TestAudit_IdempotencyKeyIsUnique(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	entry := func(id string) generic.AuditEntry {
		return generic.AuditEntry{
			ID: id, WorkspaceID: "ws1", UserID: "alice", Action: generic.AuditAddedByAdmin,
			BucketType: generic.BucketCasual, Delta: generic.Days(1), PreviousValue: generic.Days(0),
			NewValue: generic.Days(1), ActingUser: generic.SystemActor,
			IdempotencyKey: "accrual:s1:2025-03-01:alice", Timestamp: now,
		}
	}

	require.NoError(t, s.AppendAudit(ctx, entry("e1")))
	exists, err := s.AuditKeyExists(ctx, "accrual:s1:2025-03-01:alice")
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.AppendAudit(ctx, entry("e2"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	entries, err := s.QueryAudit(ctx, generic.AuditFilter{WorkspaceID: "ws1", UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].Delta.String())
	assert.True(t, entries[0].Timestamp.Equal(now))
}

func TestWithTx_RollsBack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx generic.Store) error {
		acct := generic.NewAccount("acct-1", alice)
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetAccount(ctx, alice)
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
}

func TestSettings_OneEnabledPerWorkspace(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	setting := func(id string, ws generic.WorkspaceID, enabled bool) generic.AutoAccrualSetting {
		return generic.AutoAccrualSetting{
			ID: id, WorkspaceID: ws, BucketType: generic.BucketCasual, NumberOfLeaves: generic.Days(1),
			Recurrence: generic.RecurrenceRepeat, Frequency: generic.FrequencyMonth, AnchorDayOfMonth: 1,
			Enabled: enabled, CreatedBy: "admin", CreatedAt: now, UpdatedAt: now,
		}
	}

	require.NoError(t, s.SaveSetting(ctx, setting("s1", "ws1", true)))
	require.NoError(t, s.SaveSetting(ctx, setting("s2", "ws1", false)))
	require.NoError(t, s.SaveSetting(ctx, setting("s3", "ws2", true)), "other workspaces are independent")

	err := s.SaveSetting(ctx, setting("s2", "ws1", true))
	assert.ErrorIs(t, err, generic.ErrSettingConflict)

	// disabling the first frees the slot
	require.NoError(t, s.SaveSetting(ctx, setting("s1", "ws1", false)))
	require.NoError(t, s.SaveSetting(ctx, setting("s2", "ws1", true)))

	enabled, err := s.ListSettings(ctx, generic.SettingFilter{WorkspaceID: "ws1", EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "s2", enabled[0].ID)
}

func TestSettings_HistoryRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	next := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	fired := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	in := generic.AutoAccrualSetting{
		ID: "s1", WorkspaceID: "ws1", BucketType: generic.BucketSick, NumberOfLeaves: generic.Days(0.5),
		Recurrence: generic.RecurrenceRepeat, Frequency: generic.FrequencyQuarter, AnchorDayOfMonth: 1,
		NextExecutionDate: &next, LastExecutionDate: &fired, ExecutionHistory: []time.Time{fired},
		CreatedBy: "admin", CreatedAt: fired, UpdatedAt: fired,
	}
	require.NoError(t, s.SaveSetting(ctx, in))

	got, err := s.GetSetting(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "0.5", got.NumberOfLeaves.String())
	assert.Equal(t, generic.FrequencyQuarter, got.Frequency)
	require.NotNil(t, got.NextExecutionDate)
	assert.True(t, got.NextExecutionDate.Equal(next))
	require.Len(t, got.ExecutionHistory, 1)
	assert.True(t, got.ExecutionHistory[0].Equal(fired))

	require.NoError(t, s.DeleteSetting(ctx, "s1"))
	_, err = s.GetSetting(ctx, "s1")
	assert.ErrorIs(t, err, generic.ErrSettingNotFound)
}

func TestReports_ClaimOncePerMonth(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	report := func(id string) generic.MonthlyReport {
		return generic.MonthlyReport{
			ID: id, WorkspaceID: "ws1", Year: 2025, Month: time.March, Status: generic.ReportRunning,
			IdealHours: generic.Days(0), CreatedBy: "admin", CreatedAt: now,
		}
	}

	require.NoError(t, s.ClaimReport(ctx, report("r1")))
	assert.ErrorIs(t, s.ClaimReport(ctx, report("r2")), generic.ErrReportExists)

	// a failed run can be taken over
	failed := report("r1")
	failed.Status = generic.ReportFailed
	failed.Error = "boom"
	require.NoError(t, s.SaveReport(ctx, failed))
	require.NoError(t, s.ClaimReport(ctx, report("r3")))

	got, err := s.GetReport(ctx, "ws1", 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, "r3", got.ID)
	assert.Equal(t, generic.ReportRunning, got.Status)

	// a completed run cannot
	completed := *got
	completed.Status = generic.ReportCompleted
	completed.PerUser = []generic.UserReport{{UserID: "alice", ActualSeconds: 3600, OvertimeDays: generic.Days(0.25)}}
	require.NoError(t, s.SaveReport(ctx, completed))
	assert.ErrorIs(t, s.ClaimReport(ctx, report("r4")), generic.ErrReportExists)

	got, err = s.GetReport(ctx, "ws1", 2025, time.March)
	require.NoError(t, err)
	require.Len(t, got.PerUser, 1)
	assert.Equal(t, "0.25", got.PerUser[0].OvertimeDays.String())

	_, err = s.GetReport(ctx, "ws1", 2025, time.April)
	assert.ErrorIs(t, err, generic.ErrReportNotFound)
}

func TestDirectory_DailyTotals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := func(day, hour int) time.Time { return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC) }

	entries := []generic.TimeEntry{
		{ID: "t1", WorkspaceID: "ws1", UserID: "alice", Start: at(3, 9), DurationInSeconds: 4 * 3600},
		{ID: "t2", WorkspaceID: "ws1", UserID: "alice", Start: at(3, 14), DurationInSeconds: 5 * 3600},
		{ID: "t3", WorkspaceID: "ws1", UserID: "alice", Start: at(4, 9), DurationInSeconds: 6 * 3600},
		{ID: "t4", WorkspaceID: "ws1", UserID: "bob", Start: at(3, 9), DurationInSeconds: 8 * 3600},
		{ID: "t5", WorkspaceID: "ws1", UserID: "alice", Start: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC), DurationInSeconds: 3600},
	}
	for _, e := range entries {
		require.NoError(t, s.AddTimeEntry(ctx, e))
	}

	totals, err := s.DailyTotals(ctx, "ws1", "alice", generic.MonthPeriod(2025, time.March))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "2025-03-03", totals[0].Date.String())
	assert.Equal(t, int64(9*3600), totals[0].Seconds)
	assert.Equal(t, "2025-03-04", totals[1].Date.String())
	assert.Equal(t, int64(6*3600), totals[1].Seconds)
}

func TestDirectory_OneActiveWorkingRule(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.ActiveWorkingRule(ctx, "ws1")
	assert.ErrorIs(t, err, generic.ErrNoWorkingRule)

	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	require.NoError(t, s.SaveWorkingRule(ctx, generic.WorkingRule{ID: "r1", WorkspaceID: "ws1", WorkingHours: generic.Days(8), WeekDays: weekdays, IsActive: true}))
	require.NoError(t, s.SaveWorkingRule(ctx, generic.WorkingRule{ID: "r2", WorkspaceID: "ws1", WorkingHours: generic.Days(7.5), WeekDays: weekdays[:4], IsActive: true}))

	rule, err := s.ActiveWorkingRule(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "r2", rule.ID)
	assert.Equal(t, "7.5", rule.WorkingHours.String())
	assert.Len(t, rule.WeekDays, 4)
}

func TestReset_ClearsEverything(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAccount(ctx, generic.NewAccount("acct-1", alice)))
	require.NoError(t, s.SaveMembership(ctx, generic.Membership{WorkspaceID: "ws1", UserID: "alice", Role: "member", Status: generic.MemberActive}))

	require.NoError(t, s.Reset(ctx))

	_, err := s.GetAccount(ctx, alice)
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
	members, err := s.ListMembers(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, members)
}
