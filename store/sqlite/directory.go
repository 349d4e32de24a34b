package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// MEMBERSHIPS
// =============================================================================

func (q *queries) SaveMembership(ctx context.Context, m generic.Membership) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO memberships (workspace_id, user_id, role, status, deleted, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, user_id) DO UPDATE SET
			role = excluded.role,
			status = excluded.status,
			deleted = excluded.deleted
	`, m.WorkspaceID, m.UserID, m.Role, m.Status, m.Deleted, formatTime(m.JoinedAt))
	if err != nil {
		return mapErr(fmt.Errorf("failed to save membership: %w", err))
	}
	return nil
}

func (q *queries) GetMembership(ctx context.Context, ws generic.WorkspaceID, user generic.UserID) (*generic.Membership, error) {
	var (
		m        generic.Membership
		joinedAt string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT workspace_id, user_id, role, status, deleted, joined_at
		FROM memberships WHERE workspace_id = ? AND user_id = ?
	`, ws, user).Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.Status, &m.Deleted, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrMemberNotFound
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to get membership: %w", err))
	}
	m.JoinedAt = parseTime(joinedAt)
	return &m, nil
}

func (q *queries) ListMembers(ctx context.Context, ws generic.WorkspaceID) ([]generic.Membership, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT workspace_id, user_id, role, status, deleted, joined_at
		FROM memberships WHERE workspace_id = ? ORDER BY user_id ASC
	`, ws)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to list members: %w", err))
	}
	defer rows.Close()

	var out []generic.Membership
	for rows.Next() {
		var (
			m        generic.Membership
			joinedAt string
		)
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.Status, &m.Deleted, &joinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.JoinedAt = parseTime(joinedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// WORKING RULES
// =============================================================================

func (q *queries) SaveWorkingRule(ctx context.Context, r generic.WorkingRule) error {
	if r.IsActive {
		_, err := q.q.ExecContext(ctx,
			"UPDATE working_rules SET is_active = FALSE WHERE workspace_id = ? AND id != ?",
			r.WorkspaceID, r.ID)
		if err != nil {
			return mapErr(fmt.Errorf("failed to deactivate working rules: %w", err))
		}
	}
	weekDays, _ := json.Marshal(r.WeekDays)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO working_rules (id, workspace_id, working_hours, week_days_json, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			working_hours = excluded.working_hours,
			week_days_json = excluded.week_days_json,
			is_active = excluded.is_active
	`, r.ID, r.WorkspaceID, r.WorkingHours.String(), string(weekDays), r.IsActive)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save working rule: %w", err))
	}
	return nil
}

func (q *queries) ActiveWorkingRule(ctx context.Context, ws generic.WorkspaceID) (*generic.WorkingRule, error) {
	var (
		r               generic.WorkingRule
		hours, weekDays string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, workspace_id, working_hours, week_days_json, is_active
		FROM working_rules WHERE workspace_id = ? AND is_active LIMIT 1
	`, ws).Scan(&r.ID, &r.WorkspaceID, &hours, &weekDays, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNoWorkingRule
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to get working rule: %w", err))
	}
	r.WorkingHours = parseDecimal(hours)
	if err := json.Unmarshal([]byte(weekDays), &r.WeekDays); err != nil {
		return nil, fmt.Errorf("failed to decode week days: %w", err)
	}
	return &r, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (q *queries) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO holidays (id, workspace_id, date, name, type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			type = excluded.type
	`, h.ID, h.WorkspaceID, h.Date.String(), h.Name, h.Type)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save holiday: %w", err))
	}
	return nil
}

func (q *queries) HolidaysInRange(ctx context.Context, ws generic.WorkspaceID, p generic.Period) ([]generic.Holiday, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, workspace_id, date, name, type
		FROM holidays WHERE workspace_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ws, p.Start.String(), p.End.String())
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to query holidays: %w", err))
	}
	defer rows.Close()

	var out []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			date string
		)
		if err := rows.Scan(&h.ID, &h.WorkspaceID, &date, &h.Name, &h.Type); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		h.Date = parseDate(date)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

func (q *queries) AddTimeEntry(ctx context.Context, e generic.TimeEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO time_entries (id, workspace_id, user_id, start, day, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.WorkspaceID, e.UserID, formatTime(e.Start), generic.DateOf(e.Start).String(), e.DurationInSeconds)
	if err != nil {
		return mapErr(fmt.Errorf("failed to add time entry: %w", err))
	}
	return nil
}

func (q *queries) DailyTotals(ctx context.Context, ws generic.WorkspaceID, user generic.UserID, p generic.Period) ([]generic.DailyTotal, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT day, SUM(duration_seconds)
		FROM time_entries
		WHERE workspace_id = ? AND user_id = ? AND day >= ? AND day <= ?
		GROUP BY day ORDER BY day ASC
	`, ws, user, p.Start.String(), p.End.String())
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to sum time entries: %w", err))
	}
	defer rows.Close()

	var out []generic.DailyTotal
	for rows.Next() {
		var (
			day string
			t   generic.DailyTotal
		)
		if err := rows.Scan(&day, &t.Seconds); err != nil {
			return nil, fmt.Errorf("failed to scan daily total: %w", err)
		}
		t.Date = parseDate(day)
		out = append(out, t)
	}
	return out, rows.Err()
}
