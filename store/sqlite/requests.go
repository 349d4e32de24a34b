package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

const requestColumns = `id, workspace_id, user_id, type, start_date, end_date, number_of_days,
	daily_details_json, status, pending_json, allocation_json, reason, created_by,
	decided_by, decided_at, created_at, updated_at`

func (q *queries) SaveRequest(ctx context.Context, r generic.LeaveRequest) error {
	details, _ := json.Marshal(r.DailyDetails)
	allocation, _ := json.Marshal(r.Allocation)
	var pending sql.NullString
	if len(r.PendingData) > 0 {
		b, _ := json.Marshal(r.PendingData)
		pending = nullString(string(b))
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			number_of_days = excluded.number_of_days,
			daily_details_json = excluded.daily_details_json,
			status = excluded.status,
			pending_json = excluded.pending_json,
			allocation_json = excluded.allocation_json,
			reason = excluded.reason,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at,
			updated_at = excluded.updated_at
	`,
		r.ID, r.WorkspaceID, r.UserID, r.Type, r.StartDate.String(), r.EndDate.String(),
		r.NumberOfDays.String(), string(details), r.Status, pending, string(allocation),
		nullString(r.Reason), r.CreatedBy, nullString(r.DecidedBy), formatTimePtr(r.DecidedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save request: %w", err))
	}
	return nil
}

func (q *queries) GetRequest(ctx context.Context, id string) (*generic.LeaveRequest, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = ?", id)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to get request: %w", err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrRequestNotFound
	}
	r, err := scanRequest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) DeleteRequest(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM leave_requests WHERE id = ?", id)
	if err != nil {
		return mapErr(fmt.Errorf("failed to delete request: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrRequestNotFound
	}
	return nil
}

func (q *queries) ListRequests(ctx context.Context, f generic.RequestFilter) ([]generic.LeaveRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, f.WorkspaceID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Overlapping != nil {
		// ISO dates compare correctly as strings
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, f.Overlapping.End.String(), f.Overlapping.Start.String())
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, s)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + requestColumns + " FROM leave_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to list requests: %w", err))
	}
	defer rows.Close()

	var out []generic.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(rows *sql.Rows) (generic.LeaveRequest, error) {
	var (
		r                           generic.LeaveRequest
		start, end, days, details   string
		pending, allocation, reason sql.NullString
		decidedBy, decidedAt        sql.NullString
		createdAt, updatedAt        string
	)
	err := rows.Scan(&r.ID, &r.WorkspaceID, &r.UserID, &r.Type, &start, &end, &days,
		&details, &r.Status, &pending, &allocation, &reason, &r.CreatedBy,
		&decidedBy, &decidedAt, &createdAt, &updatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan request: %w", err)
	}
	r.StartDate = parseDate(start)
	r.EndDate = parseDate(end)
	r.NumberOfDays = parseDecimal(days)
	r.Reason = reason.String
	r.DecidedBy = decidedBy.String
	r.DecidedAt = parseTimePtr(decidedAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(details), &r.DailyDetails); err != nil {
		return r, fmt.Errorf("failed to decode daily details: %w", err)
	}
	if pending.Valid && pending.String != "" {
		if err := json.Unmarshal([]byte(pending.String), &r.PendingData); err != nil {
			return r, fmt.Errorf("failed to decode pending data: %w", err)
		}
	}
	if allocation.Valid && allocation.String != "" {
		if err := json.Unmarshal([]byte(allocation.String), &r.Allocation); err != nil {
			return r, fmt.Errorf("failed to decode allocation: %w", err)
		}
	}
	return r, nil
}

// =============================================================================
// ACCRUAL SETTINGS
// =============================================================================

const settingColumns = `id, workspace_id, bucket_type, number_of_leaves, recurrence, frequency,
	anchor_day, next_execution, last_execution, history_json, enabled, created_by,
	created_at, updated_at`

func (q *queries) SaveSetting(ctx context.Context, s generic.AutoAccrualSetting) error {
	history, _ := json.Marshal(s.ExecutionHistory)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO accrual_settings (`+settingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bucket_type = excluded.bucket_type,
			number_of_leaves = excluded.number_of_leaves,
			recurrence = excluded.recurrence,
			frequency = excluded.frequency,
			anchor_day = excluded.anchor_day,
			next_execution = excluded.next_execution,
			last_execution = excluded.last_execution,
			history_json = excluded.history_json,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`,
		s.ID, s.WorkspaceID, s.BucketType, s.NumberOfLeaves.String(), s.Recurrence,
		nullString(string(s.Frequency)), s.AnchorDayOfMonth,
		formatTimePtr(s.NextExecutionDate), formatTimePtr(s.LastExecutionDate),
		string(history), s.Enabled, s.CreatedBy, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrSettingConflict
	}
	if err != nil {
		return mapErr(fmt.Errorf("failed to save setting: %w", err))
	}
	return nil
}

func (q *queries) GetSetting(ctx context.Context, id string) (*generic.AutoAccrualSetting, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+settingColumns+" FROM accrual_settings WHERE id = ?", id)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to get setting: %w", err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrSettingNotFound
	}
	s, err := scanSetting(rows)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) DeleteSetting(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM accrual_settings WHERE id = ?", id)
	if err != nil {
		return mapErr(fmt.Errorf("failed to delete setting: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrSettingNotFound
	}
	return nil
}

func (q *queries) ListSettings(ctx context.Context, f generic.SettingFilter) ([]generic.AutoAccrualSetting, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, f.WorkspaceID)
	}
	if f.EnabledOnly {
		where = append(where, "enabled")
	}
	query := "SELECT " + settingColumns + " FROM accrual_settings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to list settings: %w", err))
	}
	defer rows.Close()

	var out []generic.AutoAccrualSetting
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSetting(rows *sql.Rows) (generic.AutoAccrualSetting, error) {
	var (
		s                    generic.AutoAccrualSetting
		leaves, history      string
		frequency            sql.NullString
		next, last           sql.NullString
		createdAt, updatedAt string
	)
	err := rows.Scan(&s.ID, &s.WorkspaceID, &s.BucketType, &leaves, &s.Recurrence, &frequency,
		&s.AnchorDayOfMonth, &next, &last, &history, &s.Enabled, &s.CreatedBy,
		&createdAt, &updatedAt)
	if err != nil {
		return s, fmt.Errorf("failed to scan setting: %w", err)
	}
	s.NumberOfLeaves = parseDecimal(leaves)
	s.Frequency = generic.Frequency(frequency.String)
	s.NextExecutionDate = parseTimePtr(next)
	s.LastExecutionDate = parseTimePtr(last)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(history), &s.ExecutionHistory); err != nil {
		return s, fmt.Errorf("failed to decode execution history: %w", err)
	}
	return s, nil
}

// =============================================================================
// MONTHLY REPORTS
// =============================================================================

const reportColumns = `id, workspace_id, year, month, status, working_days, ideal_hours,
	per_user_json, deductions_json, error, created_by, created_at, completed_at`

func reportArgs(r generic.MonthlyReport) []any {
	perUser, _ := json.Marshal(r.PerUser)
	deductions, _ := json.Marshal(r.Deductions)
	return []any{
		r.ID, r.WorkspaceID, r.Year, int(r.Month), r.Status, r.WorkingDays, r.IdealHours.String(),
		string(perUser), string(deductions), nullString(r.Error), r.CreatedBy,
		formatTime(r.CreatedAt), formatTimePtr(r.CompletedAt),
	}
}

const reportUpsert = `
	ON CONFLICT(workspace_id, year, month) DO UPDATE SET
		id = excluded.id,
		status = excluded.status,
		working_days = excluded.working_days,
		ideal_hours = excluded.ideal_hours,
		per_user_json = excluded.per_user_json,
		deductions_json = excluded.deductions_json,
		error = excluded.error,
		created_by = excluded.created_by,
		created_at = excluded.created_at,
		completed_at = excluded.completed_at`

// ClaimReport inserts the running report, taking over the slot only when the
// previous attempt failed. The conditional upsert is a single statement, so
// two concurrent claims cannot both succeed.
func (q *queries) ClaimReport(ctx context.Context, r generic.MonthlyReport) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO monthly_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`+reportUpsert+`
		WHERE monthly_reports.status = 'failed'
	`, reportArgs(r)...)
	if err != nil {
		return mapErr(fmt.Errorf("failed to claim report: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrReportExists
	}
	return nil
}

func (q *queries) SaveReport(ctx context.Context, r generic.MonthlyReport) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO monthly_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`+reportUpsert, reportArgs(r)...)
	if err != nil {
		return mapErr(fmt.Errorf("failed to save report: %w", err))
	}
	return nil
}

func (q *queries) GetReport(ctx context.Context, ws generic.WorkspaceID, year int, month time.Month) (*generic.MonthlyReport, error) {
	var (
		r                         generic.MonthlyReport
		m                         int
		idealHours, perUser, deds string
		errMsg, completedAt       sql.NullString
		createdAt                 string
	)
	err := q.q.QueryRowContext(ctx, "SELECT "+reportColumns+`
		FROM monthly_reports WHERE workspace_id = ? AND year = ? AND month = ?
	`, ws, year, int(month)).Scan(&r.ID, &r.WorkspaceID, &r.Year, &m, &r.Status, &r.WorkingDays,
		&idealHours, &perUser, &deds, &errMsg, &r.CreatedBy, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrReportNotFound
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to get report: %w", err))
	}
	r.Month = time.Month(m)
	r.IdealHours = parseDecimal(idealHours)
	r.Error = errMsg.String
	r.CreatedAt = parseTime(createdAt)
	r.CompletedAt = parseTimePtr(completedAt)
	if err := json.Unmarshal([]byte(perUser), &r.PerUser); err != nil {
		return nil, fmt.Errorf("failed to decode per-user report: %w", err)
	}
	if err := json.Unmarshal([]byte(deds), &r.Deductions); err != nil {
		return nil, fmt.Errorf("failed to decode deductions: %w", err)
	}
	return &r, nil
}
