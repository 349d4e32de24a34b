package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

func (q *queries) GetAccount(ctx context.Context, key generic.AccountKey) (*generic.Account, error) {
	var (
		acct      generic.Account
		updatedAt string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, version, updated_at
		FROM accounts WHERE workspace_id = ? AND user_id = ?
	`, key.WorkspaceID, key.UserID).Scan(&acct.ID, &acct.WorkspaceID, &acct.UserID, &acct.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to get account: %w", err))
	}
	acct.UpdatedAt = parseTime(updatedAt)

	buckets, err := q.loadBuckets(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	acct.Buckets = buckets
	return &acct, nil
}

func (q *queries) loadBuckets(ctx context.Context, accountID string) ([]generic.Bucket, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT type, title, value, consumed, is_active, is_paid
		FROM buckets WHERE account_id = ? ORDER BY position ASC
	`, accountID)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to query buckets: %w", err))
	}
	defer rows.Close()

	var buckets []generic.Bucket
	for rows.Next() {
		var (
			b               generic.Bucket
			value, consumed string
		)
		if err := rows.Scan(&b.Type, &b.Title, &value, &consumed, &b.IsActive, &b.IsPaid); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		b.Value = parseDecimal(value)
		b.Consumed = parseDecimal(consumed)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// SaveAccount inserts (Version 0) or compare-and-swaps the account row, then
// rewrites its buckets.
func (q *queries) SaveAccount(ctx context.Context, acct *generic.Account) error {
	if acct.Version == 0 {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO accounts (id, workspace_id, user_id, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
		`, acct.ID, acct.WorkspaceID, acct.UserID, formatTime(acct.UpdatedAt))
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
		if err != nil {
			return mapErr(fmt.Errorf("failed to insert account: %w", err))
		}
	} else {
		res, err := q.q.ExecContext(ctx, `
			UPDATE accounts SET version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, formatTime(acct.UpdatedAt), acct.ID, acct.Version)
		if err != nil {
			return mapErr(fmt.Errorf("failed to update account: %w", err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.ErrConcurrentModification
		}
	}

	if _, err := q.q.ExecContext(ctx, "DELETE FROM buckets WHERE account_id = ?", acct.ID); err != nil {
		return mapErr(fmt.Errorf("failed to clear buckets: %w", err))
	}
	for i, b := range acct.Buckets {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO buckets (account_id, type, title, value, consumed, is_active, is_paid, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, acct.ID, b.Type, b.Title, b.Value.String(), b.Consumed.String(), b.IsActive, b.IsPaid, i)
		if err != nil {
			return mapErr(fmt.Errorf("failed to save bucket %s: %w", b.Type, err))
		}
	}
	acct.Version++
	return nil
}

func (q *queries) ListAccounts(ctx context.Context, ws generic.WorkspaceID) ([]generic.Account, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, version, updated_at
		FROM accounts WHERE workspace_id = ? ORDER BY user_id ASC
	`, ws)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to list accounts: %w", err))
	}
	var accounts []generic.Account
	for rows.Next() {
		var (
			a         generic.Account
			updatedAt string
		)
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.UserID, &a.Version, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.UpdatedAt = parseTime(updatedAt)
		accounts = append(accounts, a)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		if accounts[i].Buckets, err = q.loadBuckets(ctx, accounts[i].ID); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, entries ...generic.AuditEntry) error {
	// Check for duplicate idempotency keys within the batch first
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO audit_entries
			(id, workspace_id, user_id, action, bucket_type, delta, previous_value, new_value,
			 acting_user, reference_id, idempotency_key, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, e.WorkspaceID, e.UserID, e.Action, e.BucketType,
			e.Delta.String(), e.PreviousValue.String(), e.NewValue.String(),
			e.ActingUser, nullString(e.ReferenceID), nullString(e.IdempotencyKey),
			formatTime(e.Timestamp),
		)
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return mapErr(fmt.Errorf("failed to append audit entry: %w", err))
		}
	}
	return nil
}

func (q *queries) AuditKeyExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, mapErr(err)
}

func (q *queries) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if f.WorkspaceID != "" {
		add("workspace_id = ?", f.WorkspaceID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.BucketType != "" {
		add("bucket_type = ?", f.BucketType)
	}
	if f.ReferenceID != "" {
		add("reference_id = ?", f.ReferenceID)
	}
	if f.From != nil {
		add("timestamp >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("timestamp <= ?", formatTime(*f.To))
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}

	query := `
		SELECT id, workspace_id, user_id, action, bucket_type, delta, previous_value, new_value,
		       acting_user, reference_id, idempotency_key, timestamp
		FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to query audit: %w", err))
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                     generic.AuditEntry
			delta, prev, next, ts string
			referenceID, idemKey  sql.NullString
		)
		err := rows.Scan(&e.ID, &e.WorkspaceID, &e.UserID, &e.Action, &e.BucketType,
			&delta, &prev, &next, &e.ActingUser, &referenceID, &idemKey, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Delta = parseDecimal(delta)
		e.PreviousValue = parseDecimal(prev)
		e.NewValue = parseDecimal(next)
		e.ReferenceID = referenceID.String
		e.IdempotencyKey = idemKey.String
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
