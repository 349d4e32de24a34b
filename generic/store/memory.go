// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a TxStore kept in process memory. Every method takes the lock;
// WithTx holds it for the whole callback and restores a snapshot on error.
type Memory struct {
	mu sync.Mutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type reportKey struct {
	WorkspaceID generic.WorkspaceID
	Year        int
	Month       time.Month
}

// state holds the data and implements generic.Store without locking. The
// transactional view handed to WithTx callbacks is the state itself.
type state struct {
	accounts  map[generic.AccountKey]generic.Account
	audit     []generic.AuditEntry
	auditKeys map[string]bool
	requests  map[string]generic.LeaveRequest
	settings  map[string]generic.AutoAccrualSetting
	reports   map[reportKey]generic.MonthlyReport
	members   map[generic.AccountKey]generic.Membership
	rules     map[string]generic.WorkingRule
	holidays  map[string]generic.Holiday
	entries   []generic.TimeEntry
}

func newState() *state {
	return &state{
		accounts:  make(map[generic.AccountKey]generic.Account),
		auditKeys: make(map[string]bool),
		requests:  make(map[string]generic.LeaveRequest),
		settings:  make(map[string]generic.AutoAccrualSetting),
		reports:   make(map[reportKey]generic.MonthlyReport),
		members:   make(map[generic.AccountKey]generic.Membership),
		rules:     make(map[string]generic.WorkingRule),
		holidays:  make(map[string]generic.Holiday),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v.Clone()
	}
	c.audit = append([]generic.AuditEntry(nil), s.audit...)
	for k, v := range s.auditKeys {
		c.auditKeys[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v.Clone()
	}
	for k, v := range s.settings {
		c.settings[k] = v.Clone()
	}
	for k, v := range s.reports {
		c.reports[k] = v.Clone()
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v.Clone()
	}
	for k, v := range s.holidays {
		c.holidays[k] = v
	}
	c.entries = append([]generic.TimeEntry(nil), s.entries...)
	return c
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, key generic.AccountKey) (*generic.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetAccount(ctx, key)
}

func (m *Memory) SaveAccount(ctx context.Context, acct *generic.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveAccount(ctx, acct)
}

func (m *Memory) ListAccounts(ctx context.Context, ws generic.WorkspaceID) ([]generic.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListAccounts(ctx, ws)
}

func (m *Memory) AppendAudit(ctx context.Context, entries ...generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, entries...)
}

func (m *Memory) AuditKeyExists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AuditKeyExists(ctx, key)
}

func (m *Memory) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.QueryAudit(ctx, f)
}

func (m *Memory) SaveRequest(ctx context.Context, r generic.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveRequest(ctx, r)
}

func (m *Memory) GetRequest(ctx context.Context, id string) (*generic.LeaveRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetRequest(ctx, id)
}

func (m *Memory) DeleteRequest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteRequest(ctx, id)
}

func (m *Memory) ListRequests(ctx context.Context, f generic.RequestFilter) ([]generic.LeaveRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListRequests(ctx, f)
}

func (m *Memory) SaveSetting(ctx context.Context, s generic.AutoAccrualSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSetting(ctx, s)
}

func (m *Memory) GetSetting(ctx context.Context, id string) (*generic.AutoAccrualSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetSetting(ctx, id)
}

func (m *Memory) DeleteSetting(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteSetting(ctx, id)
}

func (m *Memory) ListSettings(ctx context.Context, f generic.SettingFilter) ([]generic.AutoAccrualSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListSettings(ctx, f)
}

func (m *Memory) ClaimReport(ctx context.Context, r generic.MonthlyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ClaimReport(ctx, r)
}

func (m *Memory) SaveReport(ctx context.Context, r generic.MonthlyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveReport(ctx, r)
}

func (m *Memory) GetReport(ctx context.Context, ws generic.WorkspaceID, year int, month time.Month) (*generic.MonthlyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetReport(ctx, ws, year, month)
}

func (m *Memory) SaveMembership(ctx context.Context, mb generic.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveMembership(ctx, mb)
}

func (m *Memory) GetMembership(ctx context.Context, ws generic.WorkspaceID, user generic.UserID) (*generic.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetMembership(ctx, ws, user)
}

func (m *Memory) ListMembers(ctx context.Context, ws generic.WorkspaceID) ([]generic.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListMembers(ctx, ws)
}

func (m *Memory) SaveWorkingRule(ctx context.Context, r generic.WorkingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveWorkingRule(ctx, r)
}

func (m *Memory) ActiveWorkingRule(ctx context.Context, ws generic.WorkspaceID) (*generic.WorkingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ActiveWorkingRule(ctx, ws)
}

func (m *Memory) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveHoliday(ctx, h)
}

func (m *Memory) HolidaysInRange(ctx context.Context, ws generic.WorkspaceID, p generic.Period) ([]generic.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.HolidaysInRange(ctx, ws, p)
}

func (m *Memory) AddTimeEntry(ctx context.Context, e generic.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AddTimeEntry(ctx, e)
}

func (m *Memory) DailyTotals(ctx context.Context, ws generic.WorkspaceID, user generic.UserID, p generic.Period) ([]generic.DailyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DailyTotals(ctx, ws, user, p)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *state) GetAccount(_ context.Context, key generic.AccountKey) (*generic.Account, error) {
	a, ok := s.accounts[key]
	if !ok {
		return nil, generic.ErrAccountNotFound
	}
	c := a.Clone()
	return &c, nil
}

func (s *state) SaveAccount(_ context.Context, acct *generic.Account) error {
	stored, ok := s.accounts[acct.Key()]
	if ok && stored.Version != acct.Version {
		return generic.ErrConcurrentModification
	}
	if !ok && acct.Version != 0 {
		return generic.ErrConcurrentModification
	}
	acct.Version++
	s.accounts[acct.Key()] = acct.Clone()
	return nil
}

func (s *state) ListAccounts(_ context.Context, ws generic.WorkspaceID) ([]generic.Account, error) {
	var out []generic.Account
	for k, a := range s.accounts {
		if k.WorkspaceID == ws {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *state) AppendAudit(_ context.Context, entries ...generic.AuditEntry) error {
	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if s.auditKeys[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}
	for _, e := range entries {
		s.audit = append(s.audit, e)
		if e.IdempotencyKey != "" {
			s.auditKeys[e.IdempotencyKey] = true
		}
	}
	return nil
}

func (s *state) AuditKeyExists(_ context.Context, key string) (bool, error) {
	return s.auditKeys[key], nil
}

func (s *state) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *state) SaveRequest(_ context.Context, r generic.LeaveRequest) error {
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *state) GetRequest(_ context.Context, id string) (*generic.LeaveRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, generic.ErrRequestNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *state) DeleteRequest(_ context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return generic.ErrRequestNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *state) ListRequests(_ context.Context, f generic.RequestFilter) ([]generic.LeaveRequest, error) {
	var out []generic.LeaveRequest
	for _, r := range s.requests {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *state) SaveSetting(_ context.Context, st generic.AutoAccrualSetting) error {
	if st.Enabled {
		for id, other := range s.settings {
			if id != st.ID && other.WorkspaceID == st.WorkspaceID && other.Enabled {
				return generic.ErrSettingConflict
			}
		}
	}
	s.settings[st.ID] = st.Clone()
	return nil
}

func (s *state) GetSetting(_ context.Context, id string) (*generic.AutoAccrualSetting, error) {
	st, ok := s.settings[id]
	if !ok {
		return nil, generic.ErrSettingNotFound
	}
	c := st.Clone()
	return &c, nil
}

func (s *state) DeleteSetting(_ context.Context, id string) error {
	if _, ok := s.settings[id]; !ok {
		return generic.ErrSettingNotFound
	}
	delete(s.settings, id)
	return nil
}

func (s *state) ListSettings(_ context.Context, f generic.SettingFilter) ([]generic.AutoAccrualSetting, error) {
	var out []generic.AutoAccrualSetting
	for _, st := range s.settings {
		if f.Matches(st) {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// REPORTS
// =============================================================================

func keyOf(r generic.MonthlyReport) reportKey {
	return reportKey{WorkspaceID: r.WorkspaceID, Year: r.Year, Month: r.Month}
}

func (s *state) ClaimReport(_ context.Context, r generic.MonthlyReport) error {
	if existing, ok := s.reports[keyOf(r)]; ok && existing.Status != generic.ReportFailed {
		return generic.ErrReportExists
	}
	s.reports[keyOf(r)] = r.Clone()
	return nil
}

func (s *state) SaveReport(_ context.Context, r generic.MonthlyReport) error {
	s.reports[keyOf(r)] = r.Clone()
	return nil
}

func (s *state) GetReport(_ context.Context, ws generic.WorkspaceID, year int, month time.Month) (*generic.MonthlyReport, error) {
	r, ok := s.reports[reportKey{WorkspaceID: ws, Year: year, Month: month}]
	if !ok {
		return nil, generic.ErrReportNotFound
	}
	c := r.Clone()
	return &c, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *state) SaveMembership(_ context.Context, m generic.Membership) error {
	s.members[generic.AccountKey{WorkspaceID: m.WorkspaceID, UserID: m.UserID}] = m
	return nil
}

func (s *state) GetMembership(_ context.Context, ws generic.WorkspaceID, user generic.UserID) (*generic.Membership, error) {
	m, ok := s.members[generic.AccountKey{WorkspaceID: ws, UserID: user}]
	if !ok {
		return nil, generic.ErrMemberNotFound
	}
	return &m, nil
}

func (s *state) ListMembers(_ context.Context, ws generic.WorkspaceID) ([]generic.Membership, error) {
	var out []generic.Membership
	for k, m := range s.members {
		if k.WorkspaceID == ws {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *state) SaveWorkingRule(_ context.Context, r generic.WorkingRule) error {
	if r.IsActive {
		for id, other := range s.rules {
			if id != r.ID && other.WorkspaceID == r.WorkspaceID {
				other.IsActive = false
				s.rules[id] = other
			}
		}
	}
	s.rules[r.ID] = r.Clone()
	return nil
}

func (s *state) ActiveWorkingRule(_ context.Context, ws generic.WorkspaceID) (*generic.WorkingRule, error) {
	for _, r := range s.rules {
		if r.WorkspaceID == ws && r.IsActive {
			c := r.Clone()
			return &c, nil
		}
	}
	return nil, generic.ErrNoWorkingRule
}

func (s *state) SaveHoliday(_ context.Context, h generic.Holiday) error {
	s.holidays[h.ID] = h
	return nil
}

func (s *state) HolidaysInRange(_ context.Context, ws generic.WorkspaceID, p generic.Period) ([]generic.Holiday, error) {
	var out []generic.Holiday
	for _, h := range s.holidays {
		if h.WorkspaceID == ws && p.Contains(h.Date) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *state) AddTimeEntry(_ context.Context, e generic.TimeEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *state) DailyTotals(_ context.Context, ws generic.WorkspaceID, user generic.UserID, p generic.Period) ([]generic.DailyTotal, error) {
	totals := make(map[generic.Date]int64)
	for _, e := range s.entries {
		d := generic.DateOf(e.Start)
		if e.WorkspaceID == ws && e.UserID == user && p.Contains(d) {
			totals[d] += e.DurationInSeconds
		}
	}
	out := make([]generic.DailyTotal, 0, len(totals))
	for d, sec := range totals {
		out = append(out, generic.DailyTotal{Date: d, Seconds: sec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

var (
	_ generic.TxStore = (*Memory)(nil)
	_ generic.Store   = (*state)(nil)
)
