/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes the leave request flow, balances, accrual settings and monthly
  reconciliation over REST. Handles HTTP request/response, JSON
  serialization, and delegates to the domain services.

ENDPOINTS:
  Leave requests:
    POST   /api/workspaces/{ws}/requests          Create (reserve) a request
    GET    /api/workspaces/{ws}/requests          List requests
    GET    /api/requests/{id}                     Get request
    PUT    /api/requests/{id}                     Update a pending request
    DELETE /api/requests/{id}                     Delete a pending request
    POST   /api/requests/{id}/approve             Approve
    POST   /api/requests/{id}/reject              Reject

  Balances:
    GET    /api/workspaces/{ws}/users/{user}/balance
    GET    /api/workspaces/{ws}/users/{user}/audit
    PUT    /api/workspaces/{ws}/users/{user}/buckets/{type}        Admin set value
    POST   /api/workspaces/{ws}/users/{user}/buckets/{type}/grant  Admin grant

  Accruals:
    GET    /api/workspaces/{ws}/accruals
    POST   /api/workspaces/{ws}/accruals
    PUT    /api/accruals/{id}
    DELETE /api/accruals/{id}
    POST   /api/accruals/{id}/enable
    POST   /api/accruals/{id}/disable

  Reconciliation:
    POST   /api/workspaces/{ws}/reconciliations
    GET    /api/workspaces/{ws}/reports/{year}/{month}

  Collaborator feeds:
    GET|PUT /api/workspaces/{ws}/members[/{user}]
    PUT     /api/workspaces/{ws}/working-rule
    GET|POST /api/workspaces/{ws}/holidays
    POST    /api/workspaces/{ws}/time-entries

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (second enabled setting, month already reconciled,
         duplicate idempotency key, request no longer pending)
  - 422: Rejected leave request, or a state precondition not met
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The acting user is taken from the
  request body as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo workspace loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/accrual"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/reconcile"
	"github.com/warp/leave-ledger/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services are the domain services the handlers delegate to.
type Services struct {
	Requests   *timeoff.RequestService
	Accruals   *accrual.Scheduler
	Reconciler *reconcile.Engine
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  generic.TxStore
	Ledger *generic.Ledger
	Services
	Logger *zap.Logger
	NewID  func() string

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(store generic.TxStore, ledger *generic.Ledger, svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Ledger:   ledger,
		Services: svc,
		Logger:   logger,
		NewID:    uuid.NewString,
	}
}

func workspaceParam(r *http.Request) generic.WorkspaceID {
	return generic.WorkspaceID(chi.URLParam(r, "ws"))
}

func accountParam(r *http.Request) generic.AccountKey {
	return generic.AccountKey{
		WorkspaceID: workspaceParam(r),
		UserID:      generic.UserID(chi.URLParam(r, "user")),
	}
}

// =============================================================================
// LEAVE REQUEST HANDLERS
// =============================================================================

// CreateRequest resolves and reserves a new leave request.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body LeaveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.UserID == "" || body.Type == "" {
		writeError(w, http.StatusBadRequest, "userId and type are required", nil)
		return
	}
	in, err := body.input(workspaceParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		writeError(w, http.StatusBadRequest, "startDate and endDate are required", nil)
		return
	}

	req, rejection, err := h.Requests.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to create request", err)
		return
	}
	if rejection != nil {
		writeRejection(w, rejection)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListRequests lists a workspace's requests, optionally by user and status.
// GET /api/workspaces/{ws}/requests?user=alice&status=pending
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := generic.RequestFilter{
		WorkspaceID: workspaceParam(r),
		UserID:      generic.UserID(r.URL.Query().Get("user")),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		for _, st := range strings.Split(s, ",") {
			filter.Statuses = append(filter.Statuses, generic.RequestStatus(st))
		}
	}
	reqs, err := h.Requests.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list requests", err)
		return
	}
	if reqs == nil {
		reqs = []generic.LeaveRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// UpdateRequest changes a pending request. Omitted fields keep their value.
func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var body LeaveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := body.input("")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	req, rejection, err := h.Requests.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "Failed to update request", err)
		return
	}
	if rejection != nil {
		writeRejection(w, rejection)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteRequest reverses and removes a pending request.
// DELETE /api/requests/{id}?actor=alice
func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Requests.Delete(r.Context(), id, r.URL.Query().Get("actor")); err != nil {
		h.fail(w, "Failed to delete request", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Requests.Approve)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Requests.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id, actor string) (*generic.LeaveRequest, error)) {
	var body DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required", nil)
		return
	}
	req, err := op(r.Context(), chi.URLParam(r, "id"), body.Actor)
	if err != nil {
		h.fail(w, "Failed to decide request", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (b LeaveRequestBody) input(ws generic.WorkspaceID) (timeoff.RequestInput, error) {
	in := timeoff.RequestInput{
		WorkspaceID: ws,
		UserID:      generic.UserID(b.UserID),
		Type:        generic.BucketType(b.Type),
		Reason:      b.Reason,
		Actor:       b.Actor,
	}
	var err error
	if b.StartDate != "" {
		if in.StartDate, err = generic.ParseDate(b.StartDate); err != nil {
			return in, err
		}
	}
	if b.EndDate != "" {
		if in.EndDate, err = generic.ParseDate(b.EndDate); err != nil {
			return in, err
		}
	}
	for _, s := range b.HalfDays {
		d, err := generic.ParseDate(s)
		if err != nil {
			return in, err
		}
		in.HalfDays = append(in.HalfDays, d)
	}
	return in, nil
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns a member's buckets. A member without an account yet has
// no buckets.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key := accountParam(r)
	resp := BalanceResponse{
		WorkspaceID: string(key.WorkspaceID),
		UserID:      string(key.UserID),
		Buckets:     []generic.Bucket{},
	}
	acct, err := h.Store.GetAccount(r.Context(), key)
	switch {
	case err == nil:
		resp.Buckets = acct.Buckets
		resp.Version = int64(acct.Version)
	case !errors.Is(err, generic.ErrAccountNotFound):
		h.fail(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListBalances returns every account of the workspace, ordered by user.
// GET /api/workspaces/{ws}/balances
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context(), workspaceParam(r))
	if err != nil {
		h.fail(w, "Failed to list balances", err)
		return
	}
	resp := make([]BalanceResponse, 0, len(accounts))
	for _, acct := range accounts {
		resp = append(resp, BalanceResponse{
			WorkspaceID: string(acct.WorkspaceID),
			UserID:      string(acct.UserID),
			Buckets:     acct.Buckets,
			Version:     int64(acct.Version),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAudit returns a member's audit trail.
// GET /api/workspaces/{ws}/users/{user}/audit?bucket=casual
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	key := accountParam(r)
	entries, err := h.Store.QueryAudit(r.Context(), generic.AuditFilter{
		WorkspaceID: key.WorkspaceID,
		UserID:      key.UserID,
		BucketType:  generic.BucketType(r.URL.Query().Get("bucket")),
	})
	if err != nil {
		h.fail(w, "Failed to get audit trail", err)
		return
	}
	if entries == nil {
		entries = []generic.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// SetBucket is the admin manual update of a bucket's value.
func (h *Handler) SetBucket(w http.ResponseWriter, r *http.Request) {
	var body SetBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	key := accountParam(r)
	bt := generic.BucketType(chi.URLParam(r, "type"))

	var entry generic.AuditEntry
	err := generic.WithRetry(r.Context(), h.Store, 0, func(tx generic.Store) error {
		var err error
		entry, err = h.Ledger.SetValue(r.Context(), tx, key, bt, body.Value, body.Actor)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to update bucket", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GrantBucket adds days to a bucket, creating it if needed.
func (h *Handler) GrantBucket(w http.ResponseWriter, r *http.Request) {
	var body GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	key := accountParam(r)
	mv := generic.Movement{
		Type:           generic.BucketType(chi.URLParam(r, "type")),
		Amount:         body.Amount,
		Title:          body.Title,
		Action:         generic.AuditAddedByAdmin,
		Actor:          body.Actor,
		IdempotencyKey: body.IdempotencyKey,
	}

	var entry generic.AuditEntry
	err := generic.WithRetry(r.Context(), h.Store, 0, func(tx generic.Store) error {
		var err error
		entry, err = h.Ledger.Grant(r.Context(), tx, key, mv)
		return err
	})
	if err != nil {
		h.fail(w, "Failed to grant", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

func (h *Handler) ListAccruals(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Accruals.List(r.Context(), generic.SettingFilter{WorkspaceID: workspaceParam(r)})
	if err != nil {
		h.fail(w, "Failed to list accrual settings", err)
		return
	}
	if settings == nil {
		settings = []generic.AutoAccrualSetting{}
	}
	writeJSON(w, http.StatusOK, settings)
}

// CreateAccrual stores a new setting and enables it when asked to.
func (h *Handler) CreateAccrual(w http.ResponseWriter, r *http.Request) {
	var body AccrualSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := body.input(workspaceParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid executionDate (use YYYY-MM-DD)", err)
		return
	}

	setting, err := h.Accruals.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to create accrual setting", err)
		return
	}
	if body.Enabled {
		if setting, err = h.Accruals.Enable(r.Context(), setting.ID, nil); err != nil {
			h.fail(w, "Accrual setting created but could not be enabled", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, setting)
}

func (h *Handler) UpdateAccrual(w http.ResponseWriter, r *http.Request) {
	var body AccrualSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := body.input("")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid executionDate (use YYYY-MM-DD)", err)
		return
	}
	setting, err := h.Accruals.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, "Failed to update accrual setting", err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (h *Handler) DeleteAccrual(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Accruals.Delete(r.Context(), id); err != nil {
		h.fail(w, "Failed to delete accrual setting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// EnableAccrual enables a setting. The body is optional.
func (h *Handler) EnableAccrual(w http.ResponseWriter, r *http.Request) {
	var body EnableRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var override *time.Time
	if body.Override != "" {
		t, err := parseInstant(body.Override, h.Accruals.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid override (use RFC 3339 or YYYY-MM-DD)", err)
			return
		}
		override = &t
	}
	setting, err := h.Accruals.Enable(r.Context(), chi.URLParam(r, "id"), override)
	if err != nil {
		h.fail(w, "Failed to enable accrual setting", err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (h *Handler) DisableAccrual(w http.ResponseWriter, r *http.Request) {
	setting, err := h.Accruals.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to disable accrual setting", err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (b AccrualSettingRequest) input(ws generic.WorkspaceID) (accrual.SettingInput, error) {
	in := accrual.SettingInput{
		WorkspaceID:      ws,
		BucketType:       generic.BucketType(b.BucketType),
		NumberOfLeaves:   b.NumberOfLeaves,
		Recurrence:       generic.Recurrence(b.Recurrence),
		Frequency:        generic.Frequency(b.Frequency),
		AnchorDayOfMonth: b.AnchorDayOfMonth,
		Actor:            b.Actor,
	}
	if b.ExecutionDate != "" {
		t, err := parseInstant(b.ExecutionDate, time.UTC)
		if err != nil {
			return in, err
		}
		in.ExecutionDate = &t
	}
	return in, nil
}

// parseInstant accepts RFC 3339 or a bare date, which means midnight in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := generic.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return d.At(loc), nil
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation reconciles one month. A month can be reconciled once.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var body ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	report, err := h.Reconciler.Run(r.Context(), reconcile.RunInput{
		WorkspaceID: workspaceParam(r),
		Year:        body.Year,
		Month:       time.Month(body.Month),
		Actor:       body.Actor,
	})
	if err != nil {
		h.fail(w, "Failed to reconcile month", err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	report, err := h.Reconciler.Report(r.Context(), workspaceParam(r), year, time.Month(month))
	if err != nil {
		h.fail(w, "Failed to get report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// COLLABORATOR FEEDS
// =============================================================================

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context(), workspaceParam(r))
	if err != nil {
		h.fail(w, "Failed to list members", err)
		return
	}
	if members == nil {
		members = []generic.Membership{}
	}
	writeJSON(w, http.StatusOK, members)
}

// PutMember creates or updates a membership.
func (h *Handler) PutMember(w http.ResponseWriter, r *http.Request) {
	var body MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status := generic.MemberStatus(body.Status)
	switch status {
	case "":
		status = generic.MemberActive
	case generic.MemberActive, generic.MemberInactive:
	default:
		writeError(w, http.StatusBadRequest, "status must be active or inactive", nil)
		return
	}

	key := accountParam(r)
	m := generic.Membership{
		WorkspaceID: key.WorkspaceID,
		UserID:      key.UserID,
		Role:        body.Role,
		Status:      status,
		Deleted:     body.Deleted,
		JoinedAt:    h.Ledger.Clock.Now(),
	}
	if existing, err := h.Store.GetMembership(r.Context(), key.WorkspaceID, key.UserID); err == nil {
		m.JoinedAt = existing.JoinedAt
	}
	if m.Role == "" {
		m.Role = "member"
	}
	if err := h.Store.SaveMembership(r.Context(), m); err != nil {
		h.fail(w, "Failed to save membership", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PutWorkingRule replaces the active working rule of a workspace.
func (h *Handler) PutWorkingRule(w http.ResponseWriter, r *http.Request) {
	var body WorkingRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !body.WorkingHours.IsPositive() || body.WorkingHours.GreaterThan(decimal.NewFromInt(24)) {
		writeError(w, http.StatusBadRequest, "workingHours must be between 0 and 24", nil)
		return
	}
	days, err := parseWeekdays(body.WeekDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid weekDays", err)
		return
	}

	rule := generic.WorkingRule{
		ID:           h.NewID(),
		WorkspaceID:  workspaceParam(r),
		WorkingHours: body.WorkingHours,
		WeekDays:     days,
		IsActive:     true,
	}
	if err := h.Store.SaveWorkingRule(r.Context(), rule); err != nil {
		h.fail(w, "Failed to save working rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ListHolidays returns the holidays of a workspace in a range.
// GET /api/workspaces/{ws}/holidays?from=2025-01-01&to=2025-12-31
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	today := generic.Today(h.Ledger.Clock, nil)
	p := generic.Period{
		Start: generic.NewDate(today.Year(), time.January, 1),
		End:   generic.NewDate(today.Year(), time.December, 31),
	}
	var err error
	if s := r.URL.Query().Get("from"); s != "" {
		if p.Start, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if p.End, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
	}
	holidays, err := h.Store.HolidaysInRange(r.Context(), workspaceParam(r), p)
	if err != nil {
		h.fail(w, "Failed to get holidays", err)
		return
	}
	if holidays == nil {
		holidays = []generic.Holiday{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": holidays})
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var body HolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.Date == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := generic.ParseDate(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	ht := generic.HolidayType(body.Type)
	switch ht {
	case "":
		ht = generic.HolidayGazetted
	case generic.HolidayGazetted, generic.HolidayRestricted, generic.HolidayOptional:
	default:
		writeError(w, http.StatusBadRequest, "type must be gazetted, restricted or optional", nil)
		return
	}

	hol := generic.Holiday{
		ID:          h.NewID(),
		WorkspaceID: workspaceParam(r),
		Date:        date,
		Name:        body.Name,
		Type:        ht,
	}
	if err := h.Store.SaveHoliday(r.Context(), hol); err != nil {
		h.fail(w, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, hol)
}

func (h *Handler) AddTimeEntry(w http.ResponseWriter, r *http.Request) {
	var body TimeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := time.Parse(time.RFC3339, body.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start (use RFC 3339)", err)
		return
	}
	if body.UserID == "" || body.DurationInSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "userId and a positive durationInSeconds are required", nil)
		return
	}

	entry := generic.TimeEntry{
		ID:                h.NewID(),
		WorkspaceID:       workspaceParam(r),
		UserID:            generic.UserID(body.UserID),
		Start:             start,
		DurationInSeconds: body.DurationInSeconds,
	}
	if err := h.Store.AddTimeEntry(r.Context(), entry); err != nil {
		h.fail(w, "Failed to add time entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one week day is required")
	}
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(d.String(), n) {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New("unknown week day " + strconv.Quote(n))
		}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeRejection(w http.ResponseWriter, rej *timeoff.Rejection) {
	writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
		Rejected: true,
		Code:     rej.Code,
		Message:  rej.Message,
	})
}

// fail maps a service error to its status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrSettingConflict),
		errors.Is(err, generic.ErrReportExists),
		errors.Is(err, generic.ErrDuplicateIdempotencyKey),
		errors.Is(err, generic.ErrRequestNotPending),
		errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, generic.ErrInvalidSetting),
		errors.Is(err, generic.ErrInvalidAmount),
		errors.Is(err, generic.ErrInvalidPeriod),
		errors.Is(err, reconcile.ErrInvalidMonth):
		return http.StatusBadRequest
	case generic.IsPrecondition(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
