package timeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"go.uber.org/zap"
)

// =============================================================================
// REQUEST SERVICE - Handles request lifecycle with transactional guarantees
// =============================================================================

// RequestService runs every lifecycle operation as one transaction spanning
// the eligibility checks, resolution, ledger writes and the request write.
// Write conflicts re-run the whole transaction.
type RequestService struct {
	Store   generic.TxStore
	Ledger  *generic.Ledger
	Clock   generic.Clock
	Logger  *zap.Logger
	NewID   func() string
	Retries int
}

func NewRequestService(store generic.TxStore, ledger *generic.Ledger, logger *zap.Logger) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		Store:   store,
		Ledger:  ledger,
		Clock:   ledger.Clock,
		Logger:  logger,
		NewID:   uuid.NewString,
		Retries: generic.DefaultRetryAttempts,
	}
}

// RequestInput describes the leave asked for. Days in the range that are not
// working days of the active rule are skipped; HalfDays marks days taken as
// half days.
type RequestInput struct {
	WorkspaceID generic.WorkspaceID
	UserID      generic.UserID
	Type        generic.BucketType
	StartDate   generic.Date
	EndDate     generic.Date
	HalfDays    []generic.Date
	Reason      string
	Actor       string
}

// rejected aborts a transaction that already reversed a reservation.
type rejected struct{ r *Rejection }

func (e rejected) Error() string { return e.r.Message }

// =============================================================================
// CREATE
// =============================================================================

// Create resolves and reserves a new pending request. A *Rejection is a
// business outcome: nothing is written. Errors are preconditions or
// infrastructure failures.
func (rs *RequestService) Create(ctx context.Context, in RequestInput) (*generic.LeaveRequest, *Rejection, error) {
	var (
		created   *generic.LeaveRequest
		rejection *Rejection
	)
	err := generic.WithRetry(ctx, rs.Store, rs.Retries, func(tx generic.Store) error {
		created, rejection = nil, nil

		if err := checkMember(ctx, tx, in.WorkspaceID, in.UserID); err != nil {
			return err
		}
		details, res, err := rs.prepare(ctx, tx, in, "")
		if err != nil {
			return err
		}
		alloc, ok := res.(Allocation)
		if !ok {
			rejection = res.(*Rejection)
			return nil
		}

		now := rs.Clock.Now()
		req := generic.LeaveRequest{
			ID:           rs.NewID(),
			WorkspaceID:  in.WorkspaceID,
			UserID:       in.UserID,
			Type:         in.Type,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
			NumberOfDays: totalDays(details),
			DailyDetails: details,
			Status:       generic.RequestPending,
			Allocation:   alloc.Parts(),
			Reason:       in.Reason,
			CreatedBy:    actorOr(in.Actor, in.UserID),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		pending, err := rs.Ledger.Apply(ctx, tx, req.Key(), req.Allocation, req.CreatedBy, req.ID)
		if err != nil {
			return err
		}
		req.PendingData = pending
		if err := tx.SaveRequest(ctx, req); err != nil {
			return err
		}
		created = &req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if rejection != nil {
		rs.Logger.Info("leave request rejected",
			zap.String("workspace_id", string(in.WorkspaceID)),
			zap.String("user_id", string(in.UserID)),
			zap.String("code", string(rejection.Code)))
		return nil, rejection, nil
	}
	rs.Logger.Info("leave request created",
		zap.String("request_id", created.ID),
		zap.String("type", string(created.Type)),
		zap.String("days", created.NumberOfDays.String()))
	return created, nil, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update replaces a pending request's dates or type. The old reservation is
// reversed (action deleted) and the new one applied in the same transaction;
// if the new request is rejected nothing changes.
func (rs *RequestService) Update(ctx context.Context, id string, in RequestInput) (*generic.LeaveRequest, *Rejection, error) {
	var updated *generic.LeaveRequest
	err := generic.WithRetry(ctx, rs.Store, rs.Retries, func(tx generic.Store) error {
		updated = nil

		req, err := pendingRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		actor := actorOr(in.Actor, req.UserID)
		if err := rs.Ledger.Reverse(ctx, tx, req.Key(), req.PendingData, actor, req.ID, generic.AuditDeleted); err != nil {
			return err
		}

		in.WorkspaceID, in.UserID = req.WorkspaceID, req.UserID
		if in.Type == "" {
			in.Type = req.Type
		}
		if in.StartDate.IsZero() {
			in.StartDate = req.StartDate
		}
		if in.EndDate.IsZero() {
			in.EndDate = req.EndDate
		}
		details, res, err := rs.prepare(ctx, tx, in, req.ID)
		if err != nil {
			return err
		}
		alloc, ok := res.(Allocation)
		if !ok {
			return rejected{res.(*Rejection)}
		}

		pending, err := rs.Ledger.Apply(ctx, tx, req.Key(), alloc.Parts(), actor, req.ID)
		if err != nil {
			return err
		}
		req.Type = in.Type
		req.StartDate, req.EndDate = in.StartDate, in.EndDate
		req.DailyDetails = details
		req.NumberOfDays = totalDays(details)
		req.Allocation = alloc.Parts()
		req.PendingData = pending
		if in.Reason != "" {
			req.Reason = in.Reason
		}
		req.UpdatedAt = rs.Clock.Now()
		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		updated = req
		return nil
	})

	var rej rejected
	if errors.As(err, &rej) {
		return nil, rej.r, nil
	}
	if err != nil {
		return nil, nil, err
	}
	rs.Logger.Info("leave request updated", zap.String("request_id", id))
	return updated, nil, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve finalizes the reservation. Balances do not move.
func (rs *RequestService) Approve(ctx context.Context, id, actor string) (*generic.LeaveRequest, error) {
	return rs.decide(ctx, id, actor, generic.RequestApproved, func(tx generic.Store, req *generic.LeaveRequest) error {
		return rs.Ledger.Finalize(ctx, tx, req.Key(), req.PendingData, actor, req.ID)
	})
}

// Reject releases the reservation back to its buckets.
func (rs *RequestService) Reject(ctx context.Context, id, actor string) (*generic.LeaveRequest, error) {
	return rs.decide(ctx, id, actor, generic.RequestRejected, func(tx generic.Store, req *generic.LeaveRequest) error {
		return rs.Ledger.Reverse(ctx, tx, req.Key(), req.PendingData, actor, req.ID, generic.AuditRejected)
	})
}

func (rs *RequestService) decide(ctx context.Context, id, actor string, status generic.RequestStatus,
	ledgerOp func(generic.Store, *generic.LeaveRequest) error) (*generic.LeaveRequest, error) {
	var decided *generic.LeaveRequest
	err := generic.WithRetry(ctx, rs.Store, rs.Retries, func(tx generic.Store) error {
		req, err := pendingRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := ledgerOp(tx, req); err != nil {
			return err
		}
		now := rs.Clock.Now()
		req.Status = status
		req.PendingData = nil
		req.DecidedBy = actor
		req.DecidedAt = &now
		req.UpdatedAt = now
		if err := tx.SaveRequest(ctx, *req); err != nil {
			return err
		}
		decided = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	rs.Logger.Info("leave request decided", zap.String("request_id", id), zap.String("status", string(status)))
	return decided, nil
}

// Delete reverses a pending request and removes it.
func (rs *RequestService) Delete(ctx context.Context, id, actor string) error {
	err := generic.WithRetry(ctx, rs.Store, rs.Retries, func(tx generic.Store) error {
		req, err := pendingRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := rs.Ledger.Reverse(ctx, tx, req.Key(), req.PendingData, actor, req.ID, generic.AuditDeleted); err != nil {
			return err
		}
		return tx.DeleteRequest(ctx, id)
	})
	if err != nil {
		return err
	}
	rs.Logger.Info("leave request deleted", zap.String("request_id", id))
	return nil
}

func (rs *RequestService) Get(ctx context.Context, id string) (*generic.LeaveRequest, error) {
	return rs.Store.GetRequest(ctx, id)
}

func (rs *RequestService) List(ctx context.Context, filter generic.RequestFilter) ([]generic.LeaveRequest, error) {
	return rs.Store.ListRequests(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

// prepare derives the daily details, rejects overlaps with the member's
// live requests (other than skipID) and resolves against current buckets.
func (rs *RequestService) prepare(ctx context.Context, tx generic.Store, in RequestInput, skipID string) ([]generic.DailyDetail, Resolution, error) {
	period := generic.Period{Start: in.StartDate, End: in.EndDate}
	if in.StartDate.IsZero() || !period.Valid() {
		return nil, reject(RejectInvalidRequest, "invalid date range"), nil
	}

	rule, err := tx.ActiveWorkingRule(ctx, in.WorkspaceID)
	if err != nil && !errors.Is(err, generic.ErrNoWorkingRule) {
		return nil, nil, err
	}
	details := DailyDetails(period, rule, in.HalfDays)
	if len(details) == 0 {
		return nil, reject(RejectInvalidRequest, "no working days in range"), nil
	}

	live, err := tx.ListRequests(ctx, generic.RequestFilter{
		WorkspaceID: in.WorkspaceID,
		UserID:      in.UserID,
		Statuses:    []generic.RequestStatus{generic.RequestPending, generic.RequestApproved},
		Overlapping: &period,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, r := range live {
		if r.ID != skipID {
			return nil, reject(RejectOverlapping, fmt.Sprintf("overlaps request %s", r.ID)), nil
		}
	}

	holidays, err := tx.HolidaysInRange(ctx, in.WorkspaceID, period)
	if err != nil {
		return nil, nil, err
	}
	var buckets []generic.Bucket
	acct, err := tx.GetAccount(ctx, generic.AccountKey{WorkspaceID: in.WorkspaceID, UserID: in.UserID})
	switch {
	case err == nil:
		buckets = acct.Buckets
	case !errors.Is(err, generic.ErrAccountNotFound):
		return nil, nil, err
	}

	return details, Resolve(ResolveInput{
		Buckets:  buckets,
		Type:     in.Type,
		Start:    in.StartDate,
		End:      in.EndDate,
		Days:     totalDays(details),
		Holidays: onDays(holidays, details),
	}), nil
}

// DailyDetails lists the requested days: every day of p that is a working
// day of rule (every day when rule is nil), half days as marked.
func DailyDetails(p generic.Period, rule *generic.WorkingRule, halfDays []generic.Date) []generic.DailyDetail {
	half := make(map[generic.Date]bool, len(halfDays))
	for _, d := range halfDays {
		half[d] = true
	}
	var out []generic.DailyDetail
	for _, d := range p.Days() {
		if rule != nil && !rule.IsWorkingDay(d) {
			continue
		}
		dur := generic.DurationFull
		if half[d] {
			dur = generic.DurationHalf
		}
		out = append(out, generic.DailyDetail{Date: d, Duration: dur})
	}
	return out
}

func totalDays(details []generic.DailyDetail) decimal.Decimal {
	total := decimal.Zero
	for _, d := range details {
		total = total.Add(d.Duration.Days())
	}
	return total
}

// onDays keeps the holidays that fall on a requested day.
func onDays(holidays []generic.Holiday, details []generic.DailyDetail) []generic.Holiday {
	requested := make(map[generic.Date]bool, len(details))
	for _, d := range details {
		requested[d.Date] = true
	}
	var out []generic.Holiday
	for _, h := range holidays {
		if requested[h.Date] {
			out = append(out, h)
		}
	}
	return out
}

func checkMember(ctx context.Context, tx generic.Store, ws generic.WorkspaceID, user generic.UserID) error {
	m, err := tx.GetMembership(ctx, ws, user)
	if err != nil {
		return err
	}
	if !m.Eligible() {
		return fmt.Errorf("%s/%s: %w", ws, user, generic.ErrMemberInactive)
	}
	return nil
}

func pendingRequest(ctx context.Context, tx generic.Store, id string) (*generic.LeaveRequest, error) {
	req, err := tx.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != generic.RequestPending {
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, generic.ErrRequestNotPending)
	}
	return req, nil
}

func actorOr(actor string, user generic.UserID) string {
	if actor == "" {
		return string(user)
	}
	return actor
}
