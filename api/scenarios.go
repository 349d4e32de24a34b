/*
scenarios.go - Demo workspace loaders for testing and demonstrations

PURPOSE:

	Provides pre-built workspaces that populate the store with realistic
	data for demos. Each scenario goes through the real services (ledger,
	request flow, scheduler), so loading one also exercises them.

AVAILABLE SCENARIOS:

	leave-split:      paid and unpaid requests split across overtime
	monthly-accrual:  an enabled monthly casual-leave accrual
	month-end:        last month's time entries, ready to reconcile

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create members and the working rule
 3. Seed balances through the ledger
 4. Create requests / settings / time entries

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "leave-split", "workspaceId": "demo"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/leave-ledger/accrual"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const defaultDemoWorkspace generic.WorkspaceID = "demo"

var scenarios = []ScenarioDTO{
	{
		ID:          "leave-split",
		Name:        "Leave Split",
		Description: "Casual leave topped up from overtime; unpaid leave drawing overtime first",
	},
	{
		ID:          "monthly-accrual",
		Name:        "Monthly Accrual",
		Description: "One casual day granted to every active member each month",
	},
	{
		ID:          "month-end",
		Name:        "Month End",
		Description: "Last month's time entries: one member with overtime, one short of hours",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context, ws generic.WorkspaceID) error{
	"leave-split":     (*Handler).loadLeaveSplitScenario,
	"monthly-accrual": (*Handler).loadMonthlyAccrualScenario,
	"month-end":       (*Handler).loadMonthEndScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	ws := generic.WorkspaceID(req.WorkspaceID)
	if ws == "" {
		ws = defaultDemoWorkspace
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, "Failed to reset store", err)
		return
	}
	if err := load(h, ctx, ws); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.String("workspace_id", string(ws)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.ScenarioID, "workspaceId": string(ws)})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resetter interface {
	Reset(ctx context.Context) error
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Store)
	}
	return rs.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadLeaveSplitScenario: alice holds 3 casual and 2 overtime days and asks
// for 4 casual days; bob holds 2 overtime days and asks for 5 unpaid days.
func (h *Handler) loadLeaveSplitScenario(ctx context.Context, ws generic.WorkspaceID) error {
	if err := h.seedWorkspace(ctx, ws, "alice", "bob"); err != nil {
		return err
	}
	grants := []struct {
		user generic.UserID
		t    generic.BucketType
		days float64
	}{
		{"alice", generic.BucketCasual, 3},
		{"alice", generic.BucketOvertime, 2},
		{"alice", generic.BucketSick, 5},
		{"bob", generic.BucketOvertime, 2},
		{"bob", generic.BucketCasual, 1},
	}
	for _, g := range grants {
		if err := h.seedGrant(ctx, ws, g.user, g.t, g.days); err != nil {
			return err
		}
	}

	monday := nextMonday(generic.Today(h.Ledger.Clock, nil))
	requests := []timeoff.RequestInput{
		{UserID: "alice", Type: generic.BucketCasual, StartDate: monday, EndDate: monday.AddDays(3), Reason: "Family trip"},
		{UserID: "bob", Type: generic.BucketLeaveWithoutPay, StartDate: monday.AddDays(7), EndDate: monday.AddDays(11), Reason: "Personal"},
	}
	for _, in := range requests {
		in.WorkspaceID = ws
		_, rej, err := h.Requests.Create(ctx, in)
		if err != nil {
			return err
		}
		if rej != nil {
			return fmt.Errorf("scenario request for %s rejected: %s", in.UserID, rej.Message)
		}
	}
	return nil
}

// loadMonthlyAccrualScenario enables a repeating one-day casual grant on the
// first of every month.
func (h *Handler) loadMonthlyAccrualScenario(ctx context.Context, ws generic.WorkspaceID) error {
	if err := h.seedWorkspace(ctx, ws, "alice", "bob", "carol"); err != nil {
		return err
	}
	setting, err := h.Accruals.Create(ctx, accrual.SettingInput{
		WorkspaceID:      ws,
		BucketType:       generic.BucketCasual,
		NumberOfLeaves:   generic.Days(1),
		Recurrence:       generic.RecurrenceRepeat,
		Frequency:        generic.FrequencyMonth,
		AnchorDayOfMonth: 1,
		Actor:            "admin",
	})
	if err != nil {
		return err
	}
	_, err = h.Accruals.Enable(ctx, setting.ID, nil)
	return err
}

// loadMonthEndScenario records last month's work: alice 9h on every working
// day, bob 6h.
func (h *Handler) loadMonthEndScenario(ctx context.Context, ws generic.WorkspaceID) error {
	if err := h.seedWorkspace(ctx, ws, "alice", "bob"); err != nil {
		return err
	}
	for _, u := range []generic.UserID{"alice", "bob"} {
		if err := h.seedGrant(ctx, ws, u, generic.BucketCasual, 6); err != nil {
			return err
		}
		if err := h.seedGrant(ctx, ws, u, generic.BucketOvertime, 1); err != nil {
			return err
		}
	}

	rule, err := h.Store.ActiveWorkingRule(ctx, ws)
	if err != nil {
		return err
	}
	today := generic.Today(h.Ledger.Clock, nil)
	last := generic.StartOfMonth(today.Year(), today.Month()).AddDays(-1)
	// alice also works the first two days off of the month
	hours := map[generic.UserID]int{"alice": 8, "bob": 6}
	extra := 2
	for _, d := range generic.MonthPeriod(last.Year(), last.Month()).Days() {
		if !rule.IsWorkingDay(d) {
			if extra > 0 {
				extra--
				if err := h.seedTimeEntry(ctx, ws, "alice", d, 8); err != nil {
					return err
				}
			}
			continue
		}
		for u, hrs := range hours {
			if err := h.seedTimeEntry(ctx, ws, u, d, hrs); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedTimeEntry(ctx context.Context, ws generic.WorkspaceID, u generic.UserID, d generic.Date, hours int) error {
	return h.Store.AddTimeEntry(ctx, generic.TimeEntry{
		ID:                h.NewID(),
		WorkspaceID:       ws,
		UserID:            u,
		Start:             d.Time.Add(9 * time.Hour),
		DurationInSeconds: int64(hours) * 3600,
	})
}

func (h *Handler) seedWorkspace(ctx context.Context, ws generic.WorkspaceID, users ...generic.UserID) error {
	now := h.Ledger.Clock.Now()
	for _, u := range users {
		err := h.Store.SaveMembership(ctx, generic.Membership{
			WorkspaceID: ws, UserID: u, Role: "member", Status: generic.MemberActive, JoinedAt: now,
		})
		if err != nil {
			return err
		}
	}
	err := h.Store.SaveWorkingRule(ctx, generic.WorkingRule{
		ID:           h.NewID(),
		WorkspaceID:  ws,
		WorkingHours: generic.Days(8),
		WeekDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		IsActive:     true,
	})
	if err != nil {
		return err
	}
	today := generic.Today(h.Ledger.Clock, nil)
	return h.Store.SaveHoliday(ctx, generic.Holiday{
		ID:          h.NewID(),
		WorkspaceID: ws,
		Date:        generic.NewDate(today.Year(), time.December, 25),
		Name:        "Christmas Day",
		Type:        generic.HolidayGazetted,
	})
}

func (h *Handler) seedGrant(ctx context.Context, ws generic.WorkspaceID, u generic.UserID, t generic.BucketType, days float64) error {
	key := generic.AccountKey{WorkspaceID: ws, UserID: u}
	return generic.WithRetry(ctx, h.Store, 0, func(tx generic.Store) error {
		_, err := h.Ledger.Grant(ctx, tx, key, generic.Movement{
			Type: t, Amount: generic.Days(days), Action: generic.AuditAddedByAdmin, Actor: "admin",
		})
		return err
	})
}

// nextMonday returns the Monday at least a week after d.
func nextMonday(d generic.Date) generic.Date {
	offset := (int(time.Monday) - int(d.Weekday()) + 7) % 7
	return d.AddDays(offset + 7)
}
