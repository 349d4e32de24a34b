package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/generic"
	"go.uber.org/zap"
)

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler owns the auto-accrual settings and fires their grants.
//
// Timers are only a wake-up: every fire re-reads the setting from the Store
// and drops itself when the setting was disabled or rescheduled in the
// meantime. Start runs Recover once and then on every CheckInterval tick,
// which also retries fires that failed for some users.
type Scheduler struct {
	Store    generic.TxStore
	Ledger   *generic.Ledger
	Clock    generic.Clock
	Location *time.Location
	Timers   Timers
	Locker   Locker
	Logger   *zap.Logger
	NewID    func() string
	Retries  int

	CheckInterval time.Duration
	LockTTL       time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with in-process timers and locks.
func NewScheduler(store generic.TxStore, ledger *generic.Ledger, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Store:         store,
		Ledger:        ledger,
		Clock:         ledger.Clock,
		Location:      time.UTC,
		Timers:        NewLocalTimers(),
		Locker:        NewLocalLocker(),
		Logger:        logger,
		NewID:         uuid.NewString,
		Retries:       generic.DefaultRetryAttempts,
		CheckInterval: time.Hour,
		LockTTL:       5 * time.Minute,
	}
}

// SettingInput is the admin-editable part of a setting. ExecutionDate is the
// target of a one-time setting.
type SettingInput struct {
	WorkspaceID      generic.WorkspaceID
	BucketType       generic.BucketType
	NumberOfLeaves   decimal.Decimal
	Recurrence       generic.Recurrence
	Frequency        generic.Frequency
	AnchorDayOfMonth int
	ExecutionDate    *time.Time
	Actor            string
}

// FireResult summarizes one fire.
type FireResult struct {
	Granted int
	// Skipped counts members already granted by an earlier attempt of the
	// same fire.
	Skipped int
	Failed  []generic.UserID
	// Stale is set when the setting was disabled or rescheduled since the
	// timer was registered; nothing was granted.
	Stale bool
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Create persists a new, disabled setting.
func (s *Scheduler) Create(ctx context.Context, in SettingInput) (*generic.AutoAccrualSetting, error) {
	now := s.Clock.Now()
	setting := generic.AutoAccrualSetting{
		ID:               s.NewID(),
		WorkspaceID:      in.WorkspaceID,
		ExecutionHistory: []time.Time{},
		CreatedBy:        actorOr(in.Actor),
		CreatedAt:        now,
	}
	apply(&setting, in)
	setting.UpdatedAt = now
	if err := Validate(setting); err != nil {
		return nil, err
	}
	if err := s.Store.SaveSetting(ctx, setting); err != nil {
		return nil, err
	}
	s.Logger.Info("accrual setting created",
		zap.String("setting_id", setting.ID),
		zap.String("workspace_id", string(setting.WorkspaceID)))
	return &setting, nil
}

// Update replaces the configuration of a setting. An enabled setting has its
// next execution date recomputed and its timer re-registered; if the new
// configuration cannot be scheduled nothing is saved.
func (s *Scheduler) Update(ctx context.Context, id string, in SettingInput) (*generic.AutoAccrualSetting, error) {
	var updated *generic.AutoAccrualSetting
	err := generic.WithRetry(ctx, s.Store, s.Retries, func(tx generic.Store) error {
		setting, err := tx.GetSetting(ctx, id)
		if err != nil {
			return err
		}
		in.WorkspaceID = setting.WorkspaceID
		apply(setting, in)
		if err := Validate(*setting); err != nil {
			return err
		}
		if setting.Enabled {
			next, err := ComputeNext(*setting, setting.LastExecutionDate, s.Clock.Now(), s.Location)
			if err != nil {
				return err
			}
			setting.NextExecutionDate = &next
		}
		setting.UpdatedAt = s.Clock.Now()
		if err := tx.SaveSetting(ctx, *setting); err != nil {
			return err
		}
		updated = setting
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Enabled {
		s.schedule(*updated)
	}
	return updated, nil
}

// Enable computes the next execution date, persists the setting as enabled
// and registers its timer. override, when set, replaces the computed date
// (and the target date of a one-time setting); it must lie in the future.
//
// Returns ErrSettingConflict if another setting of the workspace is enabled
// and ErrUnschedulable if no future date exists.
func (s *Scheduler) Enable(ctx context.Context, id string, override *time.Time) (*generic.AutoAccrualSetting, error) {
	var enabled *generic.AutoAccrualSetting
	err := generic.WithRetry(ctx, s.Store, s.Retries, func(tx generic.Store) error {
		setting, err := tx.GetSetting(ctx, id)
		if err != nil {
			return err
		}
		others, err := tx.ListSettings(ctx, generic.SettingFilter{WorkspaceID: setting.WorkspaceID, EnabledOnly: true})
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.ID != setting.ID {
				return fmt.Errorf("%w: setting %s", generic.ErrSettingConflict, o.ID)
			}
		}

		now := s.Clock.Now()
		var next time.Time
		switch {
		case override != nil:
			if !override.After(now) {
				return fmt.Errorf("%w: override %s is not in the future", generic.ErrUnschedulable, override.Format(time.RFC3339))
			}
			next = *override
		default:
			next, err = ComputeNext(*setting, setting.LastExecutionDate, now, s.Location)
			if err != nil {
				return err
			}
		}

		setting.Enabled = true
		setting.NextExecutionDate = &next
		setting.UpdatedAt = now
		if err := tx.SaveSetting(ctx, *setting); err != nil {
			return err
		}
		enabled = setting
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.schedule(*enabled)
	s.Logger.Info("accrual setting enabled",
		zap.String("setting_id", enabled.ID),
		zap.String("workspace_id", string(enabled.WorkspaceID)),
		zap.Time("next_execution", *enabled.NextExecutionDate))
	return enabled, nil
}

// Disable cancels the pending timer and persists enabled=false. Balances are
// not touched.
func (s *Scheduler) Disable(ctx context.Context, id string) (*generic.AutoAccrualSetting, error) {
	s.Timers.Cancel(id)

	var disabled *generic.AutoAccrualSetting
	err := generic.WithRetry(ctx, s.Store, s.Retries, func(tx generic.Store) error {
		setting, err := tx.GetSetting(ctx, id)
		if err != nil {
			return err
		}
		setting.Enabled = false
		setting.UpdatedAt = s.Clock.Now()
		if err := tx.SaveSetting(ctx, *setting); err != nil {
			return err
		}
		disabled = setting
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("accrual setting disabled", zap.String("setting_id", id))
	return disabled, nil
}

func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.Timers.Cancel(id)
	return s.Store.DeleteSetting(ctx, id)
}

func (s *Scheduler) Get(ctx context.Context, id string) (*generic.AutoAccrualSetting, error) {
	return s.Store.GetSetting(ctx, id)
}

func (s *Scheduler) List(ctx context.Context, filter generic.SettingFilter) ([]generic.AutoAccrualSetting, error) {
	return s.Store.ListSettings(ctx, filter)
}

// =============================================================================
// FIRE
// =============================================================================

// Fire grants the setting's leaves for the fire scheduled at `at`.
//
// Each member is granted in its own transaction under the idempotency key
// accrual:<setting>:<date>:<user>, so re-running a fire only grants the
// members an earlier attempt missed. When every member succeeded the fire is
// recorded and the setting rescheduled (repeat) or completed (once). When any
// member failed the setting is left untouched and the error returned.
func (s *Scheduler) Fire(ctx context.Context, id string, at time.Time) (FireResult, error) {
	var res FireResult
	fireDate := generic.DateOf(at.In(s.Location)).String()
	log := s.Logger.With(zap.String("setting_id", id), zap.String("fire_date", fireDate))

	lock, ok, err := s.Locker.TryLock(ctx, id+":"+fireDate, s.LockTTL)
	if err != nil {
		log.Error("acquire fire lock", zap.Error(err))
		return res, err
	}
	if !ok {
		log.Debug("fire already running elsewhere")
		res.Stale = true
		return res, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release fire lock", zap.Error(err))
		}
	}()

	setting, err := s.Store.GetSetting(ctx, id)
	if err != nil {
		log.Error("load accrual setting", zap.Error(err))
		return res, err
	}
	if !setting.Enabled || setting.NextExecutionDate == nil || !setting.NextExecutionDate.Equal(at) {
		log.Debug("stale fire dropped")
		res.Stale = true
		return res, nil
	}
	log = log.With(zap.String("workspace_id", string(setting.WorkspaceID)))

	members, err := s.Store.ListMembers(ctx, setting.WorkspaceID)
	if err != nil {
		log.Error("list members for accrual", zap.Error(err))
		return res, err
	}

	var errs []error
	for _, m := range members {
		if !m.Eligible() {
			continue
		}
		mv := generic.Movement{
			Type:           setting.BucketType,
			Amount:         setting.NumberOfLeaves,
			Action:         generic.AuditAddedByAdmin,
			Actor:          generic.SystemActor,
			ReferenceID:    setting.ID,
			IdempotencyKey: fmt.Sprintf("accrual:%s:%s:%s", setting.ID, fireDate, m.UserID),
		}
		key := generic.AccountKey{WorkspaceID: m.WorkspaceID, UserID: m.UserID}
		err := generic.WithRetry(ctx, s.Store, s.Retries, func(tx generic.Store) error {
			_, err := s.Ledger.Grant(ctx, tx, key, mv)
			return err
		})
		switch {
		case err == nil:
			res.Granted++
		case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
			res.Skipped++
		default:
			res.Failed = append(res.Failed, m.UserID)
			errs = append(errs, fmt.Errorf("grant %s: %w", m.UserID, err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error("accrual fire failed; setting left for retry",
			zap.Int("failed", len(res.Failed)), zap.Int("granted", res.Granted), zap.Error(err))
		return res, err
	}

	done, err := s.complete(ctx, id, at)
	if err != nil {
		log.Error("record accrual fire", zap.Error(err))
		return res, err
	}
	if done.Enabled {
		s.schedule(*done)
	}
	log.Info("accrual fired", zap.Int("granted", res.Granted), zap.Int("skipped", res.Skipped))
	return res, nil
}

// complete records a successful fire and moves the setting forward.
func (s *Scheduler) complete(ctx context.Context, id string, at time.Time) (*generic.AutoAccrualSetting, error) {
	var done *generic.AutoAccrualSetting
	err := generic.WithRetry(ctx, s.Store, s.Retries, func(tx generic.Store) error {
		setting, err := tx.GetSetting(ctx, id)
		if err != nil {
			return err
		}
		setting.RecordFire(at)
		last := at
		setting.LastExecutionDate = &last

		if setting.Recurrence == generic.RecurrenceOnce {
			setting.Enabled = false
			setting.NextExecutionDate = nil
		} else {
			next, err := ComputeNext(*setting, &last, s.Clock.Now(), s.Location)
			if err != nil {
				return err
			}
			setting.NextExecutionDate = &next
		}
		setting.UpdatedAt = s.Clock.Now()
		if err := tx.SaveSetting(ctx, *setting); err != nil {
			return err
		}
		done = setting
		return nil
	})
	return done, err
}

// =============================================================================
// RECOVERY / BACKGROUND LOOP
// =============================================================================

// Recover registers a timer for the persisted next execution date of every
// enabled setting. Overdue dates fire immediately. Returns how many timers
// were registered.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	settings, err := s.Store.ListSettings(ctx, generic.SettingFilter{EnabledOnly: true})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, setting := range settings {
		if setting.NextExecutionDate == nil {
			continue
		}
		s.schedule(setting)
		n++
	}
	return n, nil
}

// Start runs Recover now and then on every CheckInterval tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("accrual scheduler started", zap.Duration("check_interval", s.CheckInterval))
}

// Stop ends the recovery loop and cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Timers.Stop()
	s.Logger.Info("accrual scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.sweep()
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	n, err := s.Recover(context.Background())
	if err != nil {
		s.Logger.Error("accrual recovery scan", zap.Error(err))
		return
	}
	s.Logger.Debug("accrual recovery scan", zap.Int("scheduled", n))
}

func (s *Scheduler) schedule(setting generic.AutoAccrualSetting) {
	id, at := setting.ID, *setting.NextExecutionDate
	s.Timers.Schedule(id, at, func() {
		// errors are logged inside Fire; the next sweep retries
		_, _ = s.Fire(context.Background(), id, at)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func apply(setting *generic.AutoAccrualSetting, in SettingInput) {
	setting.WorkspaceID = in.WorkspaceID
	setting.BucketType = in.BucketType
	setting.NumberOfLeaves = in.NumberOfLeaves
	setting.Recurrence = in.Recurrence
	setting.Frequency = in.Frequency
	setting.AnchorDayOfMonth = in.AnchorDayOfMonth
	if in.Recurrence == generic.RecurrenceOnce {
		setting.NextExecutionDate = in.ExecutionDate
		setting.Frequency = ""
		setting.AnchorDayOfMonth = 0
	}
}

func actorOr(actor string) string {
	if actor == "" {
		return generic.SystemActor
	}
	return actor
}
