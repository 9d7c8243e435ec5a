// Package tasks implements the water-task lifecycle engine: daily task set
// materialization, the pending/completed/missed state machine, derived daily
// statistics, and the expiration sweep.
//
// The engine is a pure function of the injected clock plus stored state. It
// holds no in-process locks; correctness under concurrent creators relies on
// the store's unique (owner, slot) constraint turning races into conflicts,
// which the idempotent-create path resolves by returning the existing record.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"hydromate/internal/types"
)

// TaskStore is the persistence contract the lifecycle engine consumes.
// Implemented by db.TaskRepository.
type TaskStore interface {
	// FindBySlot returns the task at the unique (openid, slot) key, or a
	// not_found_task AppError.
	FindBySlot(ctx context.Context, openid string, slot time.Time) (*types.WaterTask, error)

	// GetByID returns the task with the given id, or a not_found_task AppError.
	GetByID(ctx context.Context, id string) (*types.WaterTask, error)

	// Insert creates a task, failing with conflict_task_exists when the
	// (openid, slot) key is already taken.
	Insert(ctx context.Context, t *types.WaterTask) error

	// List returns tasks matching the filter, ordered by slot ascending.
	List(ctx context.Context, filter types.TaskFilter) ([]*types.WaterTask, error)

	// Save updates a previously fetched task in place.
	Save(ctx context.Context, t *types.WaterTask) error

	// DeleteByOwner removes all tasks for an owner, returning the count.
	DeleteByOwner(ctx context.Context, openid string) (int64, error)
}

// Config carries the scheduling parameters for the engine.
type Config struct {
	// Location is the single civil timezone all slots are interpreted in.
	Location *time.Location

	// Slots is the ordered list of daily checkpoints.
	Slots []types.ClockTime

	// DefaultWaterML is the amount assigned when a creation call does not
	// specify one.
	DefaultWaterML int

	// GracePeriod is how long past its slot a pending task survives before
	// being considered missed, by both the sweeper and list-time relabeling.
	GracePeriod time.Duration
}

// Service is the task lifecycle engine.
type Service struct {
	store  TaskStore
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time // for deterministic testing; defaults to time.Now
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithNowFunc overrides the clock used by the engine. Intended for testing.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Service) {
		s.nowFn = fn
	}
}

// NewService creates a lifecycle engine over the given store.
func NewService(store TaskStore, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now returns the current instant in the configured civil timezone.
func (s *Service) now() time.Time {
	return s.nowFn().In(s.cfg.Location)
}

// startOfDay truncates t to civil midnight in the configured timezone.
func (s *Service) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

// CreateTask idempotently materializes the task at (openid, slot). If a task
// already exists at that key it is returned unchanged; the amount of an
// existing task is never updated. A zero or negative amount selects the
// configured default.
func (s *Service) CreateTask(ctx context.Context, openid string, slot time.Time, amount int) (*types.WaterTask, error) {
	if amount <= 0 {
		amount = s.cfg.DefaultWaterML
	}
	slot = slot.In(s.cfg.Location)

	existing, err := s.store.FindBySlot(ctx, openid, slot)
	if err == nil {
		return existing, nil
	}
	if !isCode(err, types.ErrCodeNotFoundTask) {
		return nil, err
	}

	t := &types.WaterTask{
		OpenID:      openid,
		ScheduledAt: slot,
		Status:      types.TaskPending,
		WaterAmount: amount,
		CreatedAt:   s.now(),
	}
	if err := s.store.Insert(ctx, t); err != nil {
		// A concurrent creator won the race; the existing record is the
		// canonical one.
		if isCode(err, types.ErrCodeConflictTaskExists) {
			return s.store.FindBySlot(ctx, openid, slot)
		}
		return nil, err
	}
	return t, nil
}

// CreateDailySet materializes the configured checkpoints for the civil day
// containing referenceDay. Checkpoints whose instant is strictly before the
// current time are skipped: a user who becomes active mid-day receives a
// partial day starting from the next unskipped checkpoint. Creation per slot
// is idempotent; the returned slice holds the tasks created or already
// present for the remaining slots.
func (s *Service) CreateDailySet(ctx context.Context, openid string, referenceDay time.Time, amount int) ([]*types.WaterTask, error) {
	day := s.startOfDay(referenceDay)
	now := s.now()

	var created []*types.WaterTask
	for _, ct := range s.cfg.Slots {
		slot := ct.On(day)
		if slot.Before(now) {
			continue
		}
		t, err := s.CreateTask(ctx, openid, slot, amount)
		if err != nil {
			return created, fmt.Errorf("creating task at %s: %w", ct, err)
		}
		created = append(created, t)
	}
	return created, nil
}

// CompleteTask marks a task completed. With a task id, the task must exist,
// belong to openid, and be pending; the error for a non-pending task names
// its current state. Without an id, the latest-due pending task is chosen:
// the one with the greatest slot among openid's pending tasks whose slot is
// not after now.
func (s *Service) CompleteTask(ctx context.Context, openid, taskID string) (*types.WaterTask, error) {
	var t *types.WaterTask

	if taskID != "" {
		var err error
		t, err = s.store.GetByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.OpenID != openid {
			return nil, types.NewAppError(types.ErrCodePermissionTaskOwner,
				"task belongs to a different user", nil)
		}
		if t.Status != types.TaskPending {
			return nil, types.NewAppError(types.ErrCodeValidationTaskNotPending,
				fmt.Sprintf("task is already %s and cannot be completed", t.Status), nil)
		}
	} else {
		due, err := s.store.List(ctx, types.TaskFilter{
			OpenID:  openid,
			Status:  types.TaskPending,
			SlotLTE: s.now(),
		})
		if err != nil {
			return nil, err
		}
		if len(due) == 0 {
			return nil, types.NewAppError(types.ErrCodeNotFoundPendingTask,
				"no pending task is due for completion", nil)
		}
		// List orders by slot ascending; the last entry is the most
		// recently due checkpoint.
		t = due[len(due)-1]
	}

	completedAt := s.now()
	t.Status = types.TaskCompleted
	t.CompletedAt = &completedAt
	if err := s.store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CancelCompletion reverses a completion, returning the task to pending and
// clearing its completion timestamp. Only tasks in state completed qualify;
// the error for any other state names it.
func (s *Service) CancelCompletion(ctx context.Context, openid, taskID string) (*types.WaterTask, error) {
	t, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.OpenID != openid {
		return nil, types.NewAppError(types.ErrCodePermissionTaskOwner,
			"task belongs to a different user", nil)
	}
	if t.Status != types.TaskCompleted {
		return nil, types.NewAppError(types.ErrCodeValidationTaskNotCompleted,
			fmt.Sprintf("task is %s; only completed tasks can be cancelled", t.Status), nil)
	}

	t.Status = types.TaskPending
	t.CompletedAt = nil
	if err := s.store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns openid's tasks ordered by slot ascending, optionally
// restricted to the civil day containing day. As a side effect, any fetched
// pending task whose slot is older than the grace cutoff is relabeled missed
// and persisted before being returned, so readers never see a stale pending
// state. The relabel honors the same grace period as the sweeper.
func (s *Service) ListTasks(ctx context.Context, openid string, day *time.Time) ([]*types.WaterTask, error) {
	filter := types.TaskFilter{OpenID: openid}
	if day != nil {
		start := s.startOfDay(*day)
		filter.SlotGTE = start
		filter.SlotLTE = start.Add(24*time.Hour - time.Second)
	}

	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.cfg.GracePeriod)
	for _, t := range tasks {
		if t.Status != types.TaskPending || !t.ScheduledAt.Before(cutoff) {
			continue
		}
		t.Status = types.TaskMissed
		if err := s.store.Save(ctx, t); err != nil {
			return nil, err
		}
	}

	return tasks, nil
}

// TodayStatus returns the aggregate statistics for openid's current civil
// day along with the day's tasks. Counts reflect stored status only; no
// relabeling is applied on this path. The completion rate is a rounded
// percentage, defined as 0 when the day has no tasks.
func (s *Service) TodayStatus(ctx context.Context, openid string) (types.DayStats, []*types.WaterTask, error) {
	start := s.startOfDay(s.now())
	tasks, err := s.store.List(ctx, types.TaskFilter{
		OpenID:  openid,
		SlotGTE: start,
		SlotLT:  start.Add(24 * time.Hour),
	})
	if err != nil {
		return types.DayStats{}, nil, err
	}

	stats := types.DayStats{TotalTasks: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case types.TaskCompleted:
			stats.CompletedTasks++
			stats.TotalWater += t.WaterAmount
		case types.TaskMissed:
			stats.MissedTasks++
		case types.TaskPending:
			stats.PendingTasks++
		}
	}
	if stats.TotalTasks > 0 {
		stats.CompletionRate = int(math.Round(float64(stats.CompletedTasks) / float64(stats.TotalTasks) * 100))
	}

	return stats, tasks, nil
}

// TodayWater returns openid's completed tasks for the current civil day and
// their summed water amount.
func (s *Service) TodayWater(ctx context.Context, openid string) (int, []*types.WaterTask, error) {
	start := s.startOfDay(s.now())
	tasks, err := s.store.List(ctx, types.TaskFilter{
		OpenID:  openid,
		Status:  types.TaskCompleted,
		SlotGTE: start,
		SlotLT:  start.Add(24 * time.Hour),
	})
	if err != nil {
		return 0, nil, err
	}

	total := 0
	for _, t := range tasks {
		total += t.WaterAmount
	}
	return total, tasks, nil
}

// CountForDay returns the number of tasks openid has on the civil day
// containing day, with no side effects. Used by the daily reconciler to
// decide whether a day needs bootstrapping.
func (s *Service) CountForDay(ctx context.Context, openid string, day time.Time) (int, error) {
	start := s.startOfDay(day)
	tasks, err := s.store.List(ctx, types.TaskFilter{
		OpenID:  openid,
		SlotGTE: start,
		SlotLT:  start.Add(24 * time.Hour),
	})
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// DeleteAllTasks unconditionally removes every task belonging to openid and
// returns the count removed. This is the account-reset path, not part of the
// daily cycle.
func (s *Service) DeleteAllTasks(ctx context.Context, openid string) (int64, error) {
	return s.store.DeleteByOwner(ctx, openid)
}

// SweepExpired transitions every pending task older than the grace cutoff to
// missed and reports the count swept. Filtering strictly on pending status
// makes a sweep safe to run concurrently with itself: a second pass is a
// no-op on already-swept rows. A single task's save failure is logged and
// the sweep continues.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.In(s.cfg.Location).Add(-s.cfg.GracePeriod)

	expired, err := s.store.List(ctx, types.TaskFilter{
		Status: types.TaskPending,
		SlotLT: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("listing expired tasks: %w", err)
	}

	swept := 0
	for _, t := range expired {
		t.Status = types.TaskMissed
		if err := s.store.Save(ctx, t); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark task missed",
				"task_id", t.ID,
				"openid", t.OpenID,
				"error", err,
			)
			continue
		}
		swept++
	}

	return swept, nil
}

// isCode reports whether err is an AppError with the given code.
func isCode(err error, code types.ErrorCode) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
