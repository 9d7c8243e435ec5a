// Package scheduler implements the background jobs of the hydration reminder
// service: the midnight daily reconciler, the expiration sweeper, and the
// reminder dispatcher, plus the cron wiring that triggers them.
//
// All jobs accept a `now` parameter for deterministic testing, process their
// targets with per-record log-and-continue semantics, and are idempotent so
// that overlapping or repeated triggers are safe.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hydromate/internal/types"
)

// UserDirectory defines the user reads the background jobs need.
// Implemented by db.UserRepository.
type UserDirectory interface {
	// List returns users ordered by creation time. When onlySubscribed is
	// set, unsubscribed users are filtered out.
	List(ctx context.Context, onlySubscribed bool) ([]*types.User, error)
}

// DailyEngine is the slice of the task lifecycle engine the reconciler uses.
type DailyEngine interface {
	// CountForDay returns the number of tasks the user has on the civil day
	// containing day, with no side effects.
	CountForDay(ctx context.Context, openid string, day time.Time) (int, error)

	// CreateDailySet materializes the day's checkpoints for the user,
	// skipping slots already in the past.
	CreateDailySet(ctx context.Context, openid string, referenceDay time.Time, amount int) ([]*types.WaterTask, error)
}

// ReconcilerService materializes the daily task set for every registered
// user. It runs at midnight and once at process startup, so a service that
// was down over midnight still converges on the correct state for the day.
type ReconcilerService struct {
	users  UserDirectory
	engine DailyEngine
	logger *slog.Logger
}

// NewReconcilerService creates a new ReconcilerService.
func NewReconcilerService(users UserDirectory, engine DailyEngine, logger *slog.Logger) *ReconcilerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcilerService{
		users:  users,
		engine: engine,
		logger: logger,
	}
}

// Reconcile ensures every user has a task set for the civil day containing
// now. A user with any tasks on the day is skipped entirely: the reconciler
// bootstraps empty days and never tops up partial ones, so a user's deletions
// are not silently undone. Reconciliation covers all users regardless of
// subscription state; the subscription flag gates push delivery, not the
// task record itself.
//
// A single user's failure is logged and the pass continues. Returns the
// number of users whose day was bootstrapped.
func (r *ReconcilerService) Reconcile(ctx context.Context, now time.Time) (int, error) {
	users, err := r.users.List(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("listing users for reconciliation: %w", err)
	}

	if len(users) == 0 {
		r.logger.InfoContext(ctx, "no users to reconcile")
		return 0, nil
	}

	bootstrapped := 0
	for _, u := range users {
		count, err := r.engine.CountForDay(ctx, u.OpenID, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to count tasks for user",
				"openid", u.OpenID,
				"error", err,
			)
			continue
		}
		if count > 0 {
			continue
		}

		created, err := r.engine.CreateDailySet(ctx, u.OpenID, now, 0)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to create daily task set",
				"openid", u.OpenID,
				"error", err,
			)
			continue
		}

		r.logger.InfoContext(ctx, "bootstrapped daily tasks",
			"openid", u.OpenID,
			"created", len(created),
		)
		bootstrapped++
	}

	r.logger.InfoContext(ctx, "daily reconciliation complete",
		"users", len(users),
		"bootstrapped", bootstrapped,
	)

	return bootstrapped, nil
}
