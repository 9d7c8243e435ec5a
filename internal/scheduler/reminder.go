package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReminderUserStore extends the directory reads with the dispatch bookkeeping
// write. Implemented by db.UserRepository.
type ReminderUserStore interface {
	UserDirectory

	// TouchLastReminded records that a reminder was just dispatched.
	TouchLastReminded(ctx context.Context, openid string, at time.Time) error
}

// ReminderSender pushes one reminder to one user. Implemented by
// external.WeChatClient.
type ReminderSender interface {
	SendWaterReminder(ctx context.Context, openid, nickname string, at time.Time) error
}

// ReminderService dispatches push reminders to subscribed users ahead of
// each checkpoint.
type ReminderService struct {
	users  ReminderUserStore
	sender ReminderSender
	logger *slog.Logger
}

// NewReminderService creates a new ReminderService.
func NewReminderService(users ReminderUserStore, sender ReminderSender, logger *slog.Logger) *ReminderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderService{
		users:  users,
		sender: sender,
		logger: logger,
	}
}

// Dispatch sends the reminder for the checkpoint at slotAt to every
// subscribed user. One user's delivery failure is logged and the pass
// continues; the last_reminded timestamp is only advanced on successful
// delivery. Returns the number of reminders delivered.
func (r *ReminderService) Dispatch(ctx context.Context, now, slotAt time.Time) (int, error) {
	users, err := r.users.List(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("listing subscribed users: %w", err)
	}

	if len(users) == 0 {
		r.logger.InfoContext(ctx, "no subscribed users to remind")
		return 0, nil
	}

	r.logger.InfoContext(ctx, "dispatching water reminders",
		"users", len(users),
		"slot", slotAt.Format("15:04"),
	)

	sent := 0
	for _, u := range users {
		if err := r.sender.SendWaterReminder(ctx, u.OpenID, u.Nickname, slotAt); err != nil {
			r.logger.ErrorContext(ctx, "failed to send water reminder",
				"openid", u.OpenID,
				"error", err,
			)
			continue
		}

		if err := r.users.TouchLastReminded(ctx, u.OpenID, now); err != nil {
			// Delivery succeeded; the bookkeeping miss only skews the
			// last_reminded display.
			r.logger.WarnContext(ctx, "failed to record last_reminded",
				"openid", u.OpenID,
				"error", err,
			)
		}
		sent++
	}

	r.logger.InfoContext(ctx, "reminder dispatch complete",
		"sent", sent,
		"total", len(users),
	)

	return sent, nil
}
