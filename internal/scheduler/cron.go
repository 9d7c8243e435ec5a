package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"hydromate/internal/types"
)

// TriggerConfig carries the schedule parameters for the cron wiring.
type TriggerConfig struct {
	// Location is the civil timezone all cron specs fire in.
	Location *time.Location

	// Slots is the ordered list of daily checkpoints.
	Slots []types.ClockTime

	// DispatchLead is how far before each checkpoint its reminder fires.
	DispatchLead time.Duration

	// SweepInterval is the cadence of the expiration sweep.
	SweepInterval time.Duration

	// JobTimeout bounds a single trigger invocation. Zero means 2 minutes.
	JobTimeout time.Duration
}

// Triggers owns the cron instance that fires the background jobs: one
// reminder dispatch per checkpoint (lead time before the slot), a periodic
// expiration sweep, and the midnight reconciler.
type Triggers struct {
	cfg        TriggerConfig
	cron       *cron.Cron
	sweeper    *SweeperService
	reconciler *ReconcilerService
	reminder   *ReminderService
	logger     *slog.Logger
	nowFn      func() time.Time
}

// NewTriggers builds the cron schedule. Start must be called to begin firing.
func NewTriggers(
	cfg TriggerConfig,
	sweeper *SweeperService,
	reconciler *ReconcilerService,
	reminder *ReminderService,
	logger *slog.Logger,
) (*Triggers, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	t := &Triggers{
		cfg:        cfg,
		cron:       cron.New(cron.WithParser(parser), cron.WithLocation(cfg.Location)),
		sweeper:    sweeper,
		reconciler: reconciler,
		reminder:   reminder,
		logger:     logger,
		nowFn:      time.Now,
	}

	if err := t.register(); err != nil {
		return nil, err
	}
	return t, nil
}

// register wires every job into the cron instance.
func (t *Triggers) register() error {
	// One reminder trigger per checkpoint, fired DispatchLead before the
	// slot so the push lands while the task is still upcoming.
	for _, slot := range t.cfg.Slots {
		slot := slot
		fireAt := slot.Minus(t.cfg.DispatchLead)
		spec := fmt.Sprintf("%d %d * * *", fireAt.Minute, fireAt.Hour)

		if _, err := t.cron.AddFunc(spec, func() {
			t.runJob("reminder-dispatch", func(ctx context.Context, now time.Time) error {
				slotAt := slot.On(now.In(t.cfg.Location))
				_, err := t.reminder.Dispatch(ctx, now, slotAt)
				return err
			})
		}); err != nil {
			return fmt.Errorf("registering reminder trigger %s: %w", slot, err)
		}
	}

	sweepSpec := fmt.Sprintf("@every %s", t.cfg.SweepInterval)
	if _, err := t.cron.AddFunc(sweepSpec, func() {
		t.runJob("expiration-sweep", func(ctx context.Context, now time.Time) error {
			_, err := t.sweeper.Sweep(ctx, now)
			return err
		})
	}); err != nil {
		return fmt.Errorf("registering sweep trigger: %w", err)
	}

	if _, err := t.cron.AddFunc("0 0 * * *", func() {
		t.runJob("daily-reconcile", func(ctx context.Context, now time.Time) error {
			_, err := t.reconciler.Reconcile(ctx, now)
			return err
		})
	}); err != nil {
		return fmt.Errorf("registering reconcile trigger: %w", err)
	}

	return nil
}

// runJob executes one trigger invocation with a bounded context and
// consistent logging.
func (t *Triggers) runJob(name string, fn func(ctx context.Context, now time.Time) error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.JobTimeout)
	defer cancel()

	now := t.nowFn().In(t.cfg.Location)
	start := time.Now()

	if err := fn(ctx, now); err != nil {
		t.logger.ErrorContext(ctx, "scheduled job failed",
			"job", name,
			"duration", time.Since(start),
			"error", err,
		)
		return
	}

	t.logger.InfoContext(ctx, "scheduled job complete",
		"job", name,
		"duration", time.Since(start),
	)
}

// Start begins firing triggers and runs one reconciliation immediately, so a
// process started mid-day (or restarted after missing midnight) converges
// without waiting for the next cron fire.
func (t *Triggers) Start(ctx context.Context) error {
	now := t.nowFn().In(t.cfg.Location)
	if _, err := t.reconciler.Reconcile(ctx, now); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	t.cron.Start()
	t.logger.InfoContext(ctx, "scheduled triggers started",
		"checkpoints", len(t.cfg.Slots),
		"sweep_interval", t.cfg.SweepInterval,
	)
	return nil
}

// Stop halts the cron scheduler and waits for in-flight jobs to finish.
func (t *Triggers) Stop() {
	<-t.cron.Stop().Done()
	t.logger.Info("scheduled triggers stopped")
}
