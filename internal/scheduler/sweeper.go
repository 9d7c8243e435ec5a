package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpirationEngine is the slice of the task lifecycle engine the sweeper uses.
type ExpirationEngine interface {
	// SweepExpired transitions pending tasks older than the grace cutoff to
	// missed, returning the count swept.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// SweeperService periodically expires overdue pending tasks. The heavy
// lifting lives in the lifecycle engine; this service adds the trigger-level
// logging so every sweep leaves a trace in the job history.
type SweeperService struct {
	engine ExpirationEngine
	logger *slog.Logger
}

// NewSweeperService creates a new SweeperService.
func NewSweeperService(engine ExpirationEngine, logger *slog.Logger) *SweeperService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweeperService{
		engine: engine,
		logger: logger,
	}
}

// Sweep runs one expiration pass. Safe to invoke concurrently with itself:
// the engine filters on pending status, so an overlapping pass finds nothing
// left to transition.
func (s *SweeperService) Sweep(ctx context.Context, now time.Time) (int, error) {
	swept, err := s.engine.SweepExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired tasks: %w", err)
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "expired pending tasks marked missed",
			"swept", swept,
		)
	}

	return swept, nil
}
