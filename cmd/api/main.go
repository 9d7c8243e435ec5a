// Package main is the entry point for the hydration reminder API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the task
// lifecycle engine, the WeChat client, and the cron triggers (reminder
// dispatch, expiration sweep, midnight reconciliation), then serves the
// HTTP API until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hydromate/internal/api/handlers"
	"hydromate/internal/config"
	"hydromate/internal/core"
	"hydromate/internal/db"
	"hydromate/internal/external"
	"hydromate/internal/scheduler"
	"hydromate/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("hydromate API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Reminder.Location()
	if err != nil {
		return fmt.Errorf("resolving timezone: %w", err)
	}
	slots, err := cfg.Reminder.Slots()
	if err != nil {
		return fmt.Errorf("parsing reminder slots: %w", err)
	}

	// Database pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging database: %w", err)
	}

	taskRepo := db.NewTaskRepository(pool)
	userRepo := db.NewUserRepository(pool)

	// Lifecycle engine.
	engine := tasks.NewService(taskRepo, tasks.Config{
		Location:       loc,
		Slots:          slots,
		DefaultWaterML: cfg.Reminder.DefaultWaterML,
		GracePeriod:    cfg.Reminder.GracePeriod,
	}, logger)

	// WeChat client.
	wechat := external.NewWeChatClient(&http.Client{Timeout: 15 * time.Second}, external.WeChatClientConfig{
		AppID:            cfg.WeChat.AppID,
		AppSecret:        cfg.WeChat.AppSecret,
		TemplateID:       cfg.WeChat.TemplateID,
		BaseURL:          cfg.WeChat.BaseURL,
		TokenEarlyExpiry: cfg.WeChat.TokenEarlyExpiry,
		Logger:           logger,
	})

	// Scheduled jobs.
	triggers, err := scheduler.NewTriggers(
		scheduler.TriggerConfig{
			Location:      loc,
			Slots:         slots,
			DispatchLead:  cfg.Reminder.DispatchLead,
			SweepInterval: cfg.Reminder.SweepInterval,
		},
		scheduler.NewSweeperService(engine, logger),
		scheduler.NewReconcilerService(userRepo, engine, logger),
		scheduler.NewReminderService(userRepo, wechat, logger),
		logger,
	)
	if err != nil {
		pool.Close()
		return fmt.Errorf("building scheduled triggers: %w", err)
	}

	// HTTP chassis and routes.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(triggers.Stop)
	srv.OnShutdown(pool.Close)

	handlers.NewHealthHandler().RegisterRoutes(srv.Router())
	handlers.NewWaterTaskHandler(engine, srv.Validator, logger, loc).RegisterRoutes(srv.Router())
	handlers.NewUserHandler(userRepo, wechat, wechat, srv.Validator, logger).RegisterRoutes(srv.Router())

	if err := triggers.Start(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("starting scheduled triggers: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
