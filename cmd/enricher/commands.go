package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bridgescan/enricher/internal/api"
	"bridgescan/enricher/internal/config"
	"bridgescan/enricher/internal/database"
	"bridgescan/enricher/internal/worker"
)

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Enrich messages as the database announces them, with a scheduled reconciliation pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLoop(cmd.Context(), config.ModeWatch)
		},
	}
}

func (a *app) backfillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Run one reconciliation pass over every message still missing data and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBackfill(cmd.Context())
		},
	}
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Install the change-notification trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(config.ModeMigrate)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			db, err := database.Connect(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(cmd.Context(), db); err != nil {
				return err
			}
			a.logger.Info("Database migrations applied successfully")
			return nil
		},
	}
}

// runLoop runs the loop for mode alongside the status server until ctx is done
func (a *app) runLoop(ctx context.Context, mode config.Mode) error {
	cfg, db, reg, err := a.setup(mode)
	if err != nil {
		return err
	}
	defer db.Close()

	if mode == config.ModeWatch {
		if err := database.RunMigrations(ctx, db); err != nil {
			a.logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
		} else {
			a.logger.Info("Database migrations applied successfully")
		}
	}

	workerManager, err := worker.NewWorkerManager(db, cfg, reg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize worker manager: %w", err)
	}

	router := api.SetupRouter(api.NewHandler(workerManager, reg, a.logger), a.logger)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: worker.MessageTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", serverAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	if err := workerManager.Start(mode); err != nil {
		_ = workerManager.Shutdown(shutdownTimeout)
		_ = httpServer.Close()
		return err
	}

	a.logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.String("mode", string(mode)),
		zap.Int("port", cfg.Server.Port))

	var runErr error
	select {
	case runErr = <-serverErrors:
		a.logger.Error("HTTP server error", zap.Error(runErr))
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	a.logger.Info("Shutting down service...")

	// Shutdown workers first so in-flight messages finish
	if err := workerManager.Shutdown(shutdownTimeout); err != nil {
		a.logger.Error("Worker shutdown error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		a.logger.Info("HTTP server stopped gracefully")
	}

	a.logger.Info("Service stopped successfully")
	return runErr
}

// runSingle enriches one feed message by id and exits
func (a *app) runSingle(ctx context.Context, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid message id %q", arg)
	}

	cfg, db, reg, err := a.setup(config.ModePoll)
	if err != nil {
		return err
	}
	defer db.Close()

	workerManager, err := worker.NewWorkerManager(db, cfg, reg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize worker manager: %w", err)
	}
	defer workerManager.Shutdown(shutdownTimeout)

	stats, err := workerManager.RunOnce(ctx, id)
	if err != nil {
		return err
	}

	a.logger.Info("Single message run complete",
		zap.Int64("message_id", id),
		zap.Int("updated", stats.Updated),
		zap.Int("incomplete", stats.Incomplete),
		zap.Int("failed", stats.Failed))
	if stats.Failed > 0 {
		return fmt.Errorf("message %d could not be enriched", id)
	}
	return nil
}

// runBackfill runs one reconciliation pass and exits
func (a *app) runBackfill(ctx context.Context) error {
	cfg, db, reg, err := a.setup(config.ModeBackfill)
	if err != nil {
		return err
	}
	defer db.Close()

	workerManager, err := worker.NewWorkerManager(db, cfg, reg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize worker manager: %w", err)
	}
	defer workerManager.Shutdown(shutdownTimeout)

	stats, err := workerManager.Backfill(ctx)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	a.logger.Info("Backfill complete",
		zap.Int("total", stats.Total),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", stats.FinishedAt.Sub(stats.StartedAt)))
	return nil
}
