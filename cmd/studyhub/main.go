// Package main is the entry point of Study Hub.
//
// One binary, several processes:
//   - serve   - REST API with timers, and the scheduler unless disabled
//   - worker  - scheduled maintenance only (weekly reset, achievement reconciliation)
//   - migrate - database schema management
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyhub/study-hub/config"
	"github.com/studyhub/study-hub/internal/application/command"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/postgres"
	"github.com/studyhub/study-hub/pkg/logger"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// Set at build time: -ldflags "-X main.version=1.2.3".
var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studyhub",
		Short:         "Study Hub - tasks, pomodoro timer, flashcards and progress for students",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func newServeCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled jobs in this process")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled maintenance jobs without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					n, err := m.Migrate(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					v, err := m.Rollback(ctx)
					if err != nil {
						return err
					}
					if v == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back migration %d\n", v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					list, err := m.Status(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
					for _, mg := range list {
						applied := "pending"
						if mg.IsApplied {
							applied = mg.AppliedAt.Format(time.RFC3339)
						}
						fmt.Fprintf(w, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
					}
					return w.Flush()
				})
			},
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSES
// ══════════════════════════════════════════════════════════════════════════════

func runServe(ctx context.Context, withScheduler bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("starting Study Hub API",
		"env", cfg.App.Environment,
		"storage", cfg.Storage.Driver,
		"redis", cfg.RedisEnabled(),
		"features", cfg.Features.Summary(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. SHARED COMPONENTS
	// ─────────────────────────────────────────────────────────────────────────
	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown(a, cfg.App.ShutdownTimeout)

	authProvider, err := a.newAuth()
	if err != nil {
		return fmt.Errorf("failed to create auth provider: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. TIMERS
	// ─────────────────────────────────────────────────────────────────────────
	sessions := command.NewCompleteSessionHandler(a.recorder, a.bus, a.metrics, a.timerSettings())
	timers := a.newTimers(sessions)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if withScheduler && cfg.Scheduler.Enabled {
		if err := startScheduler(ctx, a); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	srv, err := a.newServer(authProvider, timers)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	errCh := srv.StartAsync()
	log.Info("Study Hub API is running", "address", srv.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	return nil
}

func runWorker(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Scheduler.Enabled {
		return errors.New("scheduler is disabled (SCHEDULER_ENABLED=false), nothing to run")
	}
	log.Info("starting Study Hub worker", "env", cfg.App.Environment, "timezone", cfg.App.Location.String())

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown(a, cfg.App.ShutdownTimeout)

	if err := startScheduler(ctx, a); err != nil {
		return err
	}
	log.Info("Study Hub worker is running")

	<-ctx.Done()
	log.Info("received shutdown signal")
	return nil
}

func startScheduler(ctx context.Context, a *app) error {
	s, err := a.newScheduler()
	if err != nil {
		return fmt.Errorf("failed to configure scheduler: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.onClose(func(context.Context) error {
		a.log.Info("stopping scheduler...")
		return s.Stop()
	})
	for _, job := range s.ListJobs() {
		a.log.Info("job scheduled", "job", job.Name, "schedule", job.Schedule, "next_run", job.NextRun)
	}
	return nil
}

func shutdown(a *app, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.log.Info("starting graceful shutdown...", "timeout", timeout.String())
	if err := a.close(ctx); err != nil {
		a.log.Error("shutdown finished with errors", "error", err)
		return
	}
	a.log.Info("shutdown completed successfully")
}

func withMigrator(ctx context.Context, fn func(ctx context.Context, m *postgres.Migrator) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.StoragePostgres {
		return fmt.Errorf("migrations need STORAGE_DRIVER=%s", config.StoragePostgres)
	}

	log.Info("connecting to database...")
	conn, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, postgres.NewMigrator(conn))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" || cfg.App.Version == "dev" {
		cfg.App.Version = version
	}
	// Streak days and weeks are counted in this zone.
	timeutil.SetLocation(cfg.App.Location)
	return cfg, setupLogger(cfg), nil
}

// setupLogger configures structured logging and installs it as the default.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := cfg.App.LogLevel
	if cfg.App.Debug && level == "" {
		level = "debug"
	}
	log := logger.New(logger.Options{
		Level:   level,
		Format:  cfg.App.LogFormat,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	slog.SetDefault(log)
	return log
}
