package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wolfman30/responsibility-agent/internal/api/router"
	"github.com/wolfman30/responsibility-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/responsibility-agent/internal/config"
	"github.com/wolfman30/responsibility-agent/internal/http/handlers"
	"github.com/wolfman30/responsibility-agent/internal/progress"
	"github.com/wolfman30/responsibility-agent/internal/runlog"
	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "responsibility-agent",
		Short:         "Post patient responsibility memos to AdvancedMD for upcoming appointments",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newPruneCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	var (
		dryRun        bool
		lookbackHours int
		noProgress    bool
		noPublish     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch once and print the run summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.Load()
			if cmd.Flags().Changed("dry-run") {
				cfg.MemoDryRun = dryRun
			}
			if lookbackHours > 0 {
				cfg.LookbackHours = lookbackHours
			}
			logger := logging.New(cfg.LogLevel)

			ctx, stop := signalContext()
			defer stop()

			var reporter progress.Reporter
			if !noProgress {
				reporter = progress.NewMPBReporter(os.Stderr)
			}
			agent, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{
				Progress:       reporter,
				SkipPublishers: noPublish,
			})
			if err != nil {
				return err
			}
			defer agent.Close()

			return runOnce(ctx, agent.Runner, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log memos instead of posting them (overrides MEMO_DRY_RUN)")
	cmd.Flags().IntVar(&lookbackHours, "lookback-hours", 0, "Override LOOKBACK_HOURS for this run")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the terminal progress bar")
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "Skip the run ledger, report archive and summary email")
	return cmd
}

type batchRunner interface {
	Run(ctx context.Context) (*summary.Summary, error)
}

// runOnce prints the report to out. Per-record failures still count as a
// completed run; only a fatal abort returns an error.
func runOnce(ctx context.Context, runner batchRunner, out io.Writer, logger *logging.Logger) error {
	sum, err := runner.Run(ctx)
	if sum != nil {
		logger.Info("run finished", "summary", sum)
		fmt.Fprint(out, sum.Report())
	}
	if err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /health, /metrics and the admin-protected /trigger endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.Load()
			if port != "" {
				cfg.Port = port
			}
			logger := logging.New(cfg.LogLevel)
			logger.Info("starting responsibility-agent server", "env", cfg.Env, "port", cfg.Port, "dry_run", cfg.MemoDryRun)

			ctx, stop := signalContext()
			defer stop()

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			agent, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{Registry: registry})
			if err != nil {
				return err
			}
			defer agent.Close()

			var (
				runs    handlers.RunLister
				audit   handlers.AuditQuerier
				reports handlers.ReportLoader
			)
			if agent.Runs != nil {
				runs = agent.Runs
			}
			if agent.Audit != nil {
				audit = agent.Audit
			}
			if agent.Archive != nil {
				reports = agent.Archive
			}
			if cfg.AdminJWTSecret == "" {
				logger.Warn("ADMIN_JWT_SECRET not set; /trigger and /runs will reject every request")
			}
			trigger := handlers.NewTriggerHandler(agent.Runner, runs, logger)
			r := router.New(&router.Config{
				Logger:          logger,
				Trigger:         trigger,
				History:         handlers.NewHistoryHandler(audit, reports, logger),
				AdminAuthSecret: cfg.AdminJWTSecret,
				MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
				Version:         version,
				Env:             cfg.Env,
				DryRun:          cfg.MemoDryRun,
			})

			// A synchronous /trigger holds the response for the whole run.
			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      r,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			if err := trigger.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("background run interrupted: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Override PORT")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify AdvancedMD credentials and the service-line webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.Load()
			logger := logging.New(cfg.LogLevel)

			ctx, stop := signalContext()
			defer stop()

			agent, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{SkipPublishers: true})
			if err != nil {
				return err
			}
			defer agent.Close()

			results := agent.CheckConnections(ctx)
			printChecks(cmd.OutOrStdout(), results)
			if !bootstrap.AllOK(results) {
				return errors.New("one or more connection checks failed")
			}
			return nil
		},
	}
}

func printChecks(out io.Writer, results []bootstrap.ConnectionResult) {
	for _, r := range results {
		mark := "FAIL"
		if r.OK {
			mark = "OK"
		}
		fmt.Fprintf(out, "%-4s %-22s %-8s %s\n", mark, r.Name, r.Duration.Round(time.Millisecond), r.Detail)
	}
}

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete recorded runs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			logger := logging.New(cfg.LogLevel)

			ctx, stop := signalContext()
			defer stop()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			cutoff := time.Now().UTC().Add(-olderThan)
			deleted, err := runlog.NewStore(pool).PurgeBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			logger.Info("pruned run history", "cutoff", cutoff, "deleted", deleted)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d runs started before %s\n", deleted, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Retention window for run history")
	return cmd
}
