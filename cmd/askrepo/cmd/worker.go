package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askrepo/askrepo/internal/workflow"
	"github.com/askrepo/askrepo/pkg/version"
)

// newWorkerCmd creates the worker command.
func newWorkerCmd() *cobra.Command {
	var concurrency int
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a dedicated ingestion worker",
		Long: `Run a dedicated ingestion worker against the shared data directory.

The worker claims queued ingestion runs from the durable workflow journal
and executes them: acquire, parse and chunk, secret scan, embed, index.
A run interrupted by a crash resumes from its last completed activity.
Multiple workers may share one journal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, concurrency, once)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent workflow runs (default: ingest.workers from config)")
	cmd.Flags().BoolVar(&once, "once", false, "Drain runnable work and exit instead of polling")

	return cmd
}

func runWorker(cmd *cobra.Command, concurrency int, once bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogging(cfg, "worker", true)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("startup_failed", slog.String("error", err.Error()))
		return err
	}
	defer a.Close()
	a.registerIngest()

	if concurrency < 1 {
		concurrency = cfg.Ingest.Workers
	}
	worker := workflow.NewWorker(a.engine, concurrency, logger)

	logger.Info("worker_starting",
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.Int("concurrency", concurrency),
		slog.Bool("once", once))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		return worker.RunOnce(ctx)
	}
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_stopped", slog.String("error", err.Error()))
		return err
	}
	logger.Info("worker_stopped")
	return nil
}
