package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/askrepo/askrepo/internal/server"
	"github.com/askrepo/askrepo/internal/workflow"
	"github.com/askrepo/askrepo/pkg/version"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the askrepo HTTP API server.

By default an ingestion worker runs in-process, so uploaded codebases are
indexed by the same process that accepts them. Pass --no-worker to run the
API alone and execute ingestion in dedicated 'askrepo worker' processes
sharing the same data directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, noWorker)
		},
	}

	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not run an ingestion worker in this process")

	return cmd
}

func runServe(cmd *cobra.Command, noWorker bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogging(cfg, "server", true)
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

	logger.Info("askrepo_starting",
		slog.String("version", version.Version),
		slog.String("environment", cfg.Environment),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.Bool("in_process_worker", !noWorker))

	srv := server.New(cfg, server.Deps{
		Codebases: a.codebases,
		Index:     a.index,
		Sessions:  a.sessions,
		KV:        a.kv,
		Engine:    a.engine,
		Pipeline:  a.pipeline,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if !noWorker {
		worker := workflow.NewWorker(a.engine, cfg.Ingest.Workers, logger)
		g.Go(func() error { return worker.Run(ctx) })
	}

	// The worker reports ctx.Err() on graceful shutdown.
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("askrepo_stopped", slog.String("error", err.Error()))
		return err
	}
	logger.Info("askrepo_stopped")
	return nil
}
