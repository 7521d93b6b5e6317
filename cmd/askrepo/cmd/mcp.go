package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askrepo/askrepo/internal/logging"
	"github.com/askrepo/askrepo/internal/mcp"
	"github.com/askrepo/askrepo/pkg/version"
)

// newMCPCmd creates the mcp command.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve query tools over the Model Context Protocol (stdio)",
		Long: `Expose ask_codebase and list_codebases to MCP clients over stdio.

Stdout carries JSON-RPC exclusively, so logs go to the file only. Point
your MCP client at 'askrepo mcp' and ingest codebases separately with
'askrepo serve'.`,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cleanup, err := logging.SetupMCPMode(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer cleanup()
	logger := slog.Default()

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("startup_failed", slog.String("error", err.Error()))
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(a.pipeline, a.codebases, version.Version, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
