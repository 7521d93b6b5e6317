package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for MCP server mode.
// The stdio transport uses stdout exclusively for JSON-RPC, and clients
// treat stray stderr output as a connection failure, so MCP mode logs
// only to the file.
func SetupMCPMode(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      ProcessLogPath("mcp"),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("mcp_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
