// Package cmd provides the CLI commands for askrepo.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askrepo/askrepo/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the askrepo CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "askrepo",
		Short: "Retrieval-augmented code understanding service",
		Long: `askrepo ingests codebases (uploaded archives or remote repositories),
indexes them for semantic retrieval, and answers questions about the code
with file/line citations over a streaming HTTP API.

Run 'askrepo serve' to start the API server with an in-process ingestion
worker, or 'askrepo mcp' to expose the query tools to MCP clients.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("askrepo version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/askrepo/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}
