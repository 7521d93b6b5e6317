package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/askrepo/askrepo/configs"
	"github.com/askrepo/askrepo/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the askrepo configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/askrepo/config.yaml)
  3. Explicit config file (--config)
  4. Environment variables (ASKREPO_*)`,
		Example: `  # Create user config from the annotated template
  askrepo config init

  # Show effective configuration (merged from all sources)
  askrepo config show

  # Print user config file path
  askrepo config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Write the annotated configuration template to the user config path
(~/.config/askrepo/config.yaml, or under $XDG_CONFIG_HOME if set).

Edit it afterwards to set the embedding and LLM provider credentials;
the server refuses to start with missing or placeholder keys.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	path := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		backup, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("failed to back up existing config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backed up existing config to %s\n", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Set embedding.api_key and llm.api_key before starting the server.")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging defaults, the user config, any
--config file, and environment overrides. API keys are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := config.LoadUnchecked(configPath)
	if err != nil {
		return err
	}

	masked := *cfg
	masked.Embedding.APIKey = maskKey(cfg.Embedding.APIKey)
	masked.LLM.APIKey = maskKey(cfg.LLM.APIKey)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(&masked)
	}

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// maskKey keeps a short prefix so operators can tell which key is set.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
