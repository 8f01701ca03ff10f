// Package commands implements the memobridge CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/memobridge/pkg/memobridge/config"
)

// NewRootCmd creates the root `memobridge` command with all subcommands.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "memobridge",
		Short: "Bridge between a voice-memory platform and personal messaging",
		Long: `memobridge delivers conversation recaps, messages, and reminders from a
voice-memory capture platform to a user's personal messaging account.

Run "memobridge setup" first to create the config, then "memobridge link"
to pair an account and "memobridge serve" to start the HTTP daemon.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	// Secrets may live in a local .env next to the binary.
	_ = godotenv.Load()

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newLinkCmd(),
		newConsoleCmd(),
		newContactsCmd(),
		newHealthCmd(),
	)

	return rootCmd
}

// resolveConfig loads config from the --config flag, a discovered file, or
// defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, nil
	}

	return config.DefaultConfig(), nil
}

// newLogger builds the process logger from config plus the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
