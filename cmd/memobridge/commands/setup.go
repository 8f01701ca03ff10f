package commands

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/memobridge/pkg/memobridge/config"
)

// newSetupCmd creates the `memobridge setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the data directory, listen address, and the API secret the
voice-memory platform will present on every call. The secret is stored as a
bcrypt hash in the config and, when the OS keyring is available, the raw
value is kept there too.

Examples:
  memobridge setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	dataDir := cfg.Data.Dir
	host := cfg.Server.Host
	port := strconv.Itoa(cfg.Server.Port)
	level := cfg.Logging.Level
	var secret string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Session auth, contacts, and reminders live here.").
				Value(&dataDir),
			huh.NewInput().
				Title("Listen host").
				Value(&host),
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					p, err := strconv.Atoi(s)
					if err != nil || p < 1 || p > 65535 {
						return fmt.Errorf("port must be a number between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("API secret").
				Description("Bearer token the platform presents on every request.").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if len(s) < 8 {
						return fmt.Errorf("use at least 8 characters")
					}
					return nil
				}).
				Value(&secret),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("info", "info"),
					huh.NewOption("debug", "debug"),
				).
				Value(&level),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Data.Dir = dataDir
	cfg.Server.Host = host
	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Logging.Level = level

	if err := config.StoreAPISecret(cfg, secret, slog.Default()); err != nil {
		return fmt.Errorf("storing API secret: %w", err)
	}

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := config.SaveConfigToFile(cfg, configPath); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", configPath)
	fmt.Println("Next steps:")
	fmt.Println("  memobridge link <uid>   # pair a messaging account")
	fmt.Println("  memobridge serve        # start the daemon")
	return nil
}
