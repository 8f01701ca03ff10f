package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/memobridge/pkg/memobridge/bridge"
	"github.com/jholhewres/memobridge/pkg/memobridge/config"
	"github.com/jholhewres/memobridge/pkg/memobridge/server"
)

// newServeCmd creates the `memobridge serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP daemon",
		Long: `Start memobridge as a daemon: restores paired sessions, begins the
reminder sweep, and serves the webhook and tool-call API.

Examples:
  memobridge serve
  memobridge serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := newLogger(cmd, cfg)

	// ── Resolve API secret ──
	if !config.ResolveAPISecretHash(cfg, logger) {
		return fmt.Errorf("no API secret configured, run `memobridge setup` or set %s", config.EnvAPISecret)
	}

	// ── Start the bridge ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bridge.New(cfg, logger)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	srv := server.New(b, cfg, logger)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Listen()
	}()

	// ── Wait for shutdown ──
	logger.Info("memobridge running. Press Ctrl+C to stop.",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_dir", cfg.Data.Dir,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		b.Stop()
		return err
	case <-sigChan:
	}

	logger.Info("shutdown signal received, stopping...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	b.Stop()

	return nil
}
