package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/daemon"
)

// NewDaemonCmd creates the "daemon" subcommand.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled trees and serve the admin API",
		Long: "Start the arbor daemon: trees declared under schedules in the config file " +
			"run on their cron expressions, events are written to the configured store, " +
			"and an admin HTTP server exposes /healthz, /metrics and /api.",
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}

	addConfigFlag(cmd)
	addStoreFlags(cmd)
	cmd.Flags().String("listen", "", "Admin server address (overrides config, \"off\" disables)")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	logger := commandLogger(cmd, slog.LevelInfo)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
		if listen == "off" {
			cfg.Listen = ""
		}
	}
	if err := applyStoreFlags(cmd, &cfg); err != nil {
		return err
	}

	opts := daemon.Options{Logger: logger}
	if cfg.OTLPEndpoint != "" {
		tracer, shutdown, err := setupTracing(cmd.Context(), cfg.OTLPEndpoint)
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("flushing spans failed", "error", err)
			}
		}()
		opts.Tracer = tracer
	}

	d, err := daemon.New(cfg, opts)
	if err != nil {
		return exitError(exitRuntime, "creating daemon: %v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Listen != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "arbor daemon listening on %s\n", cfg.Listen)
	}
	if err := d.Run(ctx); err != nil {
		return exitError(exitRuntime, "daemon: %v", err)
	}
	return nil
}
