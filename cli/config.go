package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/daemon"
)

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Config file (default: ./arbor.yaml, then ~/.arbor/config.yaml)")
}

// loadConfig discovers and loads the daemon config, then applies ARBOR_*
// environment overrides. Without a config file the defaults are used.
func loadConfig(cmd *cobra.Command) (daemon.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := daemon.DiscoverConfigPath(explicit)
	if err != nil {
		return daemon.Config{}, exitError(exitFileNotFound, "%v", err)
	}

	cfg := daemon.DefaultConfig()
	if found {
		cfg, err = daemon.LoadConfig(path)
		if err != nil {
			return daemon.Config{}, exitError(exitValidation, "%v", err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return daemon.Config{}, exitError(exitValidation, "%v", err)
	}
	return cfg, nil
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "Event store driver: memory | sqlite | redis (overrides config)")
	cmd.Flags().String("dsn", "", "SQLite event store DSN (overrides config)")
	cmd.Flags().String("redis-addr", "", "Redis event store address (overrides config)")
}

// applyStoreFlags overrides the configured event store from flags.
func applyStoreFlags(cmd *cobra.Command, cfg *daemon.Config) error {
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Driver = v
	}
	if v, _ := cmd.Flags().GetString("dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.Store.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitValidation, "%v", err)
	}
	return nil
}
