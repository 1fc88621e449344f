package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/config"
	"github.com/harrison/fleetd/internal/dispatch"
	"github.com/harrison/fleetd/internal/logger"
	"github.com/harrison/fleetd/internal/remote"
	"github.com/harrison/fleetd/internal/store"
)

// loadConfig resolves the effective configuration: the --config flag when
// set, otherwise .fleetd/config.yaml in the working directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the record store at the configured path.
func openStore(cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store at %s: %w", cfg.DBPath, err)
	}
	return s, nil
}

// newLogger builds the console logger at the configured level.
func newLogger(cfg *config.Config) *logger.ConsoleLogger {
	return logger.NewConsoleLogger(os.Stdout, cfg.LogLevel)
}

// newRemoteClient returns the remote sync client, or nil when remote sync
// is disabled.
func newRemoteClient(cfg *config.Config) *remote.Client {
	if !cfg.Remote.Enabled {
		return nil
	}
	return remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token)
}

// remoteSync adapts a possibly-nil *remote.Client to the dispatcher's
// RemoteSync surface without passing a typed nil interface.
func remoteSync(client *remote.Client) dispatch.RemoteSync {
	if client == nil {
		return nil
	}
	return client
}
