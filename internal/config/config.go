package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeout policies for handshakes that expire without acknowledgment.
const (
	// OnTimeoutFail transitions the task to failed when the handshake deadline
	// passes. This is the default.
	OnTimeoutFail = "fail"

	// OnTimeoutHold leaves the task in awaiting_handshake for manual
	// intervention, matching the legacy behavior.
	OnTimeoutHold = "hold"
)

// RemoteConfig configures the optional remote synchronization service.
type RemoteConfig struct {
	// Enabled turns remote sync on. When disabled the coordinator is fully
	// offline and no remote calls are attempted.
	Enabled bool `yaml:"enabled"`

	// BaseURL is the remote API root, e.g. https://fleet.example.com/api
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token for the authenticated session
	Token string `yaml:"token"`
}

// Config represents fleetd configuration options
type Config struct {
	// DataDir is where device mailbox and telemetry files live
	DataDir string `yaml:"data_dir"`

	// DBPath is the path to the record store database
	DBPath string `yaml:"db_path"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// PollInterval is the cadence of handshake and completion polling
	PollInterval time.Duration `yaml:"poll_interval"`

	// HandshakeTimeout bounds how long a device may take to acknowledge a
	// dispatched task
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// OnTimeout selects what happens to a task whose handshake expires:
	// "fail" or "hold"
	OnTimeout string `yaml:"on_timeout"`

	// LocationSyncInterval is how often device locations are refreshed from
	// telemetry logs
	LocationSyncInterval time.Duration `yaml:"location_sync_interval"`

	// Remote contains remote sync configuration
	Remote RemoteConfig `yaml:"remote"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		DataDir:              ".fleetd/data",
		DBPath:               ".fleetd/fleet.db",
		LogLevel:             "info",
		PollInterval:         time.Second,
		HandshakeTimeout:     30 * time.Second,
		OnTimeout:            OnTimeoutFail,
		LocationSyncInterval: 5 * time.Minute,
		Remote: RemoteConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are written as strings in YAML ("30s", "5m"), so unmarshal
	// into a temporary struct first.
	type yamlConfig struct {
		DataDir              string       `yaml:"data_dir"`
		DBPath               string       `yaml:"db_path"`
		LogLevel             string       `yaml:"log_level"`
		PollInterval         string       `yaml:"poll_interval"`
		HandshakeTimeout     string       `yaml:"handshake_timeout"`
		OnTimeout            string       `yaml:"on_timeout"`
		LocationSyncInterval string       `yaml:"location_sync_interval"`
		Remote               RemoteConfig `yaml:"remote"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.DataDir != "" {
		cfg.DataDir = yamlCfg.DataDir
	}
	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.OnTimeout != "" {
		cfg.OnTimeout = yamlCfg.OnTimeout
	}
	if yamlCfg.PollInterval != "" {
		d, err := time.ParseDuration(yamlCfg.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval %q: %w", yamlCfg.PollInterval, err)
		}
		cfg.PollInterval = d
	}
	if yamlCfg.HandshakeTimeout != "" {
		d, err := time.ParseDuration(yamlCfg.HandshakeTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid handshake_timeout %q: %w", yamlCfg.HandshakeTimeout, err)
		}
		cfg.HandshakeTimeout = d
	}
	if yamlCfg.LocationSyncInterval != "" {
		d, err := time.ParseDuration(yamlCfg.LocationSyncInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid location_sync_interval %q: %w", yamlCfg.LocationSyncInterval, err)
		}
		cfg.LocationSyncInterval = d
	}

	// Merge the remote section only if it was present at all, so an absent
	// section keeps defaults while an explicit enabled:false is honored.
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if remoteSection, exists := rawMap["remote"]; exists && remoteSection != nil {
			cfg.Remote = yamlCfg.Remote
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .fleetd/config.yaml in the
// specified directory. If the directory or file doesn't exist, returns
// default configuration without error.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".fleetd", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration.
// Non-nil flag values override configuration values.
func (c *Config) MergeWithFlags(dataDir *string, dbPath *string, logLevel *string, pollInterval *time.Duration, handshakeTimeout *time.Duration) {
	if dataDir != nil {
		c.DataDir = *dataDir
	}
	if dbPath != nil {
		c.DBPath = *dbPath
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if pollInterval != nil {
		c.PollInterval = *pollInterval
	}
	if handshakeTimeout != nil {
		c.HandshakeTimeout = *handshakeTimeout
	}
}

// Validate validates the configuration values.
// Returns an error if any values are invalid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0, got %v", c.PollInterval)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be > 0, got %v", c.HandshakeTimeout)
	}
	if c.HandshakeTimeout < c.PollInterval {
		return fmt.Errorf("handshake_timeout %v must not be shorter than poll_interval %v", c.HandshakeTimeout, c.PollInterval)
	}

	if c.OnTimeout != OnTimeoutFail && c.OnTimeout != OnTimeoutHold {
		return fmt.Errorf("invalid on_timeout %q, must be %q or %q", c.OnTimeout, OnTimeoutFail, OnTimeoutHold)
	}

	if c.LocationSyncInterval <= 0 {
		return fmt.Errorf("location_sync_interval must be > 0, got %v", c.LocationSyncInterval)
	}

	if c.Remote.Enabled && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url cannot be empty when remote sync is enabled")
	}

	return nil
}
