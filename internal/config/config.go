// Package config provides configuration loading for the tracing SDK.
package config

import (
	"fmt"
	"time"
)

// Config is the SDK configuration. App selects the application identity;
// the rest tunes the local collaborators.
type Config struct {
	App     AppConfig     `koanf:"app"`
	Sync    SyncConfig    `koanf:"sync"`
	Paths   PathsConfig   `koanf:"paths"`
	Logging LoggingConfig `koanf:"logging"`

	// Calibration enables the partial tracking modes and the raw
	// handshake diagnostic feed.
	Calibration bool `koanf:"calibration"`
}

// AppConfig selects discovery or manual descriptor resolution. When
// BackendBaseURL is set the config is manual; otherwise AppID is
// resolved through DiscoveryURL.
type AppConfig struct {
	AppID          string `koanf:"app_id"`
	DiscoveryURL   string `koanf:"discovery_url"`
	BackendBaseURL string `koanf:"backend_base_url"`
	BucketBaseURL  string `koanf:"bucket_base_url"`
}

// Manual reports whether the descriptor is fixed at construction.
func (a AppConfig) Manual() bool { return a.BackendBaseURL != "" }

// SyncConfig tunes the synchronization cycle.
type SyncConfig struct {
	// Days is the exposed-keys day window fetched per cycle.
	Days int `koanf:"days"`

	// HTTPTimeout bounds each backend request.
	HTTPTimeout Duration `koanf:"http_timeout"`
}

// PathsConfig locates the SDK's local files.
type PathsConfig struct {
	Database string `koanf:"database"`
	KeyChain string `koanf:"key_chain"`
	Defaults string `koanf:"defaults"`
}

// LoggingConfig tunes the zap logger built by the CLI.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration defaults applied below file and
// environment overrides.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			Days:        10,
			HTTPTimeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.App.AppID == "" {
		return fmt.Errorf("app.app_id is required")
	}
	if !c.App.Manual() && c.App.DiscoveryURL == "" {
		return fmt.Errorf("either app.backend_base_url or app.discovery_url is required")
	}
	if c.Sync.Days <= 0 {
		return fmt.Errorf("sync.days must be positive, got %d", c.Sync.Days)
	}
	if c.Paths.Database == "" {
		return fmt.Errorf("paths.database is required")
	}
	if c.Paths.KeyChain == "" {
		return fmt.Errorf("paths.key_chain is required")
	}
	if c.Paths.Defaults == "" {
		return fmt.Errorf("paths.defaults is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
