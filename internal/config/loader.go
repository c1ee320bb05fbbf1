package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from the YAML file at configPath (optional),
// then overrides with DP3T_-prefixed environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (DP3T_APP_APP_ID, DP3T_SYNC_DAYS, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map the first underscore-separated segment to
// the section and the rest to the field:
//
//	DP3T_APP_APP_ID       -> app.app_id
//	DP3T_SYNC_HTTP_TIMEOUT -> sync.http_timeout
//	DP3T_CALIBRATION      -> calibration
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(content) > maxConfigFileSize {
			return nil, fmt.Errorf("config file exceeds %d bytes", maxConfigFileSize)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("DP3T_", ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// sections are the top-level config groups an env var can address.
var sections = []string{"app", "sync", "paths", "logging"}

func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "DP3T_"))
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}
