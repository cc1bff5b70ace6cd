package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values resolve in three
// layers: Defaults(), then the YAML file (with ${ENV} expansion), then any
// MESHBOT_* environment overrides.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// validate checks invariants the rest of the system relies on.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Device) == "" {
		return fmt.Errorf("device is required")
	}
	if !strings.HasPrefix(cfg.Device, "unix:") && !strings.HasPrefix(cfg.Device, "tcp:") {
		return fmt.Errorf("device must be a unix: or tcp: endpoint, got %q", cfg.Device)
	}
	if cfg.ChannelIndex < 0 {
		return fmt.Errorf("channel_index must be >= 0, got %d", cfg.ChannelIndex)
	}
	if cfg.CommandPrefix == "" {
		return fmt.Errorf("command_prefix must not be empty")
	}
	if cfg.MaxReplyLen < 16 {
		return fmt.Errorf("max_reply_len must be >= 16, got %d", cfg.MaxReplyLen)
	}
	if cfg.HandlerTimeout <= 0 {
		return fmt.Errorf("handler_timeout must be positive, got %v", cfg.HandlerTimeout)
	}
	if cfg.Mailbox.MaxBodyLen <= 0 {
		return fmt.Errorf("mailbox.max_body_len must be positive, got %d", cfg.Mailbox.MaxBodyLen)
	}
	if cfg.Mailbox.QueueCapacity <= 0 {
		return fmt.Errorf("mailbox.queue_capacity must be positive, got %d", cfg.Mailbox.QueueCapacity)
	}
	if cfg.Mailbox.Retention <= 0 {
		return fmt.Errorf("mailbox.retention must be positive, got %v", cfg.Mailbox.Retention)
	}
	if cfg.Weather.Units != "metric" && cfg.Weather.Units != "imperial" {
		return fmt.Errorf("weather.units must be 'metric' or 'imperial', got %q", cfg.Weather.Units)
	}
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if cfg.API.Key == "" {
			return fmt.Errorf("api.key is required when api.enabled is true")
		}
	}
	return nil
}
