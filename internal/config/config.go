// Package config loads application settings. Precedence: environment
// variables (SKYSYNC_*) > config file (~/.config/skysync/config.yaml) >
// built-in defaults. Per-account settings live in the account store, not
// here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SKYSYNC"
	appDir    = "skysync"
)

// Config holds process-wide settings.
type Config struct {
	DataDir         string `mapstructure:"data_dir"`
	DatabasePath    string `mapstructure:"database_path"`
	LogFile         string `mapstructure:"log_file"`
	LogLevel        string `mapstructure:"log_level"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RetryDelayMs    int    `mapstructure:"retry_delay_ms"`
	WatchDebounceMs int    `mapstructure:"watch_debounce_ms"`
}

// Load reads the config from the default location.
func Load() (*Config, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads the config from dir. A missing config file is not an
// error; defaults and environment variables still apply.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", dir)
	v.SetDefault("log_level", "info")
	v.SetDefault("max_parallel", 3)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay_ms", 500)
	v.SetDefault("watch_debounce_ms", 2000)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "skysync.db")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "logs", "skysync.log")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}
	if c.MaxParallel > 10 {
		c.MaxParallel = 10
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// TokenPath returns where the OAuth token for an account is stored. Token
// acquisition itself is out of scope; the file is expected to hold a JSON
// oauth2.Token.
func (c *Config) TokenPath(hashedAccountID string) string {
	return filepath.Join(c.DataDir, "tokens", hashedAccountID+".json")
}

// DefaultConfigDir is ~/.config/skysync (or the platform equivalent).
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}
