// Package config loads application settings from the config file and
// environment.
//
// Precedence, highest first: STOCKTAKE_* environment variables, then
// $STOCKTAKE_HOME/config.yaml, then built-in defaults. Keys use dots in
// the file (remote.base_url) and underscores in the environment
// (STOCKTAKE_REMOTE_BASE_URL).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	Remote struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`

	Sync struct {
		Interval      time.Duration `mapstructure:"interval"`
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"sync"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Daemon struct {
		ImportsDir string `mapstructure:"imports_dir"`
		LogFile    string `mapstructure:"log_file"`
	} `mapstructure:"daemon"`

	Dashboard struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"dashboard"`
}

// Home returns the application home directory: $STOCKTAKE_HOME when set,
// otherwise ~/.stocktake.
func Home() string {
	if home := os.Getenv("STOCKTAKE_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".stocktake"
	}
	return filepath.Join(userHome, ".stocktake")
}

// Load reads the configuration. A missing config file is not an error:
// defaults plus environment overrides are enough to run.
func Load() (*Config, error) {
	home := Home()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(home)

	v.SetEnvPrefix("STOCKTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("db.path", filepath.Join(home, "stocktake.db"))
	v.SetDefault("daemon.imports_dir", filepath.Join(home, "imports"))
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("dashboard.port", 8484)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
