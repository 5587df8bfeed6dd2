// Package config loads and validates client configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all client configuration knobs loaded via Viper.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Progress ProgressConfig `mapstructure:"progress"`
	Listing  ListingConfig  `mapstructure:"listing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// APIConfig points the client at the import backend.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// ProgressConfig controls how task progress is followed.
type ProgressConfig struct {
	StreamEnabled   bool `mapstructure:"stream_enabled"`
	PollIntervalMs  int  `mapstructure:"poll_interval_ms"`
	PollImmediately bool `mapstructure:"poll_immediately"`
}

// ListingConfig sets product listing defaults.
type ListingConfig struct {
	PerPage int `mapstructure:"per_page"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig optionally exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.user_agent", "catalog-importer/0.1")
	v.SetDefault("progress.stream_enabled", true)
	v.SetDefault("progress.poll_interval_ms", 2000)
	v.SetDefault("progress.poll_immediately", true)
	v.SetDefault("listing.per_page", 50)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.Progress.PollIntervalMs <= 0 {
		return fmt.Errorf("progress.poll_interval_ms must be > 0")
	}
	if c.Listing.PerPage < 1 || c.Listing.PerPage > 100 {
		return fmt.Errorf("listing.per_page must be between 1 and 100")
	}
	return nil
}

// RequestTimeout converts the API timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// PollInterval converts the poll cadence into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Progress.PollIntervalMs) * time.Millisecond
}
