// Package config loads process configuration with the precedence
// defaults < config file < GOLUMEN_* environment < runtime overrides.
package config

import "time"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Library  LibraryConfig  `mapstructure:"library"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Rescan   RescanConfig   `mapstructure:"rescan"`

	// Workers is the default batch worker pool size.
	Workers int `mapstructure:"workers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`

	File LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

type LibraryConfig struct {
	// Path is the sqlite database location. ":memory:" for ephemeral runs.
	Path string `mapstructure:"path"`

	// MediaRoot is the local directory rescan walks by default.
	MediaRoot string `mapstructure:"media_root"`
}

type JobsConfig struct {
	// Dir is the root for persisted job records. Empty disables
	// write-through persistence.
	Dir string `mapstructure:"dir"`
}

type AnalysisConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollCacheTTL time.Duration `mapstructure:"poll_cache_ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type RescanConfig struct {
	// PageRate caps source listing pages per second. Zero is unlimited.
	PageRate float64 `mapstructure:"page_rate"`
}
