// Package config loads agentsync settings from a YAML file, AGENTSYNC_*
// environment variables and command-line flags, layered through viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/agentsync/internal/coordinator"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g.
// AGENTSYNC_STORE_BASE_DIR.
const EnvPrefix = "AGENTSYNC"

// Config holds all agentsync configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Session SessionConfig `mapstructure:"session"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
	Report  ReportConfig  `mapstructure:"report"`
}

// StoreConfig controls where the shared context document lives and how
// writes to it are retried and recorded.
type StoreConfig struct {
	// BaseDir is the project directory the run-state directory lives under.
	// Empty means the current working directory.
	BaseDir string `mapstructure:"base_dir"`
	// RunStateDir is the directory under BaseDir holding all agentsync state.
	RunStateDir string `mapstructure:"run_state_dir"`
	// Project is written into newly created documents.
	Project string `mapstructure:"project"`
	// MaxRetries is the total number of attempts for one write.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelayMs is the first retry wait; later waits double.
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
	// HistoryLimit caps the version history and retained snapshots.
	HistoryLimit int `mapstructure:"history_limit"`
	// BackupLimit caps the rotating document backups.
	BackupLimit int `mapstructure:"backup_limit"`
}

// SessionConfig controls liveness.
type SessionConfig struct {
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	DeadThresholdSeconds     int `mapstructure:"dead_threshold_seconds"`
}

// SyncConfig controls the background shared-context sync loop.
type SyncConfig struct {
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
	// DisableWatch turns off filesystem notifications so the loop only polls.
	// Useful on network filesystems where inotify events are unreliable.
	DisableWatch bool `mapstructure:"disable_watch"`
}

// LoggingConfig controls the structured debug log.
type LoggingConfig struct {
	// Disabled turns file logging off entirely.
	Disabled bool `mapstructure:"disabled"`
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// ReportConfig controls the read-only HTTP report server.
type ReportConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	mgr := sharedctx.DefaultConfig()
	coord := coordinator.DefaultConfig()
	rot := logging.DefaultRotationConfig()

	return &Config{
		Store: StoreConfig{
			BaseDir:          "",
			RunStateDir:      store.DefaultRunStateDir,
			Project:          mgr.Project,
			MaxRetries:       mgr.MaxRetries,
			RetryBaseDelayMs: int(mgr.RetryBaseDelay / time.Millisecond),
			HistoryLimit:     mgr.HistoryLimit,
			BackupLimit:      mgr.BackupLimit,
		},
		Session: SessionConfig{
			HeartbeatIntervalSeconds: int(coord.HeartbeatInterval / time.Second),
			DeadThresholdSeconds:     int(coord.DeadThreshold / time.Second),
		},
		Sync: SyncConfig{
			PollIntervalMs:     int(coord.PollInterval / time.Millisecond),
			StopTimeoutSeconds: int(coord.StopTimeout / time.Second),
			DisableWatch:       false,
		},
		Logging: LoggingConfig{
			Disabled:   false,
			Level:      "info",
			MaxSizeMB:  rot.MaxSizeMB,
			MaxBackups: rot.MaxBackups,
		},
		Report: ReportConfig{
			Addr: "127.0.0.1:7878",
		},
	}
}

// SetDefaults registers default values with v and enables AGENTSYNC_*
// environment overrides.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Store defaults
	v.SetDefault("store.base_dir", defaults.Store.BaseDir)
	v.SetDefault("store.run_state_dir", defaults.Store.RunStateDir)
	v.SetDefault("store.project", defaults.Store.Project)
	v.SetDefault("store.max_retries", defaults.Store.MaxRetries)
	v.SetDefault("store.retry_base_delay_ms", defaults.Store.RetryBaseDelayMs)
	v.SetDefault("store.history_limit", defaults.Store.HistoryLimit)
	v.SetDefault("store.backup_limit", defaults.Store.BackupLimit)

	// Session defaults
	v.SetDefault("session.heartbeat_interval_seconds", defaults.Session.HeartbeatIntervalSeconds)
	v.SetDefault("session.dead_threshold_seconds", defaults.Session.DeadThresholdSeconds)

	// Sync defaults
	v.SetDefault("sync.poll_interval_ms", defaults.Sync.PollIntervalMs)
	v.SetDefault("sync.stop_timeout_seconds", defaults.Sync.StopTimeoutSeconds)
	v.SetDefault("sync.disable_watch", defaults.Sync.DisableWatch)

	// Logging defaults
	v.SetDefault("logging.disabled", defaults.Logging.Disabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Report defaults
	v.SetDefault("report.addr", defaults.Report.Addr)
}

// Load reads the configuration from v into a Config struct, fills zero
// values from Default and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentsync"
	}
	return filepath.Join(home, ".config", "agentsync")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolvedBaseDir returns Store.BaseDir, or the working directory when unset.
func (c *Config) ResolvedBaseDir() (string, error) {
	if c.Store.BaseDir != "" {
		return filepath.Abs(c.Store.BaseDir)
	}
	return os.Getwd()
}

// Paths resolves the store layout for this configuration.
func (c *Config) Paths() (store.Paths, error) {
	base, err := c.ResolvedBaseDir()
	if err != nil {
		return store.Paths{}, err
	}
	return store.NewPaths(base, c.Store.RunStateDir), nil
}

// LogDir returns <baseDir>/<runStateDir>/logs.
func (c *Config) LogDir() (string, error) {
	base, err := c.ResolvedBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, c.Store.RunStateDir, "logs"), nil
}

// RetryBaseDelay returns the first retry wait as a time.Duration
func (c *StoreConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// HeartbeatInterval returns the keep-alive period as a time.Duration
func (c *SessionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// DeadThreshold returns the liveness threshold as a time.Duration
func (c *SessionConfig) DeadThreshold() time.Duration {
	return time.Duration(c.DeadThresholdSeconds) * time.Second
}

// PollInterval returns the sync tick as a time.Duration
func (c *SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StopTimeout returns the sync shutdown bound as a time.Duration
func (c *SyncConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// ManagerConfig converts the store section into a sharedctx.Config.
func (c *Config) ManagerConfig() sharedctx.Config {
	return sharedctx.Config{
		Project:        c.Store.Project,
		MaxRetries:     c.Store.MaxRetries,
		RetryBaseDelay: c.Store.RetryBaseDelay(),
		HistoryLimit:   c.Store.HistoryLimit,
		BackupLimit:    c.Store.BackupLimit,
	}
}

// CoordinatorConfig converts the session and sync sections into a
// coordinator.Config.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		HeartbeatInterval: c.Session.HeartbeatInterval(),
		DeadThreshold:     c.Session.DeadThreshold(),
		PollInterval:      c.Sync.PollInterval(),
		StopTimeout:       c.Sync.StopTimeout(),
		DisableWatch:      c.Sync.DisableWatch,
	}
}

// RotationConfig converts the logging section into a logging.RotationConfig.
func (c *Config) RotationConfig() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	}
}
