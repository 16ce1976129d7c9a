package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"absolute run state dir", func(c *Config) { c.Store.RunStateDir = "/var/agentsync" }, "store.run_state_dir"},
		{"escaping run state dir", func(c *Config) { c.Store.RunStateDir = "../elsewhere" }, "store.run_state_dir"},
		{"blank project", func(c *Config) { c.Store.Project = "  " }, "store.project"},
		{"zero retries", func(c *Config) { c.Store.MaxRetries = 0 }, "store.max_retries"},
		{"too many retries", func(c *Config) { c.Store.MaxRetries = 50 }, "store.max_retries"},
		{"zero retry delay", func(c *Config) { c.Store.RetryBaseDelayMs = 0 }, "store.retry_base_delay_ms"},
		{"zero history", func(c *Config) { c.Store.HistoryLimit = 0 }, "store.history_limit"},
		{"negative backups", func(c *Config) { c.Store.BackupLimit = -1 }, "store.backup_limit"},
		{"zero heartbeat", func(c *Config) { c.Session.HeartbeatIntervalSeconds = 0 }, "session.heartbeat_interval_seconds"},
		{"threshold below heartbeat", func(c *Config) { c.Session.DeadThresholdSeconds = 30 }, "session.dead_threshold_seconds"},
		{"poll too fast", func(c *Config) { c.Sync.PollIntervalMs = 1 }, "sync.poll_interval_ms"},
		{"zero stop timeout", func(c *Config) { c.Sync.StopTimeoutSeconds = 0 }, "sync.stop_timeout_seconds"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"huge log", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative log backups", func(c *Config) { c.Logging.MaxBackups = -2 }, "logging.max_backups"},
		{"addr without port", func(c *Config) { c.Report.Addr = "localhost" }, "report.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), ValidationErrors(errs))
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidate_LevelIsCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", ValidationErrors(errs))
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}

	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := one.Error(); got != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", got)
	}

	two := append(one, ValidationError{Field: "b", Value: "x", Message: "worse"})
	got := two.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "2. b: worse") {
		t.Errorf("multi Error() = %q", got)
	}
}
