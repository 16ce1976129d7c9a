package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "store.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateSync()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateReport()...)

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	// The run-state directory must stay inside the project.
	rs := c.Store.RunStateDir
	if rs == "" || filepath.IsAbs(rs) || strings.HasPrefix(filepath.Clean(rs), "..") {
		errors = append(errors, ValidationError{
			Field:   "store.run_state_dir",
			Value:   rs,
			Message: "must be a relative path inside the base directory",
		})
	}

	if strings.TrimSpace(c.Store.Project) == "" {
		errors = append(errors, ValidationError{
			Field:   "store.project",
			Value:   c.Store.Project,
			Message: "must not be empty",
		})
	}

	const maxRetries = 20
	if c.Store.MaxRetries < 1 || c.Store.MaxRetries > maxRetries {
		errors = append(errors, ValidationError{
			Field:   "store.max_retries",
			Value:   c.Store.MaxRetries,
			Message: fmt.Sprintf("must be between 1 and %d", maxRetries),
		})
	}

	if c.Store.RetryBaseDelayMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.retry_base_delay_ms",
			Value:   c.Store.RetryBaseDelayMs,
			Message: "must be positive",
		})
	}

	if c.Store.HistoryLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.history_limit",
			Value:   c.Store.HistoryLimit,
			Message: "must be at least 1",
		})
	}

	if c.Store.BackupLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.backup_limit",
			Value:   c.Store.BackupLimit,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.HeartbeatIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.heartbeat_interval_seconds",
			Value:   c.Session.HeartbeatIntervalSeconds,
			Message: "must be positive",
		})
	}

	// A session must get at least one heartbeat in before it can be
	// declared dead.
	if c.Session.DeadThresholdSeconds <= c.Session.HeartbeatIntervalSeconds {
		errors = append(errors, ValidationError{
			Field:   "session.dead_threshold_seconds",
			Value:   c.Session.DeadThresholdSeconds,
			Message: fmt.Sprintf("must exceed session.heartbeat_interval_seconds (%d)", c.Session.HeartbeatIntervalSeconds),
		})
	}

	return errors
}

func (c *Config) validateSync() []ValidationError {
	var errors []ValidationError

	const minPollMs = 10
	if c.Sync.PollIntervalMs < minPollMs {
		errors = append(errors, ValidationError{
			Field:   "sync.poll_interval_ms",
			Value:   c.Sync.PollIntervalMs,
			Message: fmt.Sprintf("must be at least %d", minPollMs),
		})
	}

	if c.Sync.StopTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.stop_timeout_seconds",
			Value:   c.Sync.StopTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateReport() []ValidationError {
	if !strings.Contains(c.Report.Addr, ":") {
		return []ValidationError{{
			Field:   "report.addr",
			Value:   c.Report.Addr,
			Message: "must be host:port",
		}}
	}
	return nil
}
