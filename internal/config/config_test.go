package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Store.RunStateDir != ".agentsync" {
		t.Errorf("Store.RunStateDir = %q, want %q", cfg.Store.RunStateDir, ".agentsync")
	}
	if cfg.Store.MaxRetries != 3 {
		t.Errorf("Store.MaxRetries = %d, want 3", cfg.Store.MaxRetries)
	}
	if cfg.Store.HistoryLimit != 50 {
		t.Errorf("Store.HistoryLimit = %d, want 50", cfg.Store.HistoryLimit)
	}
	if cfg.Session.HeartbeatIntervalSeconds != 30 {
		t.Errorf("Session.HeartbeatIntervalSeconds = %d, want 30", cfg.Session.HeartbeatIntervalSeconds)
	}
	if cfg.Session.DeadThresholdSeconds != 120 {
		t.Errorf("Session.DeadThresholdSeconds = %d, want 120", cfg.Session.DeadThresholdSeconds)
	}
	if cfg.Sync.DisableWatch {
		t.Error("Sync.DisableWatch should be false by default")
	}
	if cfg.Logging.Disabled {
		t.Error("Logging.Disabled should be false by default")
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", ValidationErrors(errs))
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.RetryBaseDelay() != 100*time.Millisecond {
		t.Errorf("RetryBaseDelay() = %v, want 100ms", cfg.Store.RetryBaseDelay())
	}
	if cfg.Report.Addr != Default().Report.Addr {
		t.Errorf("Report.Addr = %q, want default", cfg.Report.Addr)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  project: checkout
  history_limit: 10
session:
  dead_threshold_seconds: 60
sync:
  poll_interval_ms: 250
  disable_watch: true
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := newViper(t)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Project != "checkout" {
		t.Errorf("Store.Project = %q, want checkout", cfg.Store.Project)
	}
	if cfg.Store.HistoryLimit != 10 {
		t.Errorf("Store.HistoryLimit = %d, want 10", cfg.Store.HistoryLimit)
	}
	if cfg.Session.DeadThreshold() != time.Minute {
		t.Errorf("DeadThreshold() = %v, want 1m", cfg.Session.DeadThreshold())
	}
	if !cfg.Sync.DisableWatch {
		t.Error("Sync.DisableWatch should be true from file")
	}
	// Untouched keys keep their defaults.
	if cfg.Store.MaxRetries != 3 {
		t.Errorf("Store.MaxRetries = %d, want default 3", cfg.Store.MaxRetries)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGENTSYNC_STORE_PROJECT", "from-env")
	t.Setenv("AGENTSYNC_SYNC_POLL_INTERVAL_MS", "500")

	cfg, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Project != "from-env" {
		t.Errorf("Store.Project = %q, want from-env", cfg.Store.Project)
	}
	if cfg.Sync.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", cfg.Sync.PollInterval())
	}
}

func TestLoad_ZeroValuesFilledFromDefaults(t *testing.T) {
	// A bare viper has no defaults registered; mergo fills the gaps.
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.RunStateDir != ".agentsync" || cfg.Sync.PollIntervalMs != 1000 {
		t.Errorf("zero values not filled: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	v := newViper(t)
	v.Set("store.max_retries", -1)
	v.Set("logging.level", "verbose")

	_, err := Load(v)
	if err == nil {
		t.Fatal("Load() should reject invalid values")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Store.BaseDir = t.TempDir()

	mc := cfg.ManagerConfig()
	if mc.MaxRetries != cfg.Store.MaxRetries || mc.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("ManagerConfig() = %+v", mc)
	}

	cc := cfg.CoordinatorConfig()
	if cc.DeadThreshold != 120*time.Second || cc.PollInterval != time.Second || cc.StopTimeout != 5*time.Second {
		t.Errorf("CoordinatorConfig() = %+v", cc)
	}

	paths, err := cfg.Paths()
	if err != nil {
		t.Fatalf("Paths() error = %v", err)
	}
	want := filepath.Join(cfg.Store.BaseDir, ".agentsync", "context", "shared_context.json")
	if paths.Document != want {
		t.Errorf("Paths().Document = %q, want %q", paths.Document, want)
	}

	logDir, err := cfg.LogDir()
	if err != nil {
		t.Fatal(err)
	}
	if logDir != filepath.Join(cfg.Store.BaseDir, ".agentsync", "logs") {
		t.Errorf("LogDir() = %q", logDir)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != "/tmp/xdg/agentsync" {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != "/tmp/xdg/agentsync/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}
