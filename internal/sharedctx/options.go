package sharedctx

import (
	"time"

	"dario.cat/mergo"

	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/metrics"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultHistoryLimit   = 50
)

// Config holds the manager's tunables.
type Config struct {
	// Project is written into documents the manager creates from scratch.
	Project string
	// MaxRetries is the total number of write attempts.
	MaxRetries int
	// RetryBaseDelay is the wait after the first failed attempt; each later
	// wait doubles.
	RetryBaseDelay time.Duration
	// HistoryLimit caps versionHistory and the retained snapshots.
	HistoryLimit int
	// BackupLimit caps the rotating document backups.
	BackupLimit int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Project:        "agentsync",
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
		HistoryLimit:   DefaultHistoryLimit,
		BackupLimit:    store.DefaultBackupLimit,
	}
}

func (c Config) withDefaults() (Config, error) {
	if err := mergo.Merge(&c, DefaultConfig()); err != nil {
		return c, err
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	return c, nil
}

type managerOptions struct {
	logger    *logging.Logger
	metrics   *metrics.Metrics
	bus       *event.Bus
	now       func() time.Time
	storeOpts []store.Option
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithMetrics sets the Prometheus collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// WithBus sets the bus that receives DocumentWrittenEvent.
func WithBus(b *event.Bus) Option {
	return func(o *managerOptions) { o.bus = b }
}

// WithClock sets the time source for updatedAt, record timestamps and
// backup names.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) { o.now = now }
}

// WithStoreOptions passes options through to the underlying FileStore.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *managerOptions) { o.storeOpts = append(o.storeOpts, opts...) }
}
