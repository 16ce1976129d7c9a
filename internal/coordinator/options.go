package coordinator

import (
	"time"

	"dario.cat/mergo"

	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/metrics"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDeadThreshold     = 120 * time.Second
	DefaultPollInterval      = time.Second
	DefaultStopTimeout       = 5 * time.Second

	// watchDebounce coalesces the burst of events one atomic write produces.
	watchDebounce = 50 * time.Millisecond
)

// Config holds the coordinator's tunables.
type Config struct {
	// HeartbeatInterval is how often KeepAlive heartbeats.
	HeartbeatInterval time.Duration
	// DeadThreshold is the silence after which a session is dead.
	DeadThreshold time.Duration
	// PollInterval is the sync loop's tick.
	PollInterval time.Duration
	// StopTimeout bounds how long Stop waits for the sync loop.
	StopTimeout time.Duration
	// DisableWatch turns off the fsnotify wake-up; the loop then relies on
	// polling alone.
	DisableWatch bool
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		DeadThreshold:     DefaultDeadThreshold,
		PollInterval:      DefaultPollInterval,
		StopTimeout:       DefaultStopTimeout,
	}
}

func (c Config) withDefaults() (Config, error) {
	err := mergo.Merge(&c, DefaultConfig())
	return c, err
}

type coordinatorOptions struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*coordinatorOptions)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(o *coordinatorOptions) { o.logger = l }
}

// WithMetrics sets the Prometheus collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *coordinatorOptions) { o.metrics = m }
}

// WithBus sets the bus that receives session, task and context events.
func WithBus(b *event.Bus) Option {
	return func(o *coordinatorOptions) { o.bus = b }
}

// WithClock sets the time source for heartbeats and liveness checks.
func WithClock(now func() time.Time) Option {
	return func(o *coordinatorOptions) { o.now = now }
}
