package sharedctx

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/metrics"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// MutateFunc edits a working copy of the current document inside Update.
// Returning errors.ErrAbortUpdate abandons the update without writing.
type MutateFunc func(doc *store.Document) error

// Manager provides versioned, conflict-aware access to the shared document.
// Every operation holds the process-wide lock for the document path, so
// managers and coordinators in one process never interleave.
type Manager struct {
	cfg     Config
	store   *store.FileStore
	mu      *sync.Mutex
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
	now     func() time.Time
}

// NewManager creates a Manager for the document at paths.
func NewManager(paths store.Paths, cfg Config, opts ...Option) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	o := managerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}

	storeOpts := append([]store.Option{
		store.WithBackupLimit(cfg.BackupLimit),
		store.WithClock(o.now),
	}, o.storeOpts...)
	fs, err := store.NewFileStore(paths, storeOpts...)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:     cfg,
		store:   fs,
		mu:      fs.Mutex(),
		logger:  o.logger.WithComponent("sharedctx"),
		metrics: o.metrics,
		bus:     o.bus,
		now:     o.now,
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Store returns the underlying file store.
func (m *Manager) Store() *store.FileStore {
	return m.store
}

// Read loads the current document. A missing or unparsable document is
// replaced by an empty one, which is persisted before Read returns.
func (m *Manager) Read(ctx context.Context) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.store.Load()
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, errors.ErrNotFound) && !errors.IsCorruption(err) {
		return nil, err
	}

	fresh := m.baseline()
	if errors.IsCorruption(err) {
		m.logger.Error("shared document unreadable, re-initializing",
			"path", m.store.Paths().Document,
			"error", err,
			"version", fresh.VersionNumber,
		)
	} else {
		m.logger.Info("shared document missing, initializing", "path", m.store.Paths().Document)
	}

	if err := m.store.Persist(fresh); err != nil {
		return nil, fmt.Errorf("failed to initialize shared document: %w", err)
	}
	return fresh, nil
}

// baseline is the empty document used when nothing usable is on disk. It
// continues from the newest snapshot's version so version numbers and
// snapshot files stay monotonic across a reset.
func (m *Manager) baseline() *store.Document {
	doc := store.NewDocument(m.cfg.Project)
	doc.UpdatedAt = m.now().UTC()
	if versions, err := m.store.Snapshots(); err == nil && len(versions) > 0 {
		doc.VersionNumber = versions[len(versions)-1]
	}
	return doc
}

// loadForWrite returns the persisted document a write builds on. Unlike
// Read it never persists; a missing or corrupt file yields the baseline.
func (m *Manager) loadForWrite() (*store.Document, error) {
	doc, err := m.store.Load()
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, errors.ErrNotFound):
		return m.baseline(), nil
	case errors.IsCorruption(err):
		m.logger.Warn("overwriting unreadable shared document", "error", err)
		return m.baseline(), nil
	default:
		return nil, err
	}
}

// Write stores doc as the next version. The version number, updatedAt and
// versionHistory of doc are ignored and recomputed from the persisted
// document. Failed attempts are retried with exponential backoff; once the
// retry budget is spent the result is a *errors.WriteError.
func (m *Manager) Write(ctx context.Context, doc *store.Document, writerID, description string) error {
	candidate := doc.Clone()
	_, err := m.Update(ctx, writerID, description, func(next *store.Document) error {
		*next = *candidate.Clone()
		return nil
	})
	return err
}

// Update performs a read-modify-write inside a single locked attempt, so
// concurrent updates from one process never overwrite each other. mutate may
// run more than once if an attempt fails and is retried.
func (m *Manager) Update(ctx context.Context, writerID, description string, mutate MutateFunc) (*store.Document, error) {
	log := m.logger.WithSession(writerID)
	attempts := 0

	op := func() (*store.Document, error) {
		attempts++
		doc, err := m.updateOnce(writerID, description, mutate)
		if err != nil && !errors.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return doc, err
	}

	doc, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if errors.IsCorruption(err) {
				m.metrics.ObserveRetry(metrics.CauseValidation)
				log.Error("write rejected by validation, retrying",
					"error", err, "attempt", attempts, "retry_in", wait)
				return
			}
			m.metrics.ObserveRetry(metrics.CauseIO)
			log.Warn("write attempt failed, retrying",
				"error", err, "attempt", attempts, "retry_in", wait)
		}),
	)
	if err != nil {
		if errors.Is(err, errors.ErrAbortUpdate) {
			return nil, err
		}
		m.metrics.ObserveWrite(0, err)
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		log.Error("write failed", "error", err, "attempts", attempts, "description", description)
		return nil, errors.NewWriteError(m.store.Paths().Document, attempts, err).WithWriter(writerID)
	}

	m.metrics.ObserveWrite(doc.VersionNumber, nil)
	m.bus.Publish(event.NewDocumentWrittenEvent(writerID, doc.VersionNumber, description))
	log.Debug("document written", "version", doc.VersionNumber, "description", description)
	return doc, nil
}

// newBackOff yields RetryBaseDelay * 2^attempt with no jitter.
func (m *Manager) newBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     m.cfg.RetryBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         m.cfg.RetryBaseDelay << m.cfg.MaxRetries,
	}
}

func (m *Manager) updateOnce(writerID, description string, mutate MutateFunc) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.loadForWrite()
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	return m.commitLocked(current, next, writerID, description)
}

// commitLocked turns next into version current+1 and persists it. The
// snapshot is written first so every committed version can be rolled back
// to. The caller holds m.mu.
func (m *Manager) commitLocked(current, next *store.Document, writerID, description string) (*store.Document, error) {
	next = next.Clone()
	if next.Project == "" {
		next.Project = current.Project
	}
	next.VersionNumber = current.VersionNumber + 1
	next.UpdatedAt = m.now().UTC()
	next.VersionHistory = slices.Clone(current.VersionHistory)

	hash, err := next.ContentHash()
	if err != nil {
		return nil, err
	}
	next.AppendRecord(store.VersionRecord{
		Version:            next.VersionNumber,
		Timestamp:          next.UpdatedAt,
		SessionID:          writerID,
		ChangesDescription: description,
		ContentHash:        hash,
	}, m.cfg.HistoryLimit)

	if err := m.store.SaveSnapshot(next); err != nil {
		return nil, err
	}
	if err := m.store.Persist(next); err != nil {
		return nil, err
	}

	// Retention is by version number; a reset clears the history records
	// but not the snapshots written before it.
	if err := m.store.PruneSnapshots(next.VersionNumber - m.cfg.HistoryLimit + 1); err != nil {
		m.logger.Warn("failed to prune snapshots", "error", err)
	}
	return next, nil
}

// Rollback restores the snapshot of version as a new version. It returns an
// error wrapping errors.ErrVersionNotFound when no snapshot exists.
func (m *Manager) Rollback(ctx context.Context, version int, writerID string) error {
	m.mu.Lock()
	snap, err := m.store.LoadSnapshot(version)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("rolling back shared document", "version", version, "writer", writerID)
	return m.Write(ctx, snap, writerID, fmt.Sprintf("rollback to version %d", version))
}

// GetVersionHistory returns the retained version records, oldest first.
func (m *Manager) GetVersionHistory(ctx context.Context) ([]store.VersionRecord, error) {
	doc, err := m.Read(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(doc.VersionHistory), nil
}
