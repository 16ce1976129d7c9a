package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/knowledge"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/metrics"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// EnableSharedContextSync takes an initial snapshot of sharedKnowledge and
// starts the background sync loop on behalf of sessionID. Calling it while
// sync is already enabled is a no-op. Cancelling ctx does not end the loop;
// only Stop does.
func (c *Coordinator) EnableSharedContextSync(ctx context.Context, sessionID string) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if c.syncEnabled.Load() {
		return nil
	}

	doc, err := c.manager.Read(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read initial shared context")
	}
	c.stateMu.Lock()
	c.syncSessionID = sessionID
	c.observed = doc.SharedKnowledge.Clone()
	c.observedVersion = doc.VersionNumber
	c.stateMu.Unlock()

	log := c.logger.WithSession(sessionID)
	watcher := c.newWatcher(log)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.syncEnabled.Store(true)

	go c.runSync(loopCtx, c.done, watcher, log)

	log.Info("shared context sync enabled",
		"poll_interval", c.cfg.PollInterval.String(),
		"watch", watcher != nil,
		"version", doc.VersionNumber,
	)
	return nil
}

// newWatcher watches the context directory so the loop can wake up as soon
// as a peer renames a new document into place. Failure is not fatal; the
// loop falls back to polling.
func (c *Coordinator) newWatcher(log *logging.Logger) *fsnotify.Watcher {
	if c.cfg.DisableWatch {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("file watcher unavailable, polling only", "error", err)
		return nil
	}
	if err := watcher.Add(c.manager.Store().Paths().Dir); err != nil {
		watcher.Close()
		log.Warn("failed to watch context directory, polling only", "error", err)
		return nil
	}
	return watcher
}

func (c *Coordinator) runSync(ctx context.Context, done chan struct{}, watcher *fsnotify.Watcher, log *logging.Logger) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if watcher != nil {
		defer watcher.Close()
		fsEvents, fsErrors = watcher.Events, watcher.Errors
	}
	target := filepath.Base(c.manager.Store().Paths().Document)

	for {
		select {
		case <-ctx.Done():
			log.Debug("sync loop exiting")
			return

		case <-ticker.C:
			c.tick(ctx, log)

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Base(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			c.tick(ctx, log)

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}

// tick runs one sync iteration. Errors and panics are logged and swallowed
// so a bad iteration never ends the loop.
func (c *Coordinator) tick(ctx context.Context, log *logging.Logger) {
	if ctx.Err() != nil {
		return
	}

	var err error
	if r := panics.Try(func() { err = c.syncOnce(ctx) }); r != nil {
		c.metrics.ObserveSyncTick(metrics.ResultPanic)
		log.Error("sync tick panicked", "panic", r.Value, "stack", string(r.Stack))
		return
	}
	if err != nil {
		c.metrics.ObserveSyncTick(metrics.ResultFailed)
		log.Warn("sync tick failed", "error", err)
		return
	}
	c.metrics.ObserveSyncTick(metrics.ResultOK)
}

// syncOnce reads the document and adopts every key whose value differs from
// the last observed one. Each such key counts as an observed peer change. A
// read older than the observed version is dropped.
func (c *Coordinator) syncOnce(ctx context.Context) error {
	doc, err := c.manager.Read(ctx)
	if err != nil {
		return err
	}

	c.stateMu.Lock()
	if doc.VersionNumber < c.observedVersion {
		c.stateMu.Unlock()
		return nil
	}
	changed := changedKeys(c.observed, doc.SharedKnowledge)
	c.observed = doc.SharedKnowledge.Clone()
	c.observedVersion = doc.VersionNumber
	sessionID := c.syncSessionID
	c.stateMu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	c.conflictsDetected.Add(int64(len(changed)))
	c.metrics.AddConflictsDetected(len(changed))
	c.logger.WithSession(sessionID).Debug("adopted peer changes", "keys", changed, "version", doc.VersionNumber)
	c.bus.Publish(event.NewContextChangedEvent(sessionID, changed, doc.VersionNumber))
	return nil
}

// changedKeys lists, sorted, the keys added, modified or removed between two
// views.
func changedKeys(before, after knowledge.Map) []string {
	var changed []string
	seen := make(map[string]bool, len(after))
	for _, k := range after.Keys() {
		seen[k] = true
		if prev, ok := before[k]; !ok || !prev.Equal(after[k]) {
			changed = append(changed, k)
		}
	}
	for _, k := range before.Keys() {
		if !seen[k] {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}

// Stop ends the sync loop and waits up to StopTimeout for it to exit. It is
// safe to call when sync was never enabled, and more than once. After Stop
// returns, SharedContextEnabled is false and no further ticks run.
func (c *Coordinator) Stop() error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if !c.syncEnabled.Load() {
		return nil
	}
	c.syncEnabled.Store(false)
	c.cancel()

	select {
	case <-c.done:
		c.logger.Info("shared context sync stopped")
		return nil
	case <-time.After(c.cfg.StopTimeout):
		c.logger.Error("sync loop did not stop in time", "timeout", c.cfg.StopTimeout.String())
		return fmt.Errorf("sync loop did not stop within %s", c.cfg.StopTimeout)
	}
}

// SharedContextEnabled reports whether the sync loop is running.
func (c *Coordinator) SharedContextEnabled() bool {
	return c.syncEnabled.Load()
}

// GetSharedContext returns the most recently observed value for key, or def
// when sync was never enabled or the key is absent.
func (c *Coordinator) GetSharedContext(key string, def knowledge.Value) knowledge.Value {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.observed == nil {
		return def
	}
	v, ok := c.observed[key]
	if !ok {
		return def
	}
	return v.Clone()
}

// UpdateSharedContext writes key=value as the syncing session. If a peer
// changed the key since it was last observed, the two values are compared:
// mergeable lists and maps are merged and the merge is written; a
// contradiction is recorded in openConflicts instead and the call returns
// errors.ErrContradiction. It returns errors.ErrSyncDisabled unless sync is
// enabled.
func (c *Coordinator) UpdateSharedContext(ctx context.Context, key string, value knowledge.Value) error {
	if !c.syncEnabled.Load() {
		return errors.ErrSyncDisabled
	}

	c.stateMu.RLock()
	sessionID := c.syncSessionID
	prior, hadPrior := c.observed[key]
	c.stateMu.RUnlock()

	log := c.logger.WithSession(sessionID)
	now := c.clock()

	var (
		written   knowledge.Value
		conflict  *sharedctx.Conflict
		escalated bool
		openAfter knowledge.Value
	)
	doc, err := c.manager.Update(ctx, sessionID, fmt.Sprintf("update shared context %q", key), func(doc *store.Document) error {
		conflict, escalated = nil, false
		next := value

		current, exists := doc.SharedKnowledge[key]
		peerChanged := exists && !current.Equal(value) && (!hadPrior || !current.Equal(prior))
		if peerChanged {
			cf, _ := sharedctx.Compare(key, current, value, lastWriter(doc), sessionID)
			conflict = &cf
			merged, ok := sharedctx.Resolve(cf)
			if !ok {
				escalated = true
				if sharedctx.RecordOpenConflicts(doc, []sharedctx.Conflict{cf}, now) == 0 {
					return errors.ErrAbortUpdate
				}
				openAfter = doc.SharedKnowledge[sharedctx.OpenConflictsKey]
				return nil
			}
			next = merged
		}

		doc.SharedKnowledge[key] = next
		written = next
		return nil
	})
	if err != nil && !(escalated && errors.Is(err, errors.ErrAbortUpdate)) {
		return err
	}

	if conflict != nil {
		c.conflictsDetected.Add(1)
		c.metrics.AddConflictsDetected(1)
		c.bus.Publish(event.NewContextConflictEvent(sessionID, key, string(conflict.Type), !escalated))
	}

	if escalated {
		if doc != nil {
			c.metrics.AddEscalations(1)
			c.setObserved(sharedctx.OpenConflictsKey, openAfter, doc.VersionNumber)
		}
		log.Warn("contradicting shared context value escalated",
			"key", key, "persisted", conflict.ValueA.String(), "proposed", conflict.ValueB.String(),
			"owner", conflict.OwnerA)
		return fmt.Errorf("%w: key %q", errors.ErrContradiction, key)
	}

	c.setObserved(key, written, doc.VersionNumber)
	if conflict != nil {
		log.Info("merged concurrent shared context change", "key", key, "version", doc.VersionNumber)
	} else {
		log.Debug("shared context updated", "key", key, "version", doc.VersionNumber)
	}
	return nil
}

// setObserved records a value this session wrote at version. A tick that
// read an older version afterwards is ignored.
func (c *Coordinator) setObserved(key string, v knowledge.Value, version int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.observed == nil {
		c.observed = knowledge.Map{}
	}
	c.observed[key] = v.Clone()
	c.observedVersion = max(c.observedVersion, version)
}

// lastWriter returns the session that wrote the current version.
func lastWriter(doc *store.Document) string {
	if rec, ok := doc.LatestRecord(); ok {
		return rec.SessionID
	}
	return ""
}
