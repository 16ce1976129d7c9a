package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/knowledge"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/metrics"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// WriterID is the writer recorded for registry-wide maintenance writes.
const WriterID = "coordinator"

// Statistics summarizes the registry. TasksAssigned and ConflictsDetected
// count events seen by this coordinator since it was created; the rest are
// recomputed from the document on every call.
type Statistics struct {
	TotalSessions             int     `json:"totalSessions" yaml:"totalSessions" toml:"totalSessions"`
	ActiveSessions            int     `json:"activeSessions" yaml:"activeSessions" toml:"activeSessions"`
	DeadSessions              int     `json:"deadSessions" yaml:"deadSessions" toml:"deadSessions"`
	TasksAssigned             int64   `json:"tasksAssigned" yaml:"tasksAssigned" toml:"tasksAssigned"`
	ConflictsDetected         int64   `json:"conflictsDetected" yaml:"conflictsDetected" toml:"conflictsDetected"`
	AvgSessionDurationMinutes float64 `json:"avgSessionDurationMinutes" yaml:"avgSessionDurationMinutes" toml:"avgSessionDurationMinutes"`
}

// Coordinator manages the session registry and, optionally, a background
// loop that keeps a local view of sharedKnowledge in sync with peers.
//
// All registry operations are synchronous writes through the manager.
// Not-found conditions are reported as false, I/O failures as errors.
type Coordinator struct {
	manager *sharedctx.Manager
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	bus     *event.Bus
	now     func() time.Time

	tasksAssigned     atomic.Int64
	conflictsDetected atomic.Int64

	// syncMu serializes EnableSharedContextSync and Stop.
	syncMu      sync.Mutex
	syncEnabled atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}

	// stateMu guards the last observed sharedKnowledge.
	stateMu         sync.RWMutex
	syncSessionID   string
	observed        knowledge.Map
	observedVersion int
}

// New creates a Coordinator on top of manager.
func New(manager *sharedctx.Manager, cfg Config, opts ...Option) (*Coordinator, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	o := coordinatorOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}

	return &Coordinator{
		manager: manager,
		cfg:     cfg,
		logger:  o.logger.WithComponent("coordinator"),
		metrics: o.metrics,
		bus:     o.bus,
		now:     o.now,
	}, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) clock() time.Time {
	return c.now().UTC()
}

// Register adds a new active session. It returns false if sessionID is
// already registered.
func (c *Coordinator) Register(ctx context.Context, sessionID string, role store.Role, agentID string) (bool, error) {
	if sessionID == "" {
		return false, errors.NewValidationError("sessionId", sessionID, "must not be empty")
	}

	now := c.clock()
	_, err := c.manager.Update(ctx, sessionID, "register session "+sessionID, func(doc *store.Document) error {
		if doc.FindSession(sessionID) >= 0 {
			return errors.ErrAbortUpdate
		}
		doc.Sessions = append(doc.Sessions, store.Session{
			SessionID:     sessionID,
			AgentID:       agentID,
			Role:          role,
			Status:        store.StatusActive,
			RegisteredAt:  now,
			LastHeartbeat: now,
			LockedFiles:   []string{},
		})
		return nil
	})
	if errors.Is(err, errors.ErrAbortUpdate) {
		c.logger.Warn("session already registered", "session_id", sessionID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.logger.Info("session registered", "session_id", sessionID, "role", string(role), "agent_id", agentID)
	c.bus.Publish(event.NewSessionRegisteredEvent(sessionID, agentID, string(role)))
	return true, nil
}

// Deregister removes a session. It returns false if it is not registered.
func (c *Coordinator) Deregister(ctx context.Context, sessionID string) (bool, error) {
	_, err := c.manager.Update(ctx, sessionID, "deregister session "+sessionID, func(doc *store.Document) error {
		i := doc.FindSession(sessionID)
		if i < 0 {
			return errors.ErrAbortUpdate
		}
		doc.Sessions = slices.Delete(doc.Sessions, i, i+1)
		return nil
	})
	if errors.Is(err, errors.ErrAbortUpdate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.logger.Info("session deregistered", "session_id", sessionID)
	c.bus.Publish(event.NewSessionDeregisteredEvent(sessionID, "deregistered"))
	return true, nil
}

// Heartbeat records liveness for a session and resets it to active.
func (c *Coordinator) Heartbeat(ctx context.Context, sessionID string) (bool, error) {
	now := c.clock()
	ok, err := c.mutateSession(ctx, sessionID, "heartbeat", func(s *store.Session) {
		s.LastHeartbeat = now
		s.Status = store.StatusActive
	})
	if ok {
		c.metrics.IncHeartbeats()
	}
	return ok, err
}

// UpdateSessionTask sets or clears (nil) a session's current task.
func (c *Coordinator) UpdateSessionTask(ctx context.Context, sessionID string, taskID *string) (bool, error) {
	desc := "clear task"
	if taskID != nil {
		desc = "set task " + *taskID
	}
	return c.mutateSession(ctx, sessionID, desc, func(s *store.Session) {
		if taskID == nil {
			s.CurrentTask = nil
			return
		}
		task := *taskID
		s.CurrentTask = &task
	})
}

// UpdateSessionLocks replaces a session's locked file set.
func (c *Coordinator) UpdateSessionLocks(ctx context.Context, sessionID string, files []string) (bool, error) {
	return c.mutateSession(ctx, sessionID, fmt.Sprintf("update locks (%d files)", len(files)), func(s *store.Session) {
		s.SetLockedFiles(files)
	})
}

// mutateSession applies fn to one session record as the session itself.
func (c *Coordinator) mutateSession(ctx context.Context, sessionID, description string, fn func(*store.Session)) (bool, error) {
	_, err := c.manager.Update(ctx, sessionID, description, func(doc *store.Document) error {
		i := doc.FindSession(sessionID)
		if i < 0 {
			return errors.ErrAbortUpdate
		}
		fn(&doc.Sessions[i])
		return nil
	})
	if errors.Is(err, errors.ErrAbortUpdate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DetectDeadSessions marks every session silent for longer than the dead
// threshold as dead and returns their ids. The document is only written when
// a status actually changes, so repeated calls are cheap.
func (c *Coordinator) DetectDeadSessions(ctx context.Context) ([]string, error) {
	now := c.clock()

	var dead []string
	var newlyDead []store.Session
	_, err := c.manager.Update(ctx, WriterID, "mark dead sessions", func(doc *store.Document) error {
		dead, newlyDead = dead[:0], newlyDead[:0]
		for i := range doc.Sessions {
			s := &doc.Sessions[i]
			if s.IsAlive(now, c.cfg.DeadThreshold) {
				continue
			}
			dead = append(dead, s.SessionID)
			if s.Status != store.StatusDead {
				s.Status = store.StatusDead
				newlyDead = append(newlyDead, *s)
			}
		}
		if len(newlyDead) == 0 {
			return errors.ErrAbortUpdate
		}
		return nil
	})
	if err != nil && !errors.Is(err, errors.ErrAbortUpdate) {
		return nil, err
	}

	for _, s := range newlyDead {
		c.logger.Warn("session marked dead",
			"session_id", s.SessionID,
			"last_heartbeat", s.LastHeartbeat,
			"silent_for", now.Sub(s.LastHeartbeat).Round(time.Second).String(),
		)
		c.bus.Publish(event.NewSessionDeadEvent(s.SessionID, s.LastHeartbeat))
	}
	return dead, nil
}

// CleanupDeadSessions removes records marked dead that have not heartbeated
// since, and returns the removed ids.
func (c *Coordinator) CleanupDeadSessions(ctx context.Context) ([]string, error) {
	now := c.clock()
	var removed []string
	_, err := c.manager.Update(ctx, WriterID, "clean up dead sessions", func(doc *store.Document) error {
		removed = removed[:0]
		doc.Sessions = slices.DeleteFunc(doc.Sessions, func(s store.Session) bool {
			gone := s.Status == store.StatusDead && !s.IsAlive(now, c.cfg.DeadThreshold)
			if gone {
				removed = append(removed, s.SessionID)
			}
			return gone
		})
		if len(removed) == 0 {
			return errors.ErrAbortUpdate
		}
		return nil
	})
	if errors.Is(err, errors.ErrAbortUpdate) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, id := range removed {
		c.logger.Info("dead session removed", "session_id", id)
		c.bus.Publish(event.NewSessionDeregisteredEvent(id, "cleanup"))
	}
	return removed, nil
}

// GetActiveSessions returns the sessions that heartbeated within the dead
// threshold, in registry order. Stored status is not consulted.
func (c *Coordinator) GetActiveSessions(ctx context.Context) ([]store.Session, error) {
	doc, err := c.manager.Read(ctx)
	if err != nil {
		return nil, err
	}
	return c.active(doc), nil
}

func (c *Coordinator) active(doc *store.Document) []store.Session {
	now := c.clock()
	var out []store.Session
	for _, s := range doc.Sessions {
		if s.IsAlive(now, c.cfg.DeadThreshold) {
			out = append(out, s)
		}
	}
	return out
}

// GetSessions returns every registered session in registry order.
func (c *Coordinator) GetSessions(ctx context.Context) ([]store.Session, error) {
	doc, err := c.manager.Read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Sessions, nil
}

// GetSessionByRole returns the first active session with role, or nil.
func (c *Coordinator) GetSessionByRole(ctx context.Context, role store.Role) (*store.Session, error) {
	sessions, err := c.GetActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.Role == role {
			return &s, nil
		}
	}
	return nil, nil
}

// AssignTask gives taskID to the first active idle session with
// preferredRole, or failing that to the first active idle session of any
// role. It returns "" when no session is free; it never blocks or queues.
func (c *Coordinator) AssignTask(ctx context.Context, taskID string, preferredRole store.Role) (string, error) {
	now := c.clock()
	var chosen string
	var roleMatched bool

	_, err := c.manager.Update(ctx, WriterID, "assign task "+taskID, func(doc *store.Document) error {
		i, matched := pickSession(doc.Sessions, preferredRole, func(s store.Session) bool {
			return s.IsAlive(now, c.cfg.DeadThreshold) && s.Idle()
		})
		if i < 0 {
			return errors.ErrAbortUpdate
		}
		task := taskID
		doc.Sessions[i].CurrentTask = &task
		chosen, roleMatched = doc.Sessions[i].SessionID, matched
		return nil
	})
	if errors.Is(err, errors.ErrAbortUpdate) {
		c.logger.Info("no idle session for task", "task_id", taskID, "preferred_role", string(preferredRole))
		return "", nil
	}
	if err != nil {
		return "", err
	}

	c.tasksAssigned.Add(1)
	c.metrics.IncTasksAssigned()
	c.logger.Info("task assigned", "task_id", taskID, "session_id", chosen, "role_matched", roleMatched)
	c.bus.Publish(event.NewTaskAssignedEvent(taskID, chosen, string(preferredRole), roleMatched))
	return chosen, nil
}

// pickSession is first-fit: eligible sessions with role first, then any
// eligible session. It returns the index and whether the role matched.
func pickSession(sessions []store.Session, role store.Role, eligible func(store.Session) bool) (int, bool) {
	if role != "" {
		if i := slices.IndexFunc(sessions, func(s store.Session) bool {
			return s.Role == role && eligible(s)
		}); i >= 0 {
			return i, true
		}
	}
	return slices.IndexFunc(sessions, eligible), false
}

// GetStatistics summarizes the registry.
func (c *Coordinator) GetStatistics(ctx context.Context) (Statistics, error) {
	doc, err := c.manager.Read(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		TotalSessions:     len(doc.Sessions),
		ActiveSessions:    len(c.active(doc)),
		TasksAssigned:     c.tasksAssigned.Load(),
		ConflictsDetected: c.conflictsDetected.Load(),
	}
	stats.DeadSessions = stats.TotalSessions - stats.ActiveSessions

	if len(doc.Sessions) > 0 {
		var total time.Duration
		for _, s := range doc.Sessions {
			total += s.LastHeartbeat.Sub(s.RegisteredAt)
		}
		stats.AvgSessionDurationMinutes = total.Minutes() / float64(len(doc.Sessions))
	}

	c.metrics.SetSessions(stats.TotalSessions, stats.ActiveSessions, stats.DeadSessions)
	return stats, nil
}

// KeepAlive heartbeats sessionID every HeartbeatInterval until ctx is done.
// Transient failures are logged; it returns errors.ErrSessionNotFound if the
// session disappears from the registry.
func (c *Coordinator) KeepAlive(ctx context.Context, sessionID string) error {
	log := c.logger.WithSession(sessionID)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ok, err := c.Heartbeat(ctx, sessionID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("heartbeat failed", "error", err)
				continue
			}
			if !ok {
				log.Error("session no longer registered, stopping keepalive")
				return fmt.Errorf("%w: %s", errors.ErrSessionNotFound, sessionID)
			}
		}
	}
}
