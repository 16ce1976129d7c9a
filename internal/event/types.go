package event

import "time"

// Event type identifiers, "category.action".
const (
	TypeSessionRegistered   = "session.registered"
	TypeSessionDeregistered = "session.deregistered"
	TypeSessionDead         = "session.dead"
	TypeTaskAssigned        = "task.assigned"
	TypeContextChanged      = "context.changed"
	TypeContextConflict     = "context.conflict"
	TypeDocumentWritten     = "document.written"
)

// Event is the interface that all events implement.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionRegisteredEvent is emitted after a session joins the registry.
type SessionRegisteredEvent struct {
	baseEvent
	SessionID string
	AgentID   string
	Role      string
}

// NewSessionRegisteredEvent creates a SessionRegisteredEvent.
func NewSessionRegisteredEvent(sessionID, agentID, role string) SessionRegisteredEvent {
	return SessionRegisteredEvent{
		baseEvent: newBaseEvent(TypeSessionRegistered),
		SessionID: sessionID,
		AgentID:   agentID,
		Role:      role,
	}
}

// SessionDeregisteredEvent is emitted after a session leaves the registry,
// either voluntarily or because dead-session cleanup removed it.
type SessionDeregisteredEvent struct {
	baseEvent
	SessionID string
	Reason    string // "deregistered" or "cleanup"
}

// NewSessionDeregisteredEvent creates a SessionDeregisteredEvent.
func NewSessionDeregisteredEvent(sessionID, reason string) SessionDeregisteredEvent {
	return SessionDeregisteredEvent{
		baseEvent: newBaseEvent(TypeSessionDeregistered),
		SessionID: sessionID,
		Reason:    reason,
	}
}

// SessionDeadEvent is emitted when a session is first marked dead.
type SessionDeadEvent struct {
	baseEvent
	SessionID     string
	LastHeartbeat time.Time
}

// NewSessionDeadEvent creates a SessionDeadEvent.
func NewSessionDeadEvent(sessionID string, lastHeartbeat time.Time) SessionDeadEvent {
	return SessionDeadEvent{
		baseEvent:     newBaseEvent(TypeSessionDead),
		SessionID:     sessionID,
		LastHeartbeat: lastHeartbeat,
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskAssignedEvent is emitted when assignTask hands a task to a session.
type TaskAssignedEvent struct {
	baseEvent
	TaskID        string
	SessionID     string
	PreferredRole string
	// RoleMatched is false when the task fell through to any idle session.
	RoleMatched bool
}

// NewTaskAssignedEvent creates a TaskAssignedEvent.
func NewTaskAssignedEvent(taskID, sessionID, preferredRole string, roleMatched bool) TaskAssignedEvent {
	return TaskAssignedEvent{
		baseEvent:     newBaseEvent(TypeTaskAssigned),
		TaskID:        taskID,
		SessionID:     sessionID,
		PreferredRole: preferredRole,
		RoleMatched:   roleMatched,
	}
}

// -----------------------------------------------------------------------------
// Shared Context Events
// -----------------------------------------------------------------------------

// ContextChangedEvent is emitted when the sync loop adopts peer changes.
type ContextChangedEvent struct {
	baseEvent
	SessionID string
	Keys      []string
	Version   int
}

// NewContextChangedEvent creates a ContextChangedEvent.
func NewContextChangedEvent(sessionID string, keys []string, version int) ContextChangedEvent {
	return ContextChangedEvent{
		baseEvent: newBaseEvent(TypeContextChanged),
		SessionID: sessionID,
		Keys:      keys,
		Version:   version,
	}
}

// ContextConflictEvent is emitted when a shared-context update races a peer.
type ContextConflictEvent struct {
	baseEvent
	SessionID string
	Path      string
	Type      string
	// Resolved is true when the conflict was auto-merged, false when it was
	// escalated to openConflicts.
	Resolved bool
}

// NewContextConflictEvent creates a ContextConflictEvent.
func NewContextConflictEvent(sessionID, path, conflictType string, resolved bool) ContextConflictEvent {
	return ContextConflictEvent{
		baseEvent: newBaseEvent(TypeContextConflict),
		SessionID: sessionID,
		Path:      path,
		Type:      conflictType,
		Resolved:  resolved,
	}
}

// DocumentWrittenEvent is emitted after every successful document write.
type DocumentWrittenEvent struct {
	baseEvent
	WriterID    string
	Version     int
	Description string
}

// NewDocumentWrittenEvent creates a DocumentWrittenEvent.
func NewDocumentWrittenEvent(writerID string, version int, description string) DocumentWrittenEvent {
	return DocumentWrittenEvent{
		baseEvent:   newBaseEvent(TypeDocumentWritten),
		WriterID:    writerID,
		Version:     version,
		Description: description,
	}
}
