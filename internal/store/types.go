// Package store persists the shared coordination document: the session
// registry, the shared knowledge map and the bounded version history.
//
// The document lives in a single JSON file. Writes go through a
// corruption-safe sequence (backup, round-trip validation, temp file, verify,
// atomic rename) so a reader never observes a partially written document.
// Ordering across processes relies on the atomicity of rename; there is no
// cross-process lock, and callers layer optimistic versioning on top.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/agentsync/internal/knowledge"
)

// SchemaVersion is the document schema written by this package.
const SchemaVersion = "1.0"

// Status is the informational state of a session record. Liveness is always
// recomputed from LastHeartbeat; Status only records the last verdict.
type Status string

// Session statuses.
const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusDead   Status = "dead"
)

// Role names the kind of work a session does. The vocabulary is open; these
// are the roles the coordinator knows about out of the box.
type Role string

// Built-in roles.
const (
	RoleFrontend  Role = "frontend"
	RoleBackend   Role = "backend"
	RoleTesting   Role = "testing"
	RoleAssistant Role = "assistant"
)

// KnownRoles returns the built-in roles in display order.
func KnownRoles() []Role {
	return []Role{RoleFrontend, RoleBackend, RoleTesting, RoleAssistant}
}

// Session is one registered agent process.
type Session struct {
	SessionID     string    `json:"sessionId"`
	AgentID       string    `json:"agentId"`
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	RegisteredAt  time.Time `json:"registeredAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	// CurrentTask is an opaque task identifier; nil when the session is idle.
	CurrentTask *string  `json:"currentTask"`
	LockedFiles []string `json:"lockedFiles"`
}

// IsAlive reports whether the session has heartbeated within threshold of now.
func (s Session) IsAlive(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastHeartbeat) <= threshold
}

// Idle reports whether the session holds no task.
func (s Session) Idle() bool {
	return s.CurrentTask == nil
}

// TaskID returns the current task or "" when idle.
func (s Session) TaskID() string {
	if s.CurrentTask == nil {
		return ""
	}
	return *s.CurrentTask
}

// SetLockedFiles replaces the locked file set, sorted and de-duplicated.
func (s *Session) SetLockedFiles(files []string) {
	set := slices.Clone(files)
	slices.Sort(set)
	s.LockedFiles = slices.Compact(set)
	if s.LockedFiles == nil {
		s.LockedFiles = []string{}
	}
}

func (s Session) clone() Session {
	cp := s
	if s.CurrentTask != nil {
		task := *s.CurrentTask
		cp.CurrentTask = &task
	}
	cp.LockedFiles = slices.Clone(s.LockedFiles)
	if cp.LockedFiles == nil {
		cp.LockedFiles = []string{}
	}
	return cp
}

// VersionRecord describes one successful write. Records are immutable.
type VersionRecord struct {
	Version            int       `json:"version"`
	Timestamp          time.Time `json:"timestamp"`
	SessionID          string    `json:"sessionId"`
	ChangesDescription string    `json:"changesDescription"`
	ContentHash        string    `json:"contentHash"`
}

// Document is the persisted root object.
type Document struct {
	Project         string          `json:"project"`
	SchemaVersion   string          `json:"schemaVersion"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Sessions        []Session       `json:"sessions"`
	SharedKnowledge knowledge.Map   `json:"sharedKnowledge"`
	VersionNumber   int             `json:"versionNumber"`
	VersionHistory  []VersionRecord `json:"versionHistory"`
}

// NewDocument returns an empty version-0 document for project.
func NewDocument(project string) *Document {
	doc := &Document{
		Project:       project,
		SchemaVersion: SchemaVersion,
	}
	doc.normalize()
	return doc
}

// normalize replaces nil collections with empty ones so the encoded form is
// stable ([] and {} rather than null).
func (d *Document) normalize() {
	if d.Sessions == nil {
		d.Sessions = []Session{}
	}
	for i := range d.Sessions {
		if d.Sessions[i].LockedFiles == nil {
			d.Sessions[i].LockedFiles = []string{}
		}
	}
	if d.SharedKnowledge == nil {
		d.SharedKnowledge = knowledge.Map{}
	}
	if d.VersionHistory == nil {
		d.VersionHistory = []VersionRecord{}
	}
	if d.SchemaVersion == "" {
		d.SchemaVersion = SchemaVersion
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	cp := &Document{
		Project:         d.Project,
		SchemaVersion:   d.SchemaVersion,
		UpdatedAt:       d.UpdatedAt,
		Sessions:        make([]Session, len(d.Sessions)),
		SharedKnowledge: d.SharedKnowledge.Clone(),
		VersionNumber:   d.VersionNumber,
		VersionHistory:  slices.Clone(d.VersionHistory),
	}
	for i, s := range d.Sessions {
		cp.Sessions[i] = s.clone()
	}
	cp.normalize()
	return cp
}

// hashedContent is the subset of a document covered by ContentHash.
type hashedContent struct {
	Project         string        `json:"project"`
	SchemaVersion   string        `json:"schemaVersion"`
	Sessions        []Session     `json:"sessions"`
	SharedKnowledge knowledge.Map `json:"sharedKnowledge"`
	VersionNumber   int           `json:"versionNumber"`
}

// ContentHash returns the hex sha256 of the document excluding UpdatedAt and
// VersionHistory.
func (d *Document) ContentHash() (string, error) {
	cp := d.Clone()
	data, err := json.Marshal(hashedContent{
		Project:         cp.Project,
		SchemaVersion:   cp.SchemaVersion,
		Sessions:        cp.Sessions,
		SharedKnowledge: cp.SharedKnowledge,
		VersionNumber:   cp.VersionNumber,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode document for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FindSession returns the index of the session with id, or -1.
func (d *Document) FindSession(id string) int {
	return slices.IndexFunc(d.Sessions, func(s Session) bool { return s.SessionID == id })
}

// Session returns a copy of the session with id.
func (d *Document) Session(id string) (Session, bool) {
	i := d.FindSession(id)
	if i < 0 {
		return Session{}, false
	}
	return d.Sessions[i].clone(), true
}

// LatestRecord returns the newest version record, if any.
func (d *Document) LatestRecord() (VersionRecord, bool) {
	if len(d.VersionHistory) == 0 {
		return VersionRecord{}, false
	}
	return d.VersionHistory[len(d.VersionHistory)-1], true
}

// AppendRecord appends rec and evicts the oldest records beyond limit.
// It returns the versions that were evicted.
func (d *Document) AppendRecord(rec VersionRecord, limit int) []int {
	d.VersionHistory = append(d.VersionHistory, rec)
	if limit <= 0 || len(d.VersionHistory) <= limit {
		return nil
	}
	drop := len(d.VersionHistory) - limit
	evicted := make([]int, 0, drop)
	for _, r := range d.VersionHistory[:drop] {
		evicted = append(evicted, r.Version)
	}
	d.VersionHistory = slices.Clone(d.VersionHistory[drop:])
	return evicted
}
