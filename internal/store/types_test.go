package store

import (
	"testing"
	"time"

	"github.com/Iron-Ham/agentsync/internal/knowledge"
)

func TestContentHash_IgnoresTimestampAndHistory(t *testing.T) {
	a := sampleDocument()
	b := a.Clone()
	b.UpdatedAt = time.Now()
	b.AppendRecord(VersionRecord{Version: 1, SessionID: "s1"}, 50)

	ha, err := a.ContentHash()
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.ContentHash()
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Error("hash should not depend on updatedAt or versionHistory")
	}

	b.SharedKnowledge["phase"] = knowledge.String("build")
	hc, _ := b.ContentHash()
	if hc == ha {
		t.Error("hash should change with sharedKnowledge")
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	orig := sampleDocument()
	cp := orig.Clone()

	*cp.Sessions[0].CurrentTask = "T2"
	cp.Sessions[0].LockedFiles[0] = "changed.go"
	cp.SharedKnowledge["phase"] = knowledge.String("build")

	if orig.Sessions[0].TaskID() != "T1" {
		t.Error("clone shares CurrentTask with original")
	}
	if orig.Sessions[0].LockedFiles[0] != "api.go" {
		t.Error("clone shares LockedFiles with original")
	}
	if !orig.SharedKnowledge["phase"].Equal(knowledge.String("design")) {
		t.Error("clone shares SharedKnowledge with original")
	}
}

func TestAppendRecord_EvictsOldest(t *testing.T) {
	doc := NewDocument("demo")
	var evicted []int
	for v := 1; v <= 53; v++ {
		evicted = append(evicted, doc.AppendRecord(VersionRecord{Version: v}, 50)...)
	}

	if len(doc.VersionHistory) != 50 {
		t.Fatalf("history length = %d, want 50", len(doc.VersionHistory))
	}
	if doc.VersionHistory[0].Version != 4 {
		t.Errorf("oldest kept version = %d, want 4", doc.VersionHistory[0].Version)
	}
	if len(evicted) != 3 || evicted[0] != 1 || evicted[2] != 3 {
		t.Errorf("evicted = %v, want [1 2 3]", evicted)
	}
}

func TestSession_Liveness(t *testing.T) {
	now := time.Now()
	threshold := 120 * time.Second

	fresh := Session{LastHeartbeat: now.Add(-100 * time.Second)}
	stale := Session{LastHeartbeat: now.Add(-130 * time.Second)}
	edge := Session{LastHeartbeat: now.Add(-threshold)}

	if !fresh.IsAlive(now, threshold) {
		t.Error("session 100s old should be alive")
	}
	if stale.IsAlive(now, threshold) {
		t.Error("session 130s old should be dead")
	}
	if !edge.IsAlive(now, threshold) {
		t.Error("session exactly at the threshold should be alive")
	}
}

func TestSession_SetLockedFiles(t *testing.T) {
	var s Session
	s.SetLockedFiles([]string{"b.go", "a.go", "b.go"})
	if len(s.LockedFiles) != 2 || s.LockedFiles[0] != "a.go" || s.LockedFiles[1] != "b.go" {
		t.Errorf("LockedFiles = %v, want [a.go b.go]", s.LockedFiles)
	}

	s.SetLockedFiles(nil)
	if s.LockedFiles == nil || len(s.LockedFiles) != 0 {
		t.Errorf("LockedFiles = %#v, want empty non-nil", s.LockedFiles)
	}
}
