package sharedctx

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/knowledge"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// OpenConflictsKey is the sharedKnowledge key where escalated conflicts are
// recorded for an operator.
const OpenConflictsKey = "openConflicts"

// ConflictType classifies a conflict.
type ConflictType string

// Conflict types.
const (
	// ConflictOverlapping is a list/list or map/map difference.
	ConflictOverlapping ConflictType = "overlapping"
	// ConflictContradiction is a scalar or mixed-kind difference; it is
	// never resolved automatically.
	ConflictContradiction ConflictType = "contradiction"
)

// Conflict is a sharedKnowledge key on which two views disagree.
type Conflict struct {
	Type           ConflictType
	Path           string
	ValueA         knowledge.Value
	ValueB         knowledge.Value
	OwnerA         string
	OwnerB         string
	AutoResolvable bool
}

// DetectConflicts compares the sharedKnowledge of two views over the union
// of their keys, in sorted key order. A key present in only one view is not
// a conflict.
func DetectConflicts(a, b *store.Document, ownerA, ownerB string) []Conflict {
	var conflicts []Conflict
	for _, key := range unionKeys(a.SharedKnowledge, b.SharedKnowledge) {
		va, okA := a.SharedKnowledge[key]
		vb, okB := b.SharedKnowledge[key]
		if !okA || !okB {
			continue
		}
		if c, ok := Compare(key, va, vb, ownerA, ownerB); ok {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

// Compare classifies two values stored under the same path. It reports false
// when the values are equal.
func Compare(path string, a, b knowledge.Value, ownerA, ownerB string) (Conflict, bool) {
	if a.Equal(b) {
		return Conflict{}, false
	}
	c := Conflict{
		Type:   ConflictContradiction,
		Path:   path,
		ValueA: a,
		ValueB: b,
		OwnerA: ownerA,
		OwnerB: ownerB,
	}
	switch {
	case a.Kind() == knowledge.KindList && b.Kind() == knowledge.KindList:
		c.Type = ConflictOverlapping
		c.AutoResolvable = true
	case a.Kind() == knowledge.KindMap && b.Kind() == knowledge.KindMap:
		c.Type = ConflictOverlapping
		c.AutoResolvable = mapsCompatible(a, b)
	}
	return c, true
}

// mapsCompatible reports whether every key the maps share holds equal values.
// Disjoint maps are trivially compatible.
func mapsCompatible(a, b knowledge.Value) bool {
	for k, va := range a.Entries() {
		if vb, ok := b.Get(k); ok && !va.Equal(vb) {
			return false
		}
	}
	return true
}

// Resolve returns the merged value for an auto-resolvable conflict: the
// order-preserving de-duplicated union for lists (A's items first), and a
// shallow merge where B wins for maps.
func Resolve(c Conflict) (knowledge.Value, bool) {
	if !c.AutoResolvable {
		return knowledge.Value{}, false
	}
	switch {
	case c.ValueA.Kind() == knowledge.KindList && c.ValueB.Kind() == knowledge.KindList:
		var items []knowledge.Value
		for _, v := range append(c.ValueA.Items(), c.ValueB.Items()...) {
			if !containsValue(items, v) {
				items = append(items, v)
			}
		}
		return knowledge.List(items...), true
	case c.ValueA.Kind() == knowledge.KindMap && c.ValueB.Kind() == knowledge.KindMap:
		merged := c.ValueA.Entries()
		for k, v := range c.ValueB.Entries() {
			merged[k] = v
		}
		return knowledge.Object(merged), true
	default:
		return knowledge.Value{}, false
	}
}

// AutoMerge returns a copy of base with every conflicting key replaced by
// its resolved value. It returns false, and no document, if any conflict is
// not auto-resolvable; such conflicts must be escalated.
func AutoMerge(base *store.Document, conflicts []Conflict) (*store.Document, bool) {
	merged := base.Clone()
	for _, c := range conflicts {
		v, ok := Resolve(c)
		if !ok {
			return nil, false
		}
		merged.SharedKnowledge[c.Path] = v
	}
	return merged, true
}

// RecordOpenConflicts appends conflicts to sharedKnowledge.openConflicts,
// skipping entries already recorded for the same path and values. It
// returns how many were added.
func RecordOpenConflicts(doc *store.Document, conflicts []Conflict, at time.Time) int {
	var existing []knowledge.Value
	if cur, ok := doc.SharedKnowledge[OpenConflictsKey]; ok && cur.Kind() == knowledge.KindList {
		existing = cur.Items()
	}

	added := 0
	for _, c := range conflicts {
		if alreadyRecorded(existing, c) {
			continue
		}
		existing = append(existing, knowledge.Object(map[string]knowledge.Value{
			"type":       knowledge.String(string(c.Type)),
			"path":       knowledge.String(c.Path),
			"valueA":     c.ValueA,
			"valueB":     c.ValueB,
			"ownerA":     knowledge.String(c.OwnerA),
			"ownerB":     knowledge.String(c.OwnerB),
			"detectedAt": knowledge.String(at.UTC().Format(time.RFC3339)),
		}))
		added++
	}
	if added > 0 {
		doc.SharedKnowledge[OpenConflictsKey] = knowledge.List(existing...)
	}
	return added
}

func alreadyRecorded(entries []knowledge.Value, c Conflict) bool {
	for _, e := range entries {
		path, _ := e.Get("path")
		a, _ := e.Get("valueA")
		b, _ := e.Get("valueB")
		if path.Equal(knowledge.String(c.Path)) && a.Equal(c.ValueA) && b.Equal(c.ValueB) {
			return true
		}
	}
	return false
}

// EscalateConflicts records conflicts in openConflicts as a new version.
// Nothing is written when every conflict is already recorded.
func (m *Manager) EscalateConflicts(ctx context.Context, writerID string, conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	added := 0
	_, err := m.Update(ctx, writerID, fmt.Sprintf("escalate %d conflict(s)", len(conflicts)), func(doc *store.Document) error {
		added = RecordOpenConflicts(doc, conflicts, m.now())
		if added == 0 {
			return errors.ErrAbortUpdate
		}
		return nil
	})
	if errors.Is(err, errors.ErrAbortUpdate) {
		return nil
	}
	if err != nil {
		return err
	}
	m.metrics.AddEscalations(added)
	for _, c := range conflicts {
		m.logger.Warn("conflict escalated to operator",
			"path", c.Path, "type", string(c.Type), "owner_a", c.OwnerA, "owner_b", c.OwnerB)
	}
	return nil
}

func unionKeys(a, b knowledge.Map) []string {
	union := make(knowledge.Map, len(a)+len(b))
	for k := range a {
		union[k] = knowledge.Value{}
	}
	for k := range b {
		union[k] = knowledge.Value{}
	}
	return union.Keys()
}

func containsValue(items []knowledge.Value, v knowledge.Value) bool {
	for _, it := range items {
		if it.Equal(v) {
			return true
		}
	}
	return false
}
