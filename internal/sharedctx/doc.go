// Package sharedctx provides safe, versioned and conflict-aware access to the
// shared coordination document.
//
// A [Manager] reads and writes the document through the store package's
// corruption-safe persistence. Every write becomes a new version with a
// history record and a full snapshot, so any retained version can be
// restored with [Manager.Rollback].
//
// # Consistency
//
// Concurrency control is optimistic. Within one process all managers for a
// path share a mutex; across processes the only ordering is the atomicity of
// rename, so two writers can both succeed and the last write wins at the
// document level. Only the sharedKnowledge sub-tree gets explicit conflict
// handling, through [DetectConflicts], [AutoMerge] and
// [Manager.EscalateConflicts]. This is not a linearizable store and does
// not try to be one.
//
// # Conflicts
//
// Two differing lists are an overlapping conflict merged by union. Two
// differing maps are overlapping and mergeable when their shared keys agree.
// Anything else is a contradiction: it is recorded under openConflicts for
// an operator and never resolved by picking a side.
package sharedctx
