package sharedctx

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/store"
)

// IntegrityReport is the result of ValidateIntegrity.
type IntegrityReport struct {
	Valid bool `json:"valid"`
	// Version is the document's versionNumber.
	Version int `json:"version"`
	// RecordedHash is the contentHash of the latest version record.
	RecordedHash string `json:"recordedHash,omitempty"`
	// ActualHash is recomputed from the document on disk.
	ActualHash string   `json:"actualHash,omitempty"`
	Problems   []string `json:"problems,omitempty"`
}

// ValidateIntegrity checks the persisted document against its own history:
// the recomputed content hash must match the latest record, the history must
// be gapless and end at versionNumber, and session ids must be unique.
//
// Problems are reported, never repaired. When any are found the returned
// error wraps errors.ErrIntegrity; callers should stop writing until an
// operator intervenes or rolls back.
func (m *Manager) ValidateIntegrity(ctx context.Context) (IntegrityReport, error) {
	m.mu.Lock()
	doc, err := m.store.Load()
	m.mu.Unlock()

	if errors.Is(err, errors.ErrNotFound) {
		return IntegrityReport{Valid: true}, nil
	}
	if errors.IsCorruption(err) {
		m.metrics.IncIntegrityFailures()
		return IntegrityReport{Problems: []string{err.Error()}},
			fmt.Errorf("%w: %w", errors.ErrIntegrity, err)
	}
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{Version: doc.VersionNumber}
	var result *multierror.Error

	actual, err := doc.ContentHash()
	if err != nil {
		return IntegrityReport{}, err
	}
	report.ActualHash = actual

	if latest, ok := doc.LatestRecord(); ok {
		report.RecordedHash = latest.ContentHash
		if latest.ContentHash != actual {
			result = multierror.Append(result, fmt.Errorf(
				"content hash mismatch for version %d: recorded %s, actual %s",
				latest.Version, short(latest.ContentHash), short(actual)))
		}
		if latest.Version != doc.VersionNumber {
			result = multierror.Append(result, fmt.Errorf(
				"latest history record is version %d but document is version %d",
				latest.Version, doc.VersionNumber))
		}
	}

	result = multierror.Append(result, checkHistory(doc.VersionHistory, m.cfg.HistoryLimit)...)
	result = multierror.Append(result, checkSessions(doc.Sessions)...)

	if err := result.ErrorOrNil(); err != nil {
		for _, p := range result.Errors {
			report.Problems = append(report.Problems, p.Error())
		}
		m.metrics.IncIntegrityFailures()
		m.logger.Error("integrity validation failed",
			"version", doc.VersionNumber, "problems", len(report.Problems))
		return report, fmt.Errorf("%w: %w", errors.ErrIntegrity, err)
	}

	report.Valid = true
	return report, nil
}

func checkHistory(history []store.VersionRecord, limit int) []error {
	var problems []error
	if limit > 0 && len(history) > limit {
		problems = append(problems, fmt.Errorf("history holds %d records, limit is %d", len(history), limit))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Version != history[i-1].Version+1 {
			problems = append(problems, fmt.Errorf(
				"history gap: version %d follows %d", history[i].Version, history[i-1].Version))
		}
	}
	return problems
}

func checkSessions(sessions []store.Session) []error {
	var problems []error
	seen := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if seen[s.SessionID] {
			problems = append(problems, fmt.Errorf("duplicate session id %q", s.SessionID))
		}
		seen[s.SessionID] = true
	}
	return problems
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
