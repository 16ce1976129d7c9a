package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Directory and file names under the run-state directory.
const (
	DefaultRunStateDir = ".agentsync"
	ContextDirName     = "context"
	VersionsDirName    = "versions"
	BackupsDirName     = "backups"
	DocumentFileName   = "shared_context.json"

	snapshotPrefix = "version_"
	backupPrefix   = "shared_context_"
	jsonExt        = ".json"
)

// Paths locates the document, its snapshots and its backups.
type Paths struct {
	// Dir is <baseDir>/<runStateDir>/context.
	Dir      string
	Document string
	Versions string
	Backups  string
}

// NewPaths resolves the store layout for a project base directory.
// An empty runStateDir uses DefaultRunStateDir.
func NewPaths(baseDir, runStateDir string) Paths {
	if runStateDir == "" {
		runStateDir = DefaultRunStateDir
	}
	dir := filepath.Join(baseDir, runStateDir, ContextDirName)
	return Paths{
		Dir:      dir,
		Document: filepath.Join(dir, DocumentFileName),
		Versions: filepath.Join(dir, VersionsDirName),
		Backups:  filepath.Join(dir, BackupsDirName),
	}
}

// Snapshot returns the snapshot file for version, e.g. version_0001.json.
func (p Paths) Snapshot(version int) string {
	return filepath.Join(p.Versions, fmt.Sprintf("%s%04d%s", snapshotPrefix, version, jsonExt))
}

// parseSnapshotName extracts the version from a snapshot file name.
func parseSnapshotName(name string) (int, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, jsonExt) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), jsonExt))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
