package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/agentsync/internal/errors"
)

// DefaultBackupLimit is the number of document backups kept on disk.
const DefaultBackupLimit = 3

// MarshalFunc encodes a document. It must be deterministic: Persist rejects
// output that does not reproduce itself after a decode/encode round trip.
type MarshalFunc func(v any) ([]byte, error)

func indentJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithMarshaler replaces the document encoder.
func WithMarshaler(fn MarshalFunc) Option {
	return func(s *FileStore) {
		if fn != nil {
			s.marshal = fn
		}
	}
}

// WithBackupLimit sets how many backups Persist keeps. Values below 1 are
// ignored.
func WithBackupLimit(n int) Option {
	return func(s *FileStore) {
		if n > 0 {
			s.backupLimit = n
		}
	}
}

// WithClock sets the time source used to name backups.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// FileStore reads and writes the shared document and its side files.
//
// FileStore does no locking of its own; callers hold [FileStore.Mutex]
// around every read-modify-write.
type FileStore struct {
	paths       Paths
	marshal     MarshalFunc
	backupLimit int
	now         func() time.Time
}

// NewFileStore creates a FileStore for the given layout and ensures the
// context, versions and backups directories exist.
func NewFileStore(paths Paths, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		paths:       paths,
		marshal:     indentJSON,
		backupLimit: DefaultBackupLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{paths.Dir, paths.Versions, paths.Backups} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return s, nil
}

// Paths returns the store layout.
func (s *FileStore) Paths() Paths {
	return s.paths
}

// Mutex returns the process-wide lock for this store's document.
func (s *FileStore) Mutex() *sync.Mutex {
	return LockForPath(s.paths.Document)
}

// Exists reports whether the document file is present.
func (s *FileStore) Exists() (bool, error) {
	_, err := os.Stat(s.paths.Document)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat document: %w", err)
}

// Load reads and parses the document. It returns errors.ErrNotFound when the
// file is missing and errors.ErrCorrupted when it cannot be parsed.
func (s *FileStore) Load() (*Document, error) {
	return readDocument(s.paths.Document)
}

func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to read %s", filepath.Base(path))
	}
	return decode(data)
}

func decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCorrupted, err)
	}
	doc.normalize()
	return &doc, nil
}

// Persist writes doc over the real document file. The sequence is:
//
//  1. copy the current file to a timestamped backup and prune old backups
//  2. encode doc and check the bytes survive a decode/encode round trip
//  3. write a temp file in the same directory and fsync it
//  4. re-read the temp file and check it parses
//  5. rename the temp file over the document
//
// If any step fails the real file is left as it was.
func (s *FileStore) Persist(doc *Document) error {
	if err := s.backup(); err != nil {
		return err
	}

	data, err := s.encode(doc)
	if err != nil {
		return err
	}

	return atomicWriteFile(s.paths.Document, data, 0644, func(written []byte) error {
		if _, err := decode(written); err != nil {
			return fmt.Errorf("%w: temp file does not parse: %v", errors.ErrRoundTrip, err)
		}
		return nil
	})
}

// encode marshals doc and verifies that decoding and re-encoding the result
// yields identical bytes.
func (s *FileStore) encode(doc *Document) ([]byte, error) {
	cp := doc.Clone()
	data, err := s.marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", errors.ErrRoundTrip, err)
	}

	back, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrRoundTrip, err)
	}
	again, err := s.marshal(back)
	if err != nil {
		return nil, fmt.Errorf("%w: re-marshal: %v", errors.ErrRoundTrip, err)
	}
	if !bytes.Equal(data, again) {
		return nil, fmt.Errorf("%w: encoded document is not stable", errors.ErrRoundTrip)
	}
	return data, nil
}

// backup copies the current document into the backups directory and keeps
// only the newest backupLimit copies. A missing document needs no backup.
func (s *FileStore) backup() error {
	data, err := os.ReadFile(s.paths.Document)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read document for backup: %w", err)
	}

	if err := os.MkdirAll(s.paths.Backups, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	stamp := s.now().UTC().Format("20060102T150405.000000000Z")
	name := filepath.Join(s.paths.Backups, backupPrefix+stamp+jsonExt)
	// Collisions get a zero-padded "_NNN" suffix, which sorts after the
	// plain name since '_' > '.'.
	for i := 1; fileExists(name); i++ {
		name = filepath.Join(s.paths.Backups, fmt.Sprintf("%s%s_%03d%s", backupPrefix, stamp, i, jsonExt))
	}
	if err := atomicWriteFile(name, data, 0644, nil); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return s.pruneBackups()
}

func (s *FileStore) pruneBackups() error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	if len(backups) <= s.backupLimit {
		return nil
	}
	for _, old := range backups[:len(backups)-s.backupLimit] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune backup: %w", err)
		}
	}
	return nil
}

// Backups lists backup files oldest first.
func (s *FileStore) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.paths.Backups)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), jsonExt) {
			continue
		}
		out = append(out, filepath.Join(s.paths.Backups, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}

// SaveSnapshot stores the full document under its version number. The
// encoded form is round-trip checked the same way Persist checks it.
func (s *FileStore) SaveSnapshot(doc *Document) error {
	data, err := s.encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(s.paths.Versions, 0755); err != nil {
		return fmt.Errorf("failed to create versions directory: %w", err)
	}
	if err := atomicWriteFile(s.paths.Snapshot(doc.VersionNumber), data, 0644, nil); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot for version. It returns
// errors.ErrVersionNotFound when no snapshot exists.
func (s *FileStore) LoadSnapshot(version int) (*Document, error) {
	doc, err := readDocument(s.paths.Snapshot(version))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %d", errors.ErrVersionNotFound, version)
	}
	return doc, err
}

// Snapshots lists the versions that have a snapshot, ascending.
func (s *FileStore) Snapshots() ([]int, error) {
	entries, err := os.ReadDir(s.paths.Versions)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var versions []int
	for _, e := range entries {
		if v, ok := parseSnapshotName(e.Name()); ok && !e.IsDir() {
			versions = append(versions, v)
		}
	}
	slices.Sort(versions)
	return versions, nil
}

// PruneSnapshots deletes every snapshot older than keepFrom.
func (s *FileStore) PruneSnapshots(keepFrom int) error {
	versions, err := s.Snapshots()
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v >= keepFrom {
			break
		}
		if err := os.Remove(s.paths.Snapshot(v)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to prune snapshot %d", v)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// atomicWriteFile writes data to a temp file in the target directory, syncs
// it, optionally verifies what landed on disk, and renames it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode, verify func([]byte) error) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if verify != nil {
		written, err := os.ReadFile(tmpPath)
		if err != nil {
			return fmt.Errorf("failed to re-read temp file: %w", err)
		}
		if err := verify(written); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
