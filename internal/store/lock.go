package store

import (
	"path/filepath"
	"sync"
)

var pathLocks = struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}{locks: make(map[string]*sync.Mutex)}

// LockForPath returns the process-wide mutex for a document path. Every
// manager and coordinator in one process that targets the same file shares
// it, so reads, writes and sync ticks never interleave.
func LockForPath(path string) *sync.Mutex {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)

	pathLocks.mu.Lock()
	defer pathLocks.mu.Unlock()

	mu, ok := pathLocks.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		pathLocks.locks[path] = mu
	}
	return mu
}
