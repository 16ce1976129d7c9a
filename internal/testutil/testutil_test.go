package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSetupProject(t *testing.T) {
	dir := SetupProject(t, "")
	info, err := os.Stat(filepath.Join(dir, ".agentsync"))
	if err != nil || !info.IsDir() {
		t.Fatalf("run-state dir missing: %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "a/b/c.json", "{}")
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{}" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(90 * time.Second)
	if got := c.Now().Sub(start); got != 90*time.Second {
		t.Errorf("Advance moved clock by %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Error("Set did not reset clock")
	}
}

func TestSyncBuffer_ConcurrentWrites(t *testing.T) {
	var buf SyncBuffer
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = buf.Write([]byte("x"))
		}()
	}
	wg.Wait()
	if len(buf.String()) != 10 || !buf.Contains("xx") {
		t.Errorf("buffer = %q", buf.String())
	}
}
