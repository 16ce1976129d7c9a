// Package internal contains integration tests that wire configuration, the
// shared-context manager, the coordinator and the event bus together the
// way the CLI does, with two independent coordinators sharing one project.
package internal

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/agentsync/internal/config"
	"github.com/Iron-Ham/agentsync/internal/coordinator"
	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/knowledge"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
	"github.com/Iron-Ham/agentsync/internal/testutil"
)

type node struct {
	manager *sharedctx.Manager
	coord   *coordinator.Coordinator

	mu     sync.Mutex
	events []event.Event
}

func (n *node) seen(eventType string) []event.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event.Event
	for _, e := range n.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newNode(t *testing.T, cfg *config.Config) *node {
	t.Helper()
	paths, err := cfg.Paths()
	require.NoError(t, err)

	n := &node{}
	bus := event.NewBus(nil)
	bus.SubscribeAll(func(e event.Event) {
		n.mu.Lock()
		n.events = append(n.events, e)
		n.mu.Unlock()
	})

	n.manager, err = sharedctx.NewManager(paths, cfg.ManagerConfig(), sharedctx.WithBus(bus))
	require.NoError(t, err)
	n.coord, err = coordinator.New(n.manager, cfg.CoordinatorConfig(), coordinator.WithBus(bus))
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.coord.Stop() })
	return n
}

func TestTwoCoordinatorsShareOneProject(t *testing.T) {
	cfg := config.Default()
	cfg.Store.BaseDir = testutil.SetupProject(t, cfg.Store.RunStateDir)
	cfg.Store.RetryBaseDelayMs = 1
	cfg.Sync.PollIntervalMs = 20
	require.Empty(t, cfg.Validate())

	ctx := context.Background()
	a := newNode(t, cfg)
	b := newNode(t, cfg)

	ok, err := a.coord.Register(ctx, "alpha", store.RoleBackend, "agent-a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.coord.Register(ctx, "beta", store.RoleFrontend, "agent-b")
	require.NoError(t, err)
	require.True(t, ok)

	// Each side sees the other's registration through the shared file.
	sessions, err := a.coord.GetActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, a.coord.EnableSharedContextSync(ctx, "alpha"))
	require.NoError(t, b.coord.EnableSharedContextSync(ctx, "beta"))

	require.NoError(t, a.coord.UpdateSharedContext(ctx, "api_version", knowledge.String("v2")))

	require.Eventually(t, func() bool {
		return b.coord.GetSharedContext("api_version", knowledge.Null()).Equal(knowledge.String("v2"))
	}, 5*time.Second, 10*time.Millisecond, "peer never observed the change")

	require.Eventually(t, func() bool {
		for _, e := range b.seen(event.TypeContextChanged) {
			if slices.Contains(e.(event.ContextChangedEvent).Keys, "api_version") {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// A task for the frontend goes to beta even though alpha assigns it.
	assigned, err := a.coord.AssignTask(ctx, "T-42", store.RoleFrontend)
	require.NoError(t, err)
	assert.Equal(t, "beta", assigned)
	assert.Len(t, a.seen(event.TypeTaskAssigned), 1)
	assert.Empty(t, b.seen(event.TypeTaskAssigned), "buses are process-local")

	sess, err := b.coord.GetSessionByRole(ctx, store.RoleFrontend)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "T-42", sess.TaskID())

	// Both managers wrote to one gapless history.
	history, err := b.manager.GetVersionHistory(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].Version+1, history[i].Version)
	}
	writers := make(map[string]bool)
	for _, rec := range history {
		writers[rec.SessionID] = true
	}
	assert.True(t, writers["alpha"] && writers["beta"], "history records both writers: %v", writers)

	report, err := a.manager.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}
