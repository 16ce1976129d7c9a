package report

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/agentsync/internal/coordinator"
	"github.com/Iron-Ham/agentsync/internal/knowledge"
	"github.com/Iron-Ham/agentsync/internal/metrics"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
	"github.com/Iron-Ham/agentsync/internal/testutil"
)

type fixture struct {
	clock   *testutil.FakeClock
	manager *sharedctx.Manager
	coord   *coordinator.Coordinator
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clock := testutil.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	mgr, err := sharedctx.NewManager(store.NewPaths(t.TempDir(), ""), sharedctx.Config{
		RetryBaseDelay: time.Millisecond,
	}, sharedctx.WithMetrics(m), sharedctx.WithClock(clock.Now))
	require.NoError(t, err)

	coord, err := coordinator.New(mgr, coordinator.Config{},
		coordinator.WithMetrics(m), coordinator.WithClock(clock.Now))
	require.NoError(t, err)

	srv := httptest.NewServer(New(coord, mgr, reg, nil).Handler())
	t.Cleanup(srv.Close)
	return &fixture{clock: clock, manager: mgr, coord: coord, srv: srv}
}

func (f *fixture) get(t *testing.T, path string, into any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.get(t, "/health", &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestSessionsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Register(ctx, "s1", store.RoleBackend, "a1")
	require.NoError(t, err)
	f.clock.Advance(200 * time.Second)
	_, err = f.coord.Register(ctx, "s2", store.RoleFrontend, "a2")
	require.NoError(t, err)

	var sessions SessionsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/sessions", &sessions))
	assert.Len(t, sessions.Sessions, 2)
	assert.Equal(t, []string{"s2"}, sessions.Active)

	var stats coordinator.Statistics
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/stats", &stats))
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.DeadSessions)

	var sess store.Session
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/sessions/frontend", &sess))
	assert.Equal(t, "s2", sess.SessionID)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/sessions/testing", nil))
}

func TestHistory(t *testing.T) {
	f := newFixture(t)

	var empty HistoryResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/history", &empty))
	assert.NotNil(t, empty.History)

	_, err := f.coord.Register(context.Background(), "s1", store.RoleTesting, "a1")
	require.NoError(t, err)

	var hist HistoryResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/history", &hist))
	require.NotEmpty(t, hist.History)
	last := hist.History[len(hist.History)-1]
	assert.Equal(t, "s1", last.SessionID)
	assert.NotEmpty(t, last.ContentHash)
}

func TestIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.Register(ctx, "s1", store.RoleBackend, "a1")
	require.NoError(t, err)

	var rep sharedctx.IntegrityReport
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/integrity", &rep))
	assert.True(t, rep.Valid)

	doc, err := f.manager.Store().Load()
	require.NoError(t, err)
	doc.SharedKnowledge["phase"] = knowledge.String("tampered")
	require.NoError(t, f.manager.Store().Persist(doc))

	rep = sharedctx.IntegrityReport{}
	require.Equal(t, http.StatusConflict, f.get(t, "/api/v1/integrity", &rep))
	assert.False(t, rep.Valid)
	assert.NotEmpty(t, rep.Problems)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Register(context.Background(), "s1", store.RoleBackend, "a1")
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "agentsync_document_writes_total"))
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/api/v1/stats", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := New(f.coord, f.manager, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
