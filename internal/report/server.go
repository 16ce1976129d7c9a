// Package report serves a read-only HTTP view of the session registry, the
// document history and the Prometheus collectors.
package report

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/agentsync/internal/coordinator"
	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/logging"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes coordinator state over HTTP.
type Server struct {
	coord    *coordinator.Coordinator
	manager  *sharedctx.Manager
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	router   *mux.Router
}

// SessionsResponse is the body of GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []store.Session `json:"sessions"`
	Active   []string        `json:"active"`
}

// HistoryResponse is the body of GET /api/v1/history.
type HistoryResponse struct {
	History []store.VersionRecord `json:"history"`
}

// New builds a Server. A nil gatherer disables /metrics; a nil logger
// discards output.
func New(coord *coordinator.Coordinator, manager *sharedctx.Manager, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		coord:    coord,
		manager:  manager,
		gatherer: gatherer,
		logger:   logger.WithComponent("report"),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{role}", s.handleSessionByRole).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/integrity", s.handleIntegrity).Methods(http.MethodGet)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("report server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("report server shutdown error", "error", err)
		return err
	}
	return <-errCh
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.GetStatistics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.coord.GetSessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	active, err := s.coord.GetActiveSessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := SessionsResponse{Sessions: all, Active: make([]string, 0, len(active))}
	for _, sess := range active {
		resp.Active = append(resp.Active, sess.SessionID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionByRole(w http.ResponseWriter, r *http.Request) {
	role := store.Role(mux.Vars(r)["role"])
	sess, err := s.coord.GetSessionByRole(r.Context(), role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session with role " + string(role)})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.manager.GetVersionHistory(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if history == nil {
		history = []store.VersionRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{History: history})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	rep, err := s.manager.ValidateIntegrity(r.Context())
	if err != nil && !errors.Is(err, errors.ErrIntegrity) {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !rep.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, rep)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
