package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/event"
	"github.com/Iron-Ham/agentsync/internal/report"
	"github.com/Iron-Ham/agentsync/internal/store"
)

const deregisterTimeout = 5 * time.Second

func newJoinCmd(a *app) *cobra.Command {
	var (
		id      string
		role    string
		agentID string
		serve   bool
		keep    bool
		reap    bool
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Register a session and keep it alive until interrupted",
		Long: `Register a session, heartbeat it every session.heartbeat_interval_seconds
and keep a local view of shared knowledge in sync with other sessions, printing
every change made by a peer. On interrupt the session is deregistered unless
--keep is given.

If the session id is already registered, join resumes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			if agentID == "" {
				agentID = id
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				return a.join(ctx, cmd, rt, joinOptions{
					id: id, role: store.Role(role), agentID: agentID,
					serve: serve, keep: keep, reap: reap,
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (default: random UUID)")
	cmd.Flags().StringVar(&role, "role", string(store.RoleAssistant), "session role: "+roleList())
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default: the session id)")
	cmd.Flags().BoolVar(&serve, "serve", false, "also run the report server on report.addr")
	cmd.Flags().BoolVar(&keep, "keep", false, "leave the session registered on exit")
	cmd.Flags().BoolVar(&reap, "reap", false, "mark silent peers dead on every heartbeat")
	return cmd
}

type joinOptions struct {
	id      string
	role    store.Role
	agentID string
	serve   bool
	keep    bool
	reap    bool
}

func (a *app) join(ctx context.Context, cmd *cobra.Command, rt *runtime, opts joinOptions) error {
	out := &lockedWriter{w: cmd.OutOrStdout()}
	log := rt.logger.WithSession(opts.id)

	ok, err := rt.coord.Register(ctx, opts.id, opts.role, opts.agentID)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "Joined as %s (%s)\n", opts.id, opts.role)
	} else {
		if _, err := rt.coord.Heartbeat(ctx, opts.id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Resumed session %s\n", opts.id)
	}

	rt.bus.Subscribe(event.TypeContextChanged, func(e event.Event) {
		ev := e.(event.ContextChangedEvent)
		fmt.Fprintf(out, "v%d: %s changed\n", ev.Version, strings.Join(ev.Keys, ", "))
	})
	rt.bus.Subscribe(event.TypeSessionDead, func(e event.Event) {
		ev := e.(event.SessionDeadEvent)
		fmt.Fprintf(out, "session %s is dead (last heartbeat %s)\n", ev.SessionID, ev.LastHeartbeat.Local().Format(time.TimeOnly))
	})

	if err := rt.coord.EnableSharedContextSync(ctx, opts.id); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := rt.coord.KeepAlive(runCtx, opts.id); err != nil {
			fmt.Fprintf(out, "Session %s was removed from the registry; exiting\n", opts.id)
			cancel()
		}
	})
	if opts.reap {
		wg.Go(func() { a.reapLoop(runCtx, rt) })
	}
	if opts.serve {
		wg.Go(func() {
			if err := a.serve(runCtx, rt); err != nil {
				log.Error("report server failed", "error", err)
				fmt.Fprintf(out, "Report server failed: %v\n", err)
			}
		})
	}

	<-runCtx.Done()
	wg.Wait()

	if err := rt.coord.Stop(); err != nil {
		log.Warn("sync loop did not stop cleanly", "error", err)
	}
	if opts.keep {
		return nil
	}

	dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), deregisterTimeout)
	defer dcancel()
	if _, err := rt.coord.Deregister(dctx, opts.id); err != nil {
		return errors.Wrapf(err, "failed to deregister %s", opts.id)
	}
	fmt.Fprintf(out, "Left as %s\n", opts.id)
	return nil
}

func (a *app) reapLoop(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(rt.coord.Config().HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rt.coord.DetectDeadSessions(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Warn("dead session sweep failed", "error", err)
			}
		}
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only report API and Prometheus metrics",
		Long: `Serve a read-only HTTP view of the registry and the document:

  GET /health
  GET /api/v1/stats
  GET /api/v1/sessions
  GET /api/v1/sessions/{role}
  GET /api/v1/history
  GET /api/v1/integrity
  GET /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Report.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", a.cfg.Report.Addr)
				return a.serve(ctx, rt)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: report.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context, rt *runtime) error {
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv := report.New(rt.coord, rt.manager, rt.registry, rt.logger)
	return srv.ListenAndServe(ctx, a.cfg.Report.Addr)
}

// lockedWriter serializes writes from the sync loop and the command.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
