package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentsync/internal/store"
)

// sessionResult is the structured output of the single-session commands.
type sessionResult struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role,omitempty"`
	OK        bool   `json:"ok"`
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		id      string
		role    string
		agentID string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new session",
		Long: `Register a session in the shared registry. Without --id a random
session id is generated and printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			if agentID == "" {
				agentID = id
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ok, err := rt.coord.Register(ctx, id, store.Role(role), agentID)
				if err != nil {
					return err
				}
				res := sessionResult{SessionID: id, Role: role, OK: ok}
				if !ok {
					return a.printer(cmd).message(res, "Session %s is already registered", id)
				}
				return a.printer(cmd).message(res, "Registered session %s (%s)", id, role)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id (default: random UUID)")
	cmd.Flags().StringVar(&role, "role", string(store.RoleAssistant), "session role: "+roleList())
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default: the session id)")
	return cmd
}

func newDeregisterCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <session-id>",
		Short: "Remove a session from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ok, err := rt.coord.Deregister(ctx, args[0])
				if err != nil {
					return err
				}
				res := sessionResult{SessionID: args[0], OK: ok}
				if !ok {
					return a.printer(cmd).message(res, "Session %s is not registered", args[0])
				}
				return a.printer(cmd).message(res, "Deregistered session %s", args[0])
			})
		},
	}
}

func newHeartbeatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <session-id>",
		Short: "Record a heartbeat for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ok, err := rt.coord.Heartbeat(ctx, args[0])
				if err != nil {
					return err
				}
				res := sessionResult{SessionID: args[0], OK: ok}
				if !ok {
					return a.printer(cmd).message(res, "Session %s is not registered", args[0])
				}
				return a.printer(cmd).message(res, "Heartbeat recorded for %s", args[0])
			})
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	var (
		activeOnly bool
		role       string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List registered sessions",
		Long: `List registered sessions. A session is shown as alive if it has
heartbeated within session.dead_threshold_seconds, regardless of the status
recorded in the document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if role != "" {
					sess, err := rt.coord.GetSessionByRole(ctx, store.Role(role))
					if err != nil {
						return err
					}
					if sess == nil {
						return fmt.Errorf("no active session with role %q", role)
					}
					return a.printSessions(cmd, rt, []store.Session{*sess})
				}

				var (
					sessions []store.Session
					err      error
				)
				if activeOnly {
					sessions, err = rt.coord.GetActiveSessions(ctx)
				} else {
					sessions, err = rt.coord.GetSessions(ctx)
				}
				if err != nil {
					return err
				}
				return a.printSessions(cmd, rt, sessions)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only show sessions that are alive")
	cmd.Flags().StringVar(&role, "role", "", "show the first active session with this role")
	return cmd
}

func (a *app) printSessions(cmd *cobra.Command, rt *runtime, sessions []store.Session) error {
	now := time.Now()
	threshold := rt.coord.Config().DeadThreshold

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		alive := "no"
		if s.IsAlive(now, threshold) {
			alive = "yes"
		}
		task := s.TaskID()
		if task == "" {
			task = "-"
		}
		rows = append(rows, []string{
			s.SessionID,
			string(s.Role),
			string(s.Status),
			alive,
			task,
			humanAge(now.Sub(s.LastHeartbeat)),
			fmt.Sprint(len(s.LockedFiles)),
		})
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return a.printer(cmd).emit(
		map[string]any{"sessions": sessions},
		[]string{"SESSION", "ROLE", "STATUS", "ALIVE", "TASK", "LAST HEARTBEAT", "LOCKS"},
		rows,
	)
}

// reapResult is the structured output of reap.
type reapResult struct {
	Dead    []string `json:"dead"`
	Removed []string `json:"removed"`
}

func newReapCmd(a *app) *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Mark silent sessions dead",
		Long: `Mark every session that has not heartbeated within the dead threshold as
dead. With --cleanup, dead sessions are also removed from the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				res := reapResult{Removed: []string{}}
				dead, err := rt.coord.DetectDeadSessions(ctx)
				if err != nil {
					return err
				}
				res.Dead = append([]string{}, dead...)

				if cleanup {
					removed, err := rt.coord.CleanupDeadSessions(ctx)
					if err != nil {
						return err
					}
					res.Removed = append(res.Removed, removed...)
				}

				p := a.printer(cmd)
				if !cleanup {
					return p.message(res, "Dead sessions: %s", joinOrNone(res.Dead))
				}
				return p.message(res, "Dead sessions: %s\nRemoved: %s", joinOrNone(res.Dead), joinOrNone(res.Removed))
			})
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove dead sessions after marking them")
	return cmd
}

func roleList() string {
	roles := store.KnownRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

// humanAge renders a duration the way operators read heartbeat ages.
func humanAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
