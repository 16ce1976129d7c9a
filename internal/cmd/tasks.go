package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentsync/internal/store"
)

type assignResult struct {
	TaskID    string `json:"taskId"`
	SessionID string `json:"sessionId"`
	Assigned  bool   `json:"assigned"`
}

func newAssignCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a task to an idle session",
		Long: `Assign a task to the first active idle session with the preferred role,
falling back to any active idle session. Nothing is queued when every session
is busy; the command reports that no session was free.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				sessionID, err := rt.coord.AssignTask(ctx, args[0], store.Role(role))
				if err != nil {
					return err
				}
				res := assignResult{TaskID: args[0], SessionID: sessionID, Assigned: sessionID != ""}
				if sessionID == "" {
					return a.printer(cmd).message(res, "No idle session available for %s", args[0])
				}
				return a.printer(cmd).message(res, "Assigned %s to %s", args[0], sessionID)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(store.RoleAssistant), "preferred role: "+roleList())
	return cmd
}

func newTaskCmd(a *app) *cobra.Command {
	var clearTask bool
	cmd := &cobra.Command{
		Use:   "task <session-id> [task-id]",
		Short: "Set or clear the task a session is working on",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearTask == (len(args) == 2) {
				return fmt.Errorf("give either a task id or --clear")
			}
			var task *string
			if !clearTask {
				task = &args[1]
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ok, err := rt.coord.UpdateSessionTask(ctx, args[0], task)
				if err != nil {
					return err
				}
				res := sessionResult{SessionID: args[0], OK: ok}
				switch {
				case !ok:
					return a.printer(cmd).message(res, "Session %s is not registered", args[0])
				case task == nil:
					return a.printer(cmd).message(res, "Cleared task for %s", args[0])
				default:
					return a.printer(cmd).message(res, "Session %s is now working on %s", args[0], *task)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&clearTask, "clear", false, "mark the session idle")
	return cmd
}

func newLocksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "locks <session-id> [file...]",
		Short: "Replace the set of files a session has locked",
		Long: `Replace the advisory set of files a session has locked. With no files the
set is cleared. Locks are informational; agentsync does not enforce them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ok, err := rt.coord.UpdateSessionLocks(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				res := sessionResult{SessionID: args[0], OK: ok}
				if !ok {
					return a.printer(cmd).message(res, "Session %s is not registered", args[0])
				}
				return a.printer(cmd).message(res, "Session %s holds %d lock(s)", args[0], len(args)-1)
			})
		},
	}
}
