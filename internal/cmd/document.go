package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentsync/internal/coordinator"
	"github.com/Iron-Ham/agentsync/internal/errors"
	"github.com/Iron-Ham/agentsync/internal/knowledge"
	"github.com/Iron-Ham/agentsync/internal/sharedctx"
	"github.com/Iron-Ham/agentsync/internal/store"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the session registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				stats, err := rt.coord.GetStatistics(ctx)
				if err != nil {
					return err
				}
				return a.printer(cmd).emit(stats, []string{"METRIC", "VALUE"}, statsRows(stats))
			})
		},
	}
}

func statsRows(s coordinator.Statistics) [][]string {
	return [][]string{
		{"total sessions", strconv.Itoa(s.TotalSessions)},
		{"active sessions", strconv.Itoa(s.ActiveSessions)},
		{"dead sessions", strconv.Itoa(s.DeadSessions)},
		{"tasks assigned", strconv.FormatInt(s.TasksAssigned, 10)},
		{"conflicts detected", strconv.FormatInt(s.ConflictsDetected, 10)},
		{"avg session minutes", strconv.FormatFloat(s.AvgSessionDurationMinutes, 'f', 1, 64)},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the retained version history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				history, err := rt.manager.GetVersionHistory(ctx)
				if err != nil {
					return err
				}
				if limit > 0 && len(history) > limit {
					history = history[len(history)-limit:]
				}
				if history == nil {
					history = []store.VersionRecord{}
				}

				rows := make([][]string, 0, len(history))
				for _, rec := range history {
					rows = append(rows, []string{
						strconv.Itoa(rec.Version),
						rec.Timestamp.Local().Format(time.DateTime),
						rec.SessionID,
						rec.ChangesDescription,
						shortHash(rec.ContentHash),
					})
				}
				return a.printer(cmd).emit(
					map[string]any{"history": history},
					[]string{"VERSION", "TIME", "WRITER", "CHANGES", "HASH"},
					rows,
				)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "only show the newest N records")
	return cmd
}

type rollbackResult struct {
	RestoredFrom int `json:"restoredFrom"`
	NewVersion   int `json:"newVersion"`
}

func newRollbackCmd(a *app) *cobra.Command {
	var writer string
	cmd := &cobra.Command{
		Use:   "rollback <version>",
		Short: "Restore the document to a retained version",
		Long: `Restore sessions and shared knowledge from a retained version snapshot.
The restore is itself a new write, so history keeps moving forward and the
rollback can be undone by rolling back again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 1 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.manager.Rollback(ctx, version, writer); err != nil {
					if errors.Is(err, errors.ErrVersionNotFound) {
						return fmt.Errorf("version %d is not retained; run 'agentsync history' to list versions", version)
					}
					return err
				}
				doc, err := rt.manager.Read(ctx)
				if err != nil {
					return err
				}
				res := rollbackResult{RestoredFrom: version, NewVersion: doc.VersionNumber}
				return a.printer(cmd).message(res, "Restored version %d as version %d", version, doc.VersionNumber)
			})
		},
	}
	cmd.Flags().StringVar(&writer, "as", coordinator.WriterID, "writer id recorded in history")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the document against its recorded history",
		Long: `Recompute the content hash of the shared document and compare it with the
latest history record, then check the history itself for gaps. Problems are
reported, never repaired; the command exits non-zero when any are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				rep, verr := rt.manager.ValidateIntegrity(ctx)
				if verr != nil && !errors.Is(verr, errors.ErrIntegrity) {
					return verr
				}

				p := a.printer(cmd)
				if p.structured() {
					if err := p.encode(rep); err != nil {
						return err
					}
				} else if rep.Valid {
					fmt.Fprintf(cmd.OutOrStdout(), "Document is consistent at version %d\n", rep.Version)
				} else {
					p.title("Integrity problems")
					rows := make([][]string, 0, len(rep.Problems))
					for i, problem := range rep.Problems {
						rows = append(rows, []string{strconv.Itoa(i + 1), problem})
					}
					if err := p.emit(rep, []string{"#", "PROBLEM"}, rows); err != nil {
						return err
					}
				}
				return verr
			})
		},
	}
}

func newContextCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Read or write shared knowledge",
	}
	cmd.AddCommand(newContextGetCmd(a), newContextSetCmd(a))
	return cmd
}

func newContextGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one shared-knowledge value, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				doc, err := rt.manager.Read(ctx)
				if err != nil {
					return err
				}
				p := a.printer(cmd)

				if len(args) == 1 {
					v, ok := doc.SharedKnowledge[args[0]]
					if !ok {
						return fmt.Errorf("key %q is not set", args[0])
					}
					return p.message(map[string]knowledge.Value{args[0]: v}, "%s", display(v))
				}

				keys := doc.SharedKnowledge.Keys()
				rows := make([][]string, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, []string{k, display(doc.SharedKnowledge[k])})
				}
				return p.emit(doc.SharedKnowledge, []string{"KEY", "VALUE"}, rows)
			})
		},
	}
}

func newContextSetCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a shared-knowledge value",
		Long: `Write a shared-knowledge value on behalf of a session. The value is parsed
as JSON when possible ("[1,2]", "true", "{\"a\":1}") and stored as a plain
string otherwise.

If another session changed the key concurrently, lists are unioned and maps are
merged. Contradicting scalars are not overwritten; they are recorded under
openConflicts for an operator and the command fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], knowledge.Parse(args[1])
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.coord.EnableSharedContextSync(ctx, sessionID); err != nil {
					return err
				}
				if err := rt.coord.UpdateSharedContext(ctx, key, value); err != nil {
					if errors.Is(err, errors.ErrContradiction) {
						return fmt.Errorf("%w; see 'agentsync context get %s'", err, sharedctx.OpenConflictsKey)
					}
					return err
				}
				stored := rt.coord.GetSharedContext(key, value)
				return a.printer(cmd).message(map[string]knowledge.Value{key: stored}, "%s = %s", key, display(stored))
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", coordinator.WriterID, "session id recorded as the writer")
	return cmd
}

// display renders strings bare and everything else as JSON.
func display(v knowledge.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
