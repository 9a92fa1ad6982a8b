// Command intentengine is a thin JSON-in/JSON-out shim over the core's
// External Interfaces (spec.md §6): one subcommand per interface
// (plan, status, search, events), grounded on cmd/bd's convention of a
// main.go that only wires flags to internal calls. It carries no
// output formatting, interactive flags, or help text beyond cobra's
// defaults — the smallest possible harness, not "the CLI" the
// Non-goals exclude.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayfind/intent-engine-sub003"
	"github.com/wayfind/intent-engine-sub003/internal/planner"
	"github.com/wayfind/intent-engine-sub003/internal/store"
	"github.com/wayfind/intent-engine-sub003/internal/telemetry"
)

var projectDir string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "intentengine",
		Short:         "JSON shim over Intent-Engine's core interfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&projectDir, "dir", "", "project directory (defaults to the working directory)")

	cmd.AddCommand(planCmd(), statusCmd(), searchCmd(), eventsCmd())
	return cmd
}

// openRuntime resolves --dir (or the working directory) to a project
// root and opens its Runtime, wiring telemetry exactly once per
// invocation (telemetry.Init is never called by library code).
func openRuntime(ctx context.Context) (*intentengine.Runtime, telemetry.Shutdown, error) {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}

	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	rt, _, err := intentengine.Open(ctx, dir)
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, err
	}
	return rt, shutdown, nil
}

// errorEnvelope is spec.md §6.2's failure shape, reused for every
// subcommand's error output (not just plan's).
type errorEnvelope struct {
	Success bool       `json:"success"`
	Error   errorShape `json:"error"`
}

type errorShape struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// classify maps an error to spec.md §7's taxonomy. Order matters: the
// more specific wrapped-error types are checked before their sentinel.
func classify(err error) errorShape {
	var focusErr *store.FocusProtectedError
	if errors.As(err, &focusErr) {
		return errorShape{
			Kind:    "FocusProtected",
			Message: err.Error(),
			Context: map[string]any{"session": focusErr.SessionID, "task_id": focusErr.TaskID},
		}
	}
	var conflictErr *store.NameConflictError
	if errors.As(err, &conflictErr) {
		ctx := map[string]any{"name": conflictErr.Name}
		if conflictErr.ParentID != nil {
			ctx["parent_id"] = *conflictErr.ParentID
		}
		return errorShape{Kind: "NameConflictInScope", Message: err.Error(), Context: ctx}
	}

	kinds := []struct {
		sentinel error
		kind     string
	}{
		{store.ErrNotFound, "NotFound"},
		{store.ErrNameConflictInScope, "NameConflictInScope"},
		{store.ErrHierarchyCycle, "HierarchyCycle"},
		{store.ErrDependencyCycle, "DependencyCycle"},
		{store.ErrInvalidStatusTrans, "InvalidStatusTransition"},
		{store.ErrMultipleDoingInPlan, "MultipleDoingInPlan"},
		{store.ErrFocusProtected, "FocusProtected"},
		{store.ErrUncompletedChildren, "UncompletedChildren"},
		{store.ErrMissingSpec, "MissingSpec"},
		{store.ErrBusy, "Busy"},
		{store.ErrStorageFailure, "StorageFailure"},
		{store.ErrIncompatibleSchema, "IncompatibleSchema"},
		{store.ErrInvalidInput, "InvalidInput"},
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return errorShape{Kind: k.kind, Message: err.Error()}
		}
	}
	return errorShape{Kind: "StorageFailure", Message: err.Error()}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) error {
	_ = writeJSON(os.Stdout, errorEnvelope{Error: classify(err)})
	return err
}

func planCmd() *cobra.Command {
	var sessionFlag string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Apply a declarative batch document (read as JSON from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fail(fmt.Errorf("reading plan document: %w", err))
			}
			doc, err := planner.Parse(body)
			if err != nil {
				return fail(err)
			}

			ctx := context.Background()
			rt, shutdown, err := openRuntime(ctx)
			if err != nil {
				return fail(err)
			}
			defer rt.Close()
			defer shutdown(ctx)

			var sid *string
			if cmd.Flags().Changed("session") {
				sid = &sessionFlag
			}
			report, err := rt.Plan(ctx, sid, doc)
			if err != nil {
				return fail(err)
			}
			return writeJSON(os.Stdout, report)
		},
	}
	cmd.Flags().StringVar(&sessionFlag, "session", "", "session id (defaults to \"cli\")")
	return cmd
}

func statusCmd() *cobra.Command {
	var sessionFlag string
	var taskID int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the Status View for a session's focus or an explicit task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, shutdown, err := openRuntime(ctx)
			if err != nil {
				return fail(err)
			}
			defer rt.Close()
			defer shutdown(ctx)

			var view any
			if cmd.Flags().Changed("task") {
				view, err = rt.ViewStatusForTask(ctx, taskID)
			} else {
				var sid *string
				if cmd.Flags().Changed("session") {
					sid = &sessionFlag
				}
				view, err = rt.ViewStatus(ctx, sid)
			}
			if err != nil {
				return fail(err)
			}
			return writeJSON(os.Stdout, view)
		},
	}
	cmd.Flags().StringVar(&sessionFlag, "session", "", "session id (defaults to \"cli\")")
	cmd.Flags().Int64Var(&taskID, "task", 0, "explicit task id (overrides --session)")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit, offset int
	var eventsOnly bool
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a ranked full-text search over tasks and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, shutdown, err := openRuntime(ctx)
			if err != nil {
				return fail(err)
			}
			defer rt.Close()
			defer shutdown(ctx)

			hits, err := rt.Find(ctx, args[0], limit, offset, eventsOnly)
			if err != nil {
				return fail(err)
			}
			return writeJSON(os.Stdout, hits)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum hits to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "hits to skip")
	cmd.Flags().BoolVar(&eventsOnly, "events-only", false, "restrict results to event hits")
	return cmd
}

func eventsCmd() *cobra.Command {
	var limit int
	var beforeFlag string
	cmd := &cobra.Command{
		Use:   "events [task-id]",
		Short: "List a task's event log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskID int64
			if _, err := fmt.Sscanf(args[0], "%d", &taskID); err != nil {
				return fail(fmt.Errorf("%w: task id must be an integer", store.ErrInvalidInput))
			}

			var before *time.Time
			if beforeFlag != "" {
				t, err := time.Parse(time.RFC3339, beforeFlag)
				if err != nil {
					return fail(fmt.Errorf("%w: --before must be RFC3339", store.ErrInvalidInput))
				}
				before = &t
			}

			ctx := context.Background()
			rt, shutdown, err := openRuntime(ctx)
			if err != nil {
				return fail(err)
			}
			defer rt.Close()
			defer shutdown(ctx)

			events, err := rt.ListEvents(ctx, taskID, limit, before)
			if err != nil {
				return fail(err)
			}
			return writeJSON(os.Stdout, events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to return")
	cmd.Flags().StringVar(&beforeFlag, "before", "", "only events strictly before this RFC3339 timestamp")
	return cmd
}
