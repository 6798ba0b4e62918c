// Package main host hook integration. The host process calls
// 'strata hook <event>' with a JSON payload on stdin and acts on the JSON
// decision document printed to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joss/strata/internal/spec"
	"github.com/joss/strata/internal/state"
)

// hookInput is the payload the host pipes in. Unknown fields are ignored;
// a malformed payload is treated as empty rather than failing the host.
type hookInput struct {
	Cwd string `json:"cwd"`
}

// hookResponse is the decision document read back by the host.
type hookResponse struct {
	Continue      *bool  `json:"continue,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`
	Decision      string `json:"decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func emit(resp hookResponse) error {
	return json.NewEncoder(os.Stdout).Encode(resp)
}

func proceed(message string) hookResponse {
	t := true
	return hookResponse{Continue: &t, SystemMessage: message}
}

func hookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hook <event>",
		Short: "Handle a host hook event (session-start, agent-stop)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input hookInput
			// Tolerate empty or malformed stdin; hooks must not wedge the host.
			_ = json.NewDecoder(os.Stdin).Decode(&input)

			var dirArgs []string
			if input.Cwd != "" {
				dirArgs = []string{input.Cwd}
			}

			switch args[0] {
			case "session-start":
				return hookSessionStart(cmd.Context(), dirArgs)
			case "agent-stop":
				return hookAgentStop(cmd.Context(), dirArgs)
			default:
				return fmt.Errorf("unknown hook event %q", args[0])
			}
		},
	}
}

// hookSessionStart initializes the run if needed and dispatches ready
// tasks, handing the host a prompt block per dispatched task.
func hookSessionStart(ctx context.Context, args []string) error {
	app, cleanup, err := newApp(args)
	if errors.Is(err, spec.ErrNoDocument) {
		// No orchestration configured for this project.
		return emit(proceed(""))
	}
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := app.store.Latest(ctx)
	if errors.Is(err, state.ErrNoSnapshot) {
		snap, err = app.sched.Init(ctx)
	}
	if err != nil {
		return err
	}

	next, batch, err := app.sched.Dispatch(ctx, snap)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return emit(proceed("[strata] " + dispatchIdleMessage(next, app.sched.Cancelled())))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## [strata] Dispatching %d tasks\n\n", len(batch))
	sb.WriteString("The following tasks are ready to run concurrently, each in its own worktree:\n\n")
	for _, bt := range batch {
		task := app.doc.Tasks[bt.ID]
		fmt.Fprintf(&sb, "### Task: %s\n", bt.ID)
		if task.Description != "" {
			fmt.Fprintf(&sb, "%s\n", task.Description)
		}
		fmt.Fprintf(&sb, "Worktree: %s\nBranch: %s\n", bt.WorkspacePath, task.Branch)
		if names := app.doc.ValidatorNamesFor(bt.ID); len(names) > 0 {
			fmt.Fprintf(&sb, "Validators: %s\n", strings.Join(names, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Signal each finished task with 'strata complete <task>'.\n")
	return emit(proceed(sb.String()))
}

// hookAgentStop validates every running task of the current batch. While
// pending tasks remain the host is blocked from stopping, so it keeps
// iterating until the run is terminal.
func hookAgentStop(ctx context.Context, args []string) error {
	app, cleanup, err := newApp(args)
	if errors.Is(err, spec.ErrNoDocument) {
		return emit(hookResponse{Decision: "approve"})
	}
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := app.store.Latest(ctx)
	if errors.Is(err, state.ErrNoSnapshot) {
		return emit(hookResponse{Decision: "approve"})
	}
	if err != nil {
		return err
	}

	for _, id := range append([]string(nil), snap.Batch...) {
		if snap.Tasks[id].Status != state.StatusRunning {
			continue
		}
		snap, err = app.sched.Complete(ctx, snap, id)
		if err != nil {
			return err
		}
	}

	pending := snap.Counts()[state.StatusPending]
	if pending > 0 && !app.sched.Cancelled() {
		return emit(hookResponse{
			Decision: "block",
			Reason:   fmt.Sprintf("[strata] continue orchestration: %d tasks pending", pending),
		})
	}
	return emit(hookResponse{Decision: "approve"})
}
