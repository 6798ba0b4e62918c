// Package main orchestration commands: init, dispatch, complete, run,
// integrate, reset.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joss/strata/internal/render"
	"github.com/joss/strata/internal/runtime"
	"github.com/joss/strata/internal/state"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Validate the design document and start a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(args)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := app.sched.Init(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d tasks pending\n", snap.RunID, len(snap.Tasks))
			return nil
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch [path]",
		Short: "Move ready tasks into execution workspaces",
		Long: `One scheduling step: every task whose dependencies passed gets a
branch and a worktree, up to the parallelism limit. The agents are not
run; the host drives them and reports back with 'strata complete'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(args)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := app.latest(cmd.Context())
			if err != nil {
				return err
			}
			next, batch, err := app.sched.Dispatch(cmd.Context(), snap)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				fmt.Println(dispatchIdleMessage(next, app.sched.Cancelled()))
				return nil
			}
			for _, bt := range batch {
				fmt.Printf("dispatched %s -> %s (%s)\n",
					bt.ID, next.Tasks[bt.ID].Branch, bt.WorkspacePath)
			}
			return nil
		},
	}
}

func dispatchIdleMessage(snap *state.Snapshot, cancelled bool) string {
	switch {
	case cancelled:
		return "design document removed, run cancelled"
	case snap.AllPassed():
		return "all tasks passed, ready to integrate"
	case snap.AllTerminal():
		return "nothing to dispatch, failed: " + strings.Join(snap.FailedTasks(), ", ")
	case snap.Running() > 0:
		return "tasks still running, nothing new ready"
	default:
		return "waiting for dependencies"
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task> [path]",
		Short: "Signal task completion and run its validators",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(args[1:])
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := app.latest(cmd.Context())
			if err != nil {
				return err
			}
			next, err := app.sched.Complete(cmd.Context(), snap, args[0])
			if err != nil {
				return err
			}

			task := next.Tasks[args[0]]
			switch task.Status {
			case state.StatusPassed:
				fmt.Printf("%s passed all validators\n", args[0])
			case state.StatusFailed:
				fmt.Printf("%s failed permanently after %d iterations\n",
					args[0], task.Iteration)
				printErrors(task.Errors)
			default:
				fmt.Printf("%s failed validation, retrying (%d/%d)\n",
					args[0], task.Iteration, next.MaxIterations)
				printErrors(task.Errors)
			}
			return nil
		},
	}
}

func printErrors(errs []string) {
	for _, e := range errs {
		fmt.Printf("  %s\n", e)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [path]",
		Short: "Drive the whole run in-process with the shell executor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(args)
			if err != nil {
				return err
			}
			defer cleanup()

			shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
			shutdown.Register("store", func(context.Context) error {
				cleanup()
				return nil
			})
			shutdown.ListenForSignals()

			r := render.New(pretty)
			app.sched.Hooks.OnTaskDispatched = func(taskID, branch, path string) {
				fmt.Printf("dispatched %s -> %s\n", taskID, branch)
			}
			app.sched.Hooks.OnTaskValidated = func(taskID string, passed bool, messages []string) {
				if passed {
					fmt.Printf("passed %s\n", taskID)
					return
				}
				fmt.Printf("failed %s\n", taskID)
				printErrors(messages)
			}

			snap, err := app.sched.Run(shutdown.Context())
			if err != nil {
				return err
			}
			fmt.Println(r.Summary(snap))
			if !snap.AllPassed() {
				return fmt.Errorf("run finished with unfinished or failed tasks")
			}
			return nil
		},
	}
}

func integrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrate [path]",
		Short: "Fast-forward passed branches into the integration target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(args)
			if err != nil {
				return err
			}
			defer cleanup()

			snap, err := app.latest(cmd.Context())
			if err != nil {
				return err
			}
			next, err := app.coord.Integrate(cmd.Context(), snap)
			if err != nil {
				return err
			}
			target, err := app.ws.IntegrationTarget()
			if err != nil {
				return err
			}
			fmt.Print(render.New(pretty).Integrated(next, target))
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [path]",
		Short: "Discard persisted run state",
		Long: `Delete all snapshots for the project. Branches and worktrees are
left alone; remove them with git if they are no longer wanted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(args)
			if err != nil {
				return err
			}
			store, err := openStore(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Reset(context.Background()); err != nil {
				return err
			}
			fmt.Println("run state cleared")
			return nil
		},
	}
}
