package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/joss/strata/internal/execx"
	"github.com/joss/strata/internal/spec"
	"github.com/joss/strata/internal/workspace"
)

// Executor runs one task's agent inside its workspace. The executor only
// does the work; validation of the result is the scheduler's job.
type Executor interface {
	Execute(ctx context.Context, task spec.Task, ws workspace.Handle) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task spec.Task, ws workspace.Handle) error

func (f ExecutorFunc) Execute(ctx context.Context, task spec.Task, ws workspace.Handle) error {
	return f(ctx, task, ws)
}

// ShellExecutor runs the task's agent command through the shell, in the
// task's worktree, with task metadata exported in the environment.
type ShellExecutor struct {
	runner execx.Runner
}

func NewShellExecutor(runner execx.Runner) *ShellExecutor {
	return &ShellExecutor{runner: runner}
}

func (e *ShellExecutor) Execute(ctx context.Context, task spec.Task, ws workspace.Handle) error {
	if task.Agent == "" {
		return fmt.Errorf("task %q has no agent command", task.ID)
	}

	command := fmt.Sprintf("STRATA_TASK_ID=%q STRATA_TASK_BRANCH=%q %s",
		task.ID, ws.Branch, task.Agent)
	res, err := e.runner.Shell(ctx, ws.Path, command)
	if err != nil {
		return fmt.Errorf("agent for %s: %w", task.ID, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("agent for %s exited %d: %s",
			task.ID, res.ExitCode, strings.TrimSpace(string(res.Output)))
	}
	return nil
}
