// Package integrate folds passed task branches back into the integration
// target, in topological order, by fast-forward only. A branch that has
// diverged from the target aborts integration with the offending task
// named; nothing is ever merged with a merge commit.
package integrate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joss/strata/internal/dag"
	"github.com/joss/strata/internal/logging"
	"github.com/joss/strata/internal/spec"
	"github.com/joss/strata/internal/state"
	"github.com/joss/strata/internal/workspace"
)

// NotReadyError means integration was requested before every task passed.
type NotReadyError struct {
	Unfinished []string
	Failed     []string
}

func (e *NotReadyError) Error() string {
	if len(e.Failed) > 0 {
		return fmt.Sprintf("cannot integrate: failed tasks: %s", strings.Join(e.Failed, ", "))
	}
	return fmt.Sprintf("cannot integrate: unfinished tasks: %s", strings.Join(e.Unfinished, ", "))
}

// DivergedError means a task branch is not a fast-forward of the target.
type DivergedError struct {
	TaskID string
	Branch string
	Target string
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("branch %q for task %q has diverged from %q, rebase required",
		e.Branch, e.TaskID, e.Target)
}

// Workspaces is the slice of workspace management integration needs.
// *workspace.Manager is the real implementation.
type Workspaces interface {
	IntegrationTarget() (string, error)
	IsAncestor(branch, target string) (bool, error)
	FastForward(ctx context.Context, target, branch string) error
	Destroy(ctx context.Context, h workspace.Handle) error
}

// Coordinator integrates a completed run.
type Coordinator struct {
	doc   *spec.Document
	graph *dag.Graph
	store state.Store
	ws    Workspaces
	log   *zap.Logger
}

func New(doc *spec.Document, store state.Store, ws Workspaces) (*Coordinator, error) {
	graph, err := dag.New(doc.EffectiveDependencies())
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		doc:   doc,
		graph: graph,
		store: store,
		ws:    ws,
		log:   logging.New("integrate"),
	}, nil
}

// Integrate fast-forwards the target through every passed branch in
// topological order. Each integrated branch is committed to the snapshot
// before the next one is attempted, so a partial integration resumes
// where it stopped instead of re-merging. Branches already reachable from
// the target are recorded and skipped.
func (c *Coordinator) Integrate(ctx context.Context, snap *state.Snapshot) (*state.Snapshot, error) {
	if !snap.AllPassed() {
		var unfinished []string
		for _, id := range snap.TaskIDs() {
			if snap.Tasks[id].Status != state.StatusPassed {
				unfinished = append(unfinished, id)
			}
		}
		return snap, &NotReadyError{Unfinished: unfinished, Failed: snap.FailedTasks()}
	}

	target, err := c.ws.IntegrationTarget()
	if err != nil {
		return snap, err
	}

	for _, id := range c.graph.TopologicalOrder() {
		task := snap.Tasks[id]
		if snap.IsIntegrated(task.Branch) {
			continue
		}

		reachable, err := c.ws.IsAncestor(task.Branch, target)
		if err != nil {
			return snap, err
		}
		if !reachable {
			linear, err := c.ws.IsAncestor(target, task.Branch)
			if err != nil {
				return snap, err
			}
			if !linear {
				return snap, &DivergedError{TaskID: id, Branch: task.Branch, Target: target}
			}
			if err := c.ws.FastForward(ctx, target, task.Branch); err != nil {
				return snap, err
			}
		}

		next, err := state.Apply(snap, state.MarkIntegrated{Branch: task.Branch})
		if err != nil {
			return snap, err
		}
		if err := c.store.Save(ctx, next); err != nil {
			return snap, fmt.Errorf("commit integration: %w", err)
		}
		snap = next
		c.log.Info("branch integrated",
			zap.String("task", id),
			zap.String("branch", task.Branch),
			zap.String("target", target))

		if c.doc.Worktree.CleanupOnSuccess && task.WorkspacePath != "" {
			handle := workspace.Handle{TaskID: id, Branch: task.Branch, Path: task.WorkspacePath}
			if err := c.ws.Destroy(ctx, handle); err != nil {
				c.log.Warn("workspace cleanup failed",
					zap.String("task", id), zap.Error(err))
			}
		}
	}
	return snap, nil
}
