// Package scheduler coordinates dependency-ordered task execution. It
// pulls ready tasks from the graph, runs their agents concurrently up to
// the configured parallelism, and gates each completion through the
// layer's validators before marking the task passed.
package scheduler

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/joss/strata/internal/dag"
	"github.com/joss/strata/internal/logging"
	"github.com/joss/strata/internal/spec"
	"github.com/joss/strata/internal/state"
	"github.com/joss/strata/internal/validate"
	"github.com/joss/strata/internal/workspace"
)

// Workspaces provisions task isolation. *workspace.Manager is the real
// implementation.
type Workspaces interface {
	Create(ctx context.Context, taskID, branch string) (workspace.Handle, error)
}

// Hooks are host callbacks fired at scheduling milestones. Nil callbacks
// are skipped.
type Hooks struct {
	OnStart          func(snap *state.Snapshot)
	OnTaskDispatched func(taskID, branch, path string)
	OnTaskValidated  func(taskID string, passed bool, messages []string)
	OnShutdown       func(snap *state.Snapshot)
}

// Scheduler drives one run of a design document.
type Scheduler struct {
	doc       *spec.Document
	graph     *dag.Graph
	store     state.Store
	ws        Workspaces
	validator *validate.Runner
	exec      Executor
	log       *zap.Logger

	// Hooks may be set before Run or any Dispatch/Complete call.
	Hooks Hooks
}

// New builds a scheduler for the document. The dependency graph, with
// implicit layer edges expanded, is constructed up front so a cyclic
// document is rejected before any work starts.
func New(doc *spec.Document, store state.Store, ws Workspaces, validator *validate.Runner, exec Executor) (*Scheduler, error) {
	graph, err := dag.New(doc.EffectiveDependencies())
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		doc:       doc,
		graph:     graph,
		store:     store,
		ws:        ws,
		validator: validator,
		exec:      exec,
		log:       logging.New("scheduler"),
	}, nil
}

// Cancelled reports whether the run has been cancelled by removing the
// design document. Running tasks are allowed to finish; no new work is
// dispatched.
func (s *Scheduler) Cancelled() bool {
	_, err := os.Stat(s.doc.Path)
	return os.IsNotExist(err)
}

// Dispatch moves ready tasks into the running set, up to the remaining
// parallelism capacity. Ready tasks are taken in id order. A workspace
// failure marks the task failed without consuming an iteration; it never
// blocks the rest of the batch. The committed successor snapshot and the
// dispatched batch are returned.
func (s *Scheduler) Dispatch(ctx context.Context, snap *state.Snapshot) (*state.Snapshot, []state.BatchTask, error) {
	if s.Cancelled() {
		s.log.Info("design document removed, dispatch suppressed", zap.String("doc", s.doc.Path))
		return snap, nil, nil
	}

	capacity := s.doc.Project.MaxParallel - snap.Running()
	if capacity <= 0 {
		return snap, nil, nil
	}

	ready := s.graph.Ready(
		func(id string) bool { return snap.Tasks[id].Status == state.StatusPending },
		func(id string) bool { return snap.Tasks[id].Status == state.StatusPassed },
	)
	if len(ready) > capacity {
		ready = ready[:capacity]
	}
	if len(ready) == 0 {
		return snap, nil, nil
	}

	next := snap
	var batch []state.BatchTask
	for _, id := range ready {
		task := s.doc.Tasks[id]
		handle, err := s.ws.Create(ctx, id, task.Branch)
		if err != nil {
			s.log.Error("workspace creation failed",
				zap.String("task", id), zap.Error(err))
			failed, applyErr := state.Apply(next, state.Fail{TaskID: id, Reason: err.Error()})
			if applyErr != nil {
				return snap, nil, applyErr
			}
			next = failed
			continue
		}
		batch = append(batch, state.BatchTask{ID: id, WorkspacePath: handle.Path})
	}

	if len(batch) > 0 {
		begun, err := state.Apply(next, state.BeginBatch{Tasks: batch})
		if err != nil {
			return snap, nil, err
		}
		next = begun
	}
	if next == snap {
		return snap, nil, nil
	}
	if err := s.store.Save(ctx, next); err != nil {
		return snap, nil, fmt.Errorf("commit dispatch: %w", err)
	}

	for _, bt := range batch {
		s.log.Info("task dispatched",
			zap.String("task", bt.ID),
			zap.String("branch", next.Tasks[bt.ID].Branch),
			zap.String("workspace", bt.WorkspacePath))
		if s.Hooks.OnTaskDispatched != nil {
			s.Hooks.OnTaskDispatched(bt.ID, next.Tasks[bt.ID].Branch, bt.WorkspacePath)
		}
	}
	return next, batch, nil
}

// Complete handles a task's completion signal: the task moves to
// validating, its layer's validators run in the worktree, and the outcome
// is recorded. A failed validation consumes one iteration and re-queues
// the task until the iteration cap fails it permanently. Both the
// validating and the resulting snapshot are committed, so a crash during
// validation resumes cleanly.
func (s *Scheduler) Complete(ctx context.Context, snap *state.Snapshot, taskID string) (*state.Snapshot, error) {
	validating, err := state.Apply(snap, state.MarkValidating{TaskID: taskID})
	if err != nil {
		return snap, err
	}
	if err := s.store.Save(ctx, validating); err != nil {
		return snap, fmt.Errorf("commit validating: %w", err)
	}

	dir := validating.Tasks[taskID].WorkspacePath
	res := s.validator.Run(ctx, s.doc.ValidatorNamesFor(taskID), s.doc.ValidatorsFor(taskID), dir)
	messages := res.Messages()

	next, err := state.Apply(validating, state.RecordResult{
		TaskID: taskID,
		Passed: res.Passed,
		Errors: messages,
	})
	if err != nil {
		return validating, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return validating, fmt.Errorf("commit result: %w", err)
	}

	task := next.Tasks[taskID]
	if res.Passed {
		s.log.Info("task passed", zap.String("task", taskID))
	} else {
		s.log.Warn("task validation failed",
			zap.String("task", taskID),
			zap.Int("iteration", task.Iteration),
			zap.Bool("permanent", task.Status == state.StatusFailed),
			zap.Strings("errors", messages))
	}
	if s.Hooks.OnTaskValidated != nil {
		s.Hooks.OnTaskValidated(taskID, res.Passed, messages)
	}
	return next, nil
}
