package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joss/strata/internal/state"
	"github.com/joss/strata/internal/workspace"
)

type completion struct {
	taskID string
	err    error
}

// Init creates and commits the initial snapshot for the document: a fresh
// run id, every task pending. It refuses to overwrite an existing run;
// call Reset on the store first to start over.
func (s *Scheduler) Init(ctx context.Context) (*state.Snapshot, error) {
	if _, err := s.store.Latest(ctx); err == nil {
		return nil, errors.New("run already initialized, reset first")
	} else if !errors.Is(err, state.ErrNoSnapshot) {
		return nil, err
	}

	tasks := make(map[string]state.TaskState, len(s.doc.Tasks))
	for id, t := range s.doc.Tasks {
		tasks[id] = state.TaskState{ID: id, Branch: t.Branch}
	}
	snap := state.NewSnapshot(uuid.NewString(), s.doc.Path, s.doc.Project.MaxIterations, tasks)
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("commit initial snapshot: %w", err)
	}
	s.log.Info("run initialized",
		zap.String("run", snap.RunID),
		zap.Int("tasks", len(tasks)))
	return snap, nil
}

// Resume returns the latest committed snapshot, re-queueing tasks that a
// previous process left in-flight. A task stuck in running or validating
// has no live agent behind it anymore; re-queueing consumes one iteration,
// the same as a validation failure, so a crash-looping agent still hits
// the iteration cap.
func (s *Scheduler) Resume(ctx context.Context) (*state.Snapshot, error) {
	snap, err := s.store.Latest(ctx)
	if err != nil {
		return nil, err
	}

	requeued := false
	for _, id := range snap.TaskIDs() {
		status := snap.Tasks[id].Status
		if status != state.StatusRunning && status != state.StatusValidating {
			continue
		}
		s.log.Warn("re-queueing interrupted task",
			zap.String("task", id), zap.String("was", string(status)))
		next, err := state.Apply(snap, state.Retry{TaskID: id})
		if err != nil {
			return nil, err
		}
		snap = next
		requeued = true
	}
	if requeued {
		if err := s.store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("commit resume: %w", err)
		}
	}
	return snap, nil
}

// Run drives the document to quiescence: dispatch ready tasks, execute
// their agents concurrently, validate completions, repeat. It returns the
// final snapshot once every task is terminal, nothing more can be
// dispatched (failed dependencies block the rest), or the run is
// cancelled and the in-flight tasks have drained.
func (s *Scheduler) Run(ctx context.Context) (*state.Snapshot, error) {
	snap, err := s.Resume(ctx)
	if errors.Is(err, state.ErrNoSnapshot) {
		snap, err = s.Init(ctx)
	}
	if err != nil {
		return nil, err
	}

	if s.Hooks.OnStart != nil {
		s.Hooks.OnStart(snap)
	}

	completions := make(chan completion, len(snap.Tasks))
	inflight := 0

	for {
		next, batch, err := s.Dispatch(ctx, snap)
		if err != nil {
			return snap, err
		}
		snap = next

		for _, bt := range batch {
			inflight++
			go s.execute(ctx, bt, completions)
		}

		if inflight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case c := <-completions:
			inflight--
			snap, err = s.settle(ctx, snap, c)
			if err != nil {
				return snap, err
			}
		}
	}

	if s.Hooks.OnShutdown != nil {
		s.Hooks.OnShutdown(snap)
	}
	return snap, nil
}

func (s *Scheduler) execute(ctx context.Context, bt state.BatchTask, completions chan<- completion) {
	task := s.doc.Tasks[bt.ID]
	handle := workspace.Handle{TaskID: task.ID, Branch: task.Branch, Path: bt.WorkspacePath}
	err := s.exec.Execute(ctx, task, handle)
	completions <- completion{taskID: bt.ID, err: err}
}

// settle folds one completion back into the snapshot. An agent error is
// an execution failure, not a validation verdict: the task is re-queued
// with one iteration consumed and the validators never run.
func (s *Scheduler) settle(ctx context.Context, snap *state.Snapshot, c completion) (*state.Snapshot, error) {
	if c.err != nil {
		s.log.Warn("agent failed",
			zap.String("task", c.taskID), zap.Error(c.err))
		next, err := state.Apply(snap, state.Retry{TaskID: c.taskID})
		if err != nil {
			return snap, err
		}
		if err := s.store.Save(ctx, next); err != nil {
			return snap, fmt.Errorf("commit retry: %w", err)
		}
		return next, nil
	}
	return s.Complete(ctx, snap, c.taskID)
}
