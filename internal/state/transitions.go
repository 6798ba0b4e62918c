package state

import (
	"fmt"
	"sort"
)

// Transition is a total, deterministic state change. Applying the same
// transition to the same snapshot always yields the same new snapshot, so a
// transition can be replayed safely after a crash between write and
// acknowledge.
type Transition interface {
	apply(*Snapshot) error
	// Name identifies the transition kind for logging.
	Name() string
}

// Apply produces the successor snapshot. The input snapshot is not
// modified.
func Apply(s *Snapshot, t Transition) (*Snapshot, error) {
	next := s.clone()
	next.Seq = s.Seq + 1
	if err := t.apply(next); err != nil {
		return nil, err
	}
	return next, nil
}

// BeginBatch marks a set of ready tasks as running and records their
// workspace paths. The new tasks join whatever is still in flight.
type BeginBatch struct {
	Tasks []BatchTask
}

// BatchTask pairs a dispatched task with its workspace.
type BatchTask struct {
	ID            string
	WorkspacePath string
}

func (t BeginBatch) Name() string { return "begin_batch" }

func (t BeginBatch) apply(s *Snapshot) error {
	batch := append([]string(nil), s.Batch...)
	for _, bt := range t.Tasks {
		task, ok := s.Tasks[bt.ID]
		if !ok {
			return fmt.Errorf("begin_batch: unknown task %q", bt.ID)
		}
		if task.Status != StatusPending {
			return fmt.Errorf("begin_batch: task %q is %s, not pending", bt.ID, task.Status)
		}
		task.Status = StatusRunning
		task.WorkspacePath = bt.WorkspacePath
		s.Tasks[bt.ID] = task
		batch = append(batch, bt.ID)
	}
	sort.Strings(batch)
	s.Batch = batch
	return nil
}

// MarkValidating records that a completion signal arrived for a running
// task and its validators are about to run.
type MarkValidating struct {
	TaskID string
}

func (t MarkValidating) Name() string { return "mark_validating" }

func (t MarkValidating) apply(s *Snapshot) error {
	task, ok := s.Tasks[t.TaskID]
	if !ok {
		return fmt.Errorf("mark_validating: unknown task %q", t.TaskID)
	}
	if task.Status != StatusRunning {
		return fmt.Errorf("mark_validating: task %q is %s, not running", t.TaskID, task.Status)
	}
	task.Status = StatusValidating
	s.Tasks[t.TaskID] = task
	return nil
}

// RecordResult applies a validation outcome to a validating task. A pass is
// terminal; a failure consumes one iteration and either re-queues the task
// or fails it once the iteration count reaches the configured cap.
type RecordResult struct {
	TaskID string
	Passed bool
	Errors []string
}

func (t RecordResult) Name() string { return "record_result" }

func (t RecordResult) apply(s *Snapshot) error {
	task, ok := s.Tasks[t.TaskID]
	if !ok {
		return fmt.Errorf("record_result: unknown task %q", t.TaskID)
	}
	if task.Status != StatusValidating {
		return fmt.Errorf("record_result: task %q is %s, not validating", t.TaskID, task.Status)
	}

	if t.Passed {
		task.Status = StatusPassed
		task.Errors = nil
		s.Tasks[t.TaskID] = task
		s.Batch = remove(s.Batch, t.TaskID)
		s.Completed = append(s.Completed, task.Branch)
		return nil
	}

	task.Iteration++
	task.Errors = append([]string(nil), t.Errors...)
	if task.Iteration >= s.MaxIterations {
		task.Status = StatusFailed
	} else {
		task.Status = StatusPending
	}
	s.Tasks[t.TaskID] = task
	s.Batch = remove(s.Batch, t.TaskID)
	return nil
}

// Fail marks a task failed without consuming an iteration. Used for
// infrastructure failures such as workspace creation errors, which are not
// recoverable by retrying the agent.
type Fail struct {
	TaskID string
	Reason string
}

func (t Fail) Name() string { return "fail" }

func (t Fail) apply(s *Snapshot) error {
	task, ok := s.Tasks[t.TaskID]
	if !ok {
		return fmt.Errorf("fail: unknown task %q", t.TaskID)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("fail: task %q already %s", t.TaskID, task.Status)
	}
	task.Status = StatusFailed
	if t.Reason != "" {
		task.Errors = append(task.Errors, t.Reason)
	}
	s.Tasks[t.TaskID] = task
	s.Batch = remove(s.Batch, t.TaskID)
	return nil
}

// Retry re-queues a non-terminal task, consuming one iteration. RecordResult
// subsumes this for the normal validation path; Retry exists for host-driven
// re-dispatch of a task whose agent died without a completion signal.
type Retry struct {
	TaskID string
}

func (t Retry) Name() string { return "retry" }

func (t Retry) apply(s *Snapshot) error {
	task, ok := s.Tasks[t.TaskID]
	if !ok {
		return fmt.Errorf("retry: unknown task %q", t.TaskID)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("retry: task %q already %s", t.TaskID, task.Status)
	}
	task.Iteration++
	if task.Iteration >= s.MaxIterations {
		task.Status = StatusFailed
	} else {
		task.Status = StatusPending
	}
	s.Tasks[t.TaskID] = task
	s.Batch = remove(s.Batch, t.TaskID)
	return nil
}

// MarkIntegrated appends a branch to the integrated list.
type MarkIntegrated struct {
	Branch string
}

func (t MarkIntegrated) Name() string { return "mark_integrated" }

func (t MarkIntegrated) apply(s *Snapshot) error {
	for _, b := range s.Integrated {
		if b == t.Branch {
			// Idempotent re-run.
			return nil
		}
	}
	s.Integrated = append(s.Integrated, t.Branch)
	return nil
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
