package state

import (
	"reflect"
	"testing"
)

func makeSnapshot(t *testing.T, maxIterations int, taskIDs ...string) *Snapshot {
	t.Helper()
	tasks := make(map[string]TaskState, len(taskIDs))
	for _, id := range taskIDs {
		tasks[id] = TaskState{ID: id, Branch: "strata/" + id}
	}
	return NewSnapshot("run-1", "design.toml", maxIterations, tasks)
}

func mustApply(t *testing.T, s *Snapshot, tr Transition) *Snapshot {
	t.Helper()
	next, err := Apply(s, tr)
	if err != nil {
		t.Fatalf("%s failed: %v", tr.Name(), err)
	}
	return next
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s0 := makeSnapshot(t, 3, "a")
	s1 := mustApply(t, s0, BeginBatch{Tasks: []BatchTask{{ID: "a", WorkspacePath: "/wt/a"}}})

	if s0.Tasks["a"].Status != StatusPending {
		t.Error("input snapshot was mutated")
	}
	if s0.Seq != 0 || s1.Seq != 1 {
		t.Errorf("Seq: s0=%d s1=%d, want 0 and 1", s0.Seq, s1.Seq)
	}
	if s1.Tasks["a"].Status != StatusRunning {
		t.Errorf("a = %s, want running", s1.Tasks["a"].Status)
	}
	if s1.Tasks["a"].WorkspacePath != "/wt/a" {
		t.Errorf("workspace = %q", s1.Tasks["a"].WorkspacePath)
	}
}

func TestApplyDeterministicReplay(t *testing.T) {
	s := makeSnapshot(t, 3, "a", "b")
	tr := BeginBatch{Tasks: []BatchTask{{ID: "a", WorkspacePath: "/wt/a"}}}

	first := mustApply(t, s, tr)
	second := mustApply(t, s, tr)
	if !reflect.DeepEqual(first, second) {
		t.Error("replaying the same transition produced different snapshots")
	}
}

func TestPassFlow(t *testing.T) {
	s := makeSnapshot(t, 3, "a")
	s = mustApply(t, s, BeginBatch{Tasks: []BatchTask{{ID: "a", WorkspacePath: "/wt/a"}}})
	s = mustApply(t, s, MarkValidating{TaskID: "a"})

	if s.Tasks["a"].Status != StatusValidating {
		t.Fatalf("a = %s, want validating", s.Tasks["a"].Status)
	}

	s = mustApply(t, s, RecordResult{TaskID: "a", Passed: true})

	task := s.Tasks["a"]
	if task.Status != StatusPassed {
		t.Errorf("a = %s, want passed", task.Status)
	}
	if task.Errors != nil {
		t.Errorf("Errors = %v, want nil after pass", task.Errors)
	}
	if len(s.Batch) != 0 {
		t.Errorf("Batch = %v, want empty", s.Batch)
	}
	if !reflect.DeepEqual(s.Completed, []string{"strata/a"}) {
		t.Errorf("Completed = %v, want [strata/a]", s.Completed)
	}
}

func TestFailureConsumesIterationAndRequeues(t *testing.T) {
	s := makeSnapshot(t, 2, "a")
	s = mustApply(t, s, BeginBatch{Tasks: []BatchTask{{ID: "a", WorkspacePath: "/wt/a"}}})
	s = mustApply(t, s, MarkValidating{TaskID: "a"})
	s = mustApply(t, s, RecordResult{TaskID: "a", Passed: false, Errors: []string{"[unit] boom"}})

	task := s.Tasks["a"]
	if task.Status != StatusPending {
		t.Errorf("a = %s, want pending for retry", task.Status)
	}
	if task.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", task.Iteration)
	}
	if !reflect.DeepEqual(task.Errors, []string{"[unit] boom"}) {
		t.Errorf("Errors = %v", task.Errors)
	}
}

func TestFailureAtIterationCapIsTerminal(t *testing.T) {
	s := makeSnapshot(t, 2, "a")
	for i := 0; i < 2; i++ {
		s = mustApply(t, s, BeginBatch{Tasks: []BatchTask{{ID: "a", WorkspacePath: "/wt/a"}}})
		s = mustApply(t, s, MarkValidating{TaskID: "a"})
		s = mustApply(t, s, RecordResult{TaskID: "a", Passed: false, Errors: []string{"[unit] boom"}})
	}

	task := s.Tasks["a"]
	if task.Status != StatusFailed {
		t.Errorf("a = %s, want failed after hitting the cap", task.Status)
	}
	if task.Iteration != 2 {
		t.Errorf("Iteration = %d, want 2", task.Iteration)
	}
	if !s.AllTerminal() {
		t.Error("AllTerminal = false")
	}
	if s.AllPassed() {
		t.Error("AllPassed = true with a failed task")
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	s := makeSnapshot(t, 3, "a")

	if _, err := Apply(s, MarkValidating{TaskID: "a"}); err == nil {
		t.Error("MarkValidating on pending task accepted")
	}
	if _, err := Apply(s, RecordResult{TaskID: "a", Passed: true}); err == nil {
		t.Error("RecordResult on pending task accepted")
	}
	if _, err := Apply(s, BeginBatch{Tasks: []BatchTask{{ID: "ghost"}}}); err == nil {
		t.Error("BeginBatch with unknown task accepted")
	}

	running := mustApply(t, s, BeginBatch{Tasks: []BatchTask{{ID: "a"}}})
	if _, err := Apply(running, BeginBatch{Tasks: []BatchTask{{ID: "a"}}}); err == nil {
		t.Error("double dispatch accepted")
	}
}

func TestFailDoesNotConsumeIteration(t *testing.T) {
	s := makeSnapshot(t, 3, "a")
	s = mustApply(t, s, Fail{TaskID: "a", Reason: "worktree creation failed"})

	task := s.Tasks["a"]
	if task.Status != StatusFailed {
		t.Errorf("a = %s, want failed", task.Status)
	}
	if task.Iteration != 0 {
		t.Errorf("Iteration = %d, want 0", task.Iteration)
	}
	if len(task.Errors) != 1 {
		t.Errorf("Errors = %v", task.Errors)
	}
}

func TestRetryRequeuesInterruptedTask(t *testing.T) {
	s := makeSnapshot(t, 3, "a")
	s = mustApply(t, s, BeginBatch{Tasks: []BatchTask{{ID: "a", WorkspacePath: "/wt/a"}}})
	s = mustApply(t, s, Retry{TaskID: "a"})

	task := s.Tasks["a"]
	if task.Status != StatusPending {
		t.Errorf("a = %s, want pending", task.Status)
	}
	if task.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", task.Iteration)
	}
}

func TestMarkIntegratedIdempotent(t *testing.T) {
	s := makeSnapshot(t, 3, "a")
	s = mustApply(t, s, MarkIntegrated{Branch: "strata/a"})
	s = mustApply(t, s, MarkIntegrated{Branch: "strata/a"})

	if !reflect.DeepEqual(s.Integrated, []string{"strata/a"}) {
		t.Errorf("Integrated = %v, want [strata/a]", s.Integrated)
	}
	if !s.IsIntegrated("strata/a") {
		t.Error("IsIntegrated = false")
	}
}
