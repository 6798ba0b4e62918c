package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/joss/strata/internal/execx"
	"github.com/joss/strata/internal/logging"
	"github.com/joss/strata/internal/spec"
	"github.com/joss/strata/internal/state"
	"github.com/joss/strata/internal/validate"
	"github.com/joss/strata/internal/workspace"
)

func TestMain(m *testing.M) {
	logging.SetBase(zap.NewNop())
	os.Exit(m.Run())
}

// testDoc builds a three-task document: a and b are independent, c needs
// both. The document file exists on disk so cancellation checks pass.
func testDoc(t *testing.T, maxParallel, maxIterations int) *spec.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.toml")
	if err := os.WriteFile(path, []byte("# test design\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tasks := map[string]spec.Task{
		"a": {ID: "a", Layer: "build", Agent: "agent a", Branch: "strata/a"},
		"b": {ID: "b", Layer: "build", Agent: "agent b", Branch: "strata/b"},
		"c": {ID: "c", Layer: "build", Agent: "agent c", Branch: "strata/c", DependsOn: []string{"a", "b"}},
	}
	return &spec.Document{
		Project: spec.Project{
			Name:          "demo",
			MaxIterations: maxIterations,
			MaxParallel:   maxParallel,
		},
		Layers:     map[string]spec.Layer{"build": {ID: "build", Validators: []string{"check"}}},
		Tasks:      tasks,
		Validators: map[string]string{"check": "run-check"},
		Worktree:   spec.Worktree{BranchPrefix: "strata"},
		Path:       path,
	}
}

// fakeWorkspaces hands out paths without touching git.
type fakeWorkspaces struct {
	mu      sync.Mutex
	created []string
	fail    map[string]error
}

func (f *fakeWorkspaces) Create(ctx context.Context, taskID, branch string) (workspace.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[taskID]; err != nil {
		return workspace.Handle{}, err
	}
	f.created = append(f.created, taskID)
	return workspace.Handle{TaskID: taskID, Branch: branch, Path: "/wt/" + taskID}, nil
}

func newTestScheduler(t *testing.T, doc *spec.Document, mock *execx.MockRunner, exec Executor) (*Scheduler, *state.MemoryStore) {
	t.Helper()
	store := state.NewMemoryStore()
	if exec == nil {
		exec = ExecutorFunc(func(context.Context, spec.Task, workspace.Handle) error { return nil })
	}
	s, err := New(doc, store, &fakeWorkspaces{}, validate.NewRunner(mock, time.Minute), exec)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, store
}

func batchIDs(batch []state.BatchTask) []string {
	ids := make([]string, 0, len(batch))
	for _, bt := range batch {
		ids = append(ids, bt.ID)
	}
	return ids
}

func TestDispatchRespectsDependenciesAndCapacity(t *testing.T) {
	doc := testDoc(t, 2, 5)
	mock := execx.NewMockRunner()
	mock.Respond("run-check", execx.MockResponse{ExitCode: 0})
	s, _ := newTestScheduler(t, doc, mock, nil)
	ctx := context.Background()

	snap, err := s.Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	snap, batch, err := s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	got := batchIDs(batch)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("first batch = %v, want [a b]", got)
	}
	if snap.Tasks["c"].Status != state.StatusPending {
		t.Errorf("c = %s, want pending while deps run", snap.Tasks["c"].Status)
	}

	// Nothing more fits: capacity is exhausted and c's deps have not passed.
	snap, batch, err = s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("second batch = %v, want empty", batchIDs(batch))
	}

	for _, id := range []string{"a", "b"} {
		snap, err = s.Complete(ctx, snap, id)
		if err != nil {
			t.Fatalf("Complete(%s) failed: %v", id, err)
		}
		if snap.Tasks[id].Status != state.StatusPassed {
			t.Fatalf("%s = %s, want passed", id, snap.Tasks[id].Status)
		}
	}

	// Both dependencies passed, so c becomes ready.
	_, batch, err = s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := batchIDs(batch); len(got) != 1 || got[0] != "c" {
		t.Fatalf("third batch = %v, want [c]", got)
	}
}

func TestValidationFailureRetriesThenFailsPermanently(t *testing.T) {
	doc := testDoc(t, 4, 2)
	mock := execx.NewMockRunner()
	mock.Respond("run-check", execx.MockResponse{Output: []byte("boom\n"), ExitCode: 1})
	s, _ := newTestScheduler(t, doc, mock, nil)
	ctx := context.Background()

	snap, err := s.Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	snap, _, err = s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	snap, err = s.Complete(ctx, snap, "a")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	task := snap.Tasks["a"]
	if task.Status != state.StatusPending || task.Iteration != 1 {
		t.Fatalf("after first failure: status=%s iteration=%d, want pending/1", task.Status, task.Iteration)
	}
	if len(task.Errors) != 1 || task.Errors[0] != "[check] boom" {
		t.Errorf("Errors = %v", task.Errors)
	}

	// Second attempt hits the cap.
	snap, _, err = s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	snap, err = s.Complete(ctx, snap, "a")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	task = snap.Tasks["a"]
	if task.Status != state.StatusFailed || task.Iteration != 2 {
		t.Fatalf("after second failure: status=%s iteration=%d, want failed/2", task.Status, task.Iteration)
	}

	// c can never run: its dependency failed.
	_, batch, err := s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	for _, id := range batchIDs(batch) {
		if id == "c" {
			t.Error("c dispatched despite failed dependency")
		}
	}
}

func TestWorkspaceFailureDoesNotConsumeIteration(t *testing.T) {
	doc := testDoc(t, 4, 5)
	mock := execx.NewMockRunner()
	store := state.NewMemoryStore()
	ws := &fakeWorkspaces{fail: map[string]error{"a": errors.New("disk full")}}
	s, err := New(doc, store, ws, validate.NewRunner(mock, time.Minute),
		ExecutorFunc(func(context.Context, spec.Task, workspace.Handle) error { return nil }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	snap, err := s.Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	snap, batch, err := s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	task := snap.Tasks["a"]
	if task.Status != state.StatusFailed || task.Iteration != 0 {
		t.Errorf("a: status=%s iteration=%d, want failed/0", task.Status, task.Iteration)
	}
	// b still went out.
	if got := batchIDs(batch); len(got) != 1 || got[0] != "b" {
		t.Errorf("batch = %v, want [b]", got)
	}
}

func TestCancellationSuppressesDispatch(t *testing.T) {
	doc := testDoc(t, 4, 5)
	mock := execx.NewMockRunner()
	s, _ := newTestScheduler(t, doc, mock, nil)
	ctx := context.Background()

	snap, err := s.Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := os.Remove(doc.Path); err != nil {
		t.Fatal(err)
	}
	if !s.Cancelled() {
		t.Fatal("Cancelled = false after document removal")
	}

	next, batch, err := s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("batch = %v, want empty after cancellation", batchIDs(batch))
	}
	// State is left intact for a later resume.
	if next.Tasks["a"].Status != state.StatusPending {
		t.Errorf("a = %s, want pending", next.Tasks["a"].Status)
	}
}

func TestRunDrivesEverythingToPassed(t *testing.T) {
	doc := testDoc(t, 2, 5)
	mock := execx.NewMockRunner()
	mock.Respond("run-check", execx.MockResponse{ExitCode: 0})

	var mu sync.Mutex
	executed := map[string]int{}
	exec := ExecutorFunc(func(_ context.Context, task spec.Task, ws workspace.Handle) error {
		mu.Lock()
		defer mu.Unlock()
		executed[task.ID]++
		if ws.Path == "" {
			return fmt.Errorf("no workspace for %s", task.ID)
		}
		return nil
	})
	s, store := newTestScheduler(t, doc, mock, exec)

	var dispatched, validated int
	s.Hooks.OnTaskDispatched = func(string, string, string) { dispatched++ }
	s.Hooks.OnTaskValidated = func(_ string, passed bool, _ []string) {
		if !passed {
			t.Error("unexpected validation failure")
		}
		validated++
	}

	snap, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !snap.AllPassed() {
		t.Fatalf("AllPassed = false: %v", snap.Counts())
	}
	for id, n := range executed {
		if n != 1 {
			t.Errorf("%s executed %d times, want 1", id, n)
		}
	}
	if len(executed) != 3 {
		t.Errorf("executed %d tasks, want 3", len(executed))
	}
	if dispatched != 3 || validated != 3 {
		t.Errorf("hooks: dispatched=%d validated=%d, want 3/3", dispatched, validated)
	}

	// Every state change was committed.
	if _, err := store.Latest(context.Background()); err != nil {
		t.Errorf("Latest failed: %v", err)
	}
}

func TestRunAgentFailureHitsIterationCap(t *testing.T) {
	doc := testDoc(t, 4, 2)
	mock := execx.NewMockRunner()
	mock.Respond("run-check", execx.MockResponse{ExitCode: 0})
	exec := ExecutorFunc(func(_ context.Context, task spec.Task, _ workspace.Handle) error {
		if task.ID == "a" {
			return errors.New("agent crashed")
		}
		return nil
	})
	s, _ := newTestScheduler(t, doc, mock, exec)

	snap, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if snap.Tasks["a"].Status != state.StatusFailed {
		t.Errorf("a = %s, want failed", snap.Tasks["a"].Status)
	}
	if snap.Tasks["b"].Status != state.StatusPassed {
		t.Errorf("b = %s, want passed", snap.Tasks["b"].Status)
	}
	// c is blocked forever behind a.
	if snap.Tasks["c"].Status != state.StatusPending {
		t.Errorf("c = %s, want pending", snap.Tasks["c"].Status)
	}
}

func TestResumeRequeuesInterruptedTasks(t *testing.T) {
	doc := testDoc(t, 4, 5)
	mock := execx.NewMockRunner()
	s, store := newTestScheduler(t, doc, mock, nil)
	ctx := context.Background()

	snap, err := s.Init(ctx)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	snap, _, err = s.Dispatch(ctx, snap)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if snap.Tasks["a"].Status != state.StatusRunning {
		t.Fatalf("a = %s, want running", snap.Tasks["a"].Status)
	}

	// A new scheduler against the same store stands in for a new process.
	s2, err := New(doc, store, &fakeWorkspaces{}, validate.NewRunner(mock, time.Minute),
		ExecutorFunc(func(context.Context, spec.Task, workspace.Handle) error { return nil }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resumed, err := s2.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	task := resumed.Tasks["a"]
	if task.Status != state.StatusPending {
		t.Errorf("a = %s, want pending after resume", task.Status)
	}
	if task.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1 (interrupted attempt consumed)", task.Iteration)
	}
}

func TestInitRefusesSecondRun(t *testing.T) {
	doc := testDoc(t, 4, 5)
	s, _ := newTestScheduler(t, doc, execx.NewMockRunner(), nil)
	ctx := context.Background()

	if _, err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := s.Init(ctx); err == nil {
		t.Fatal("second Init accepted")
	}
}
