package render

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/joss/strata/internal/state"
)

func testSnapshot() *state.Snapshot {
	return &state.Snapshot{
		RunID:         "run-1",
		MaxIterations: 3,
		Tasks: map[string]state.TaskState{
			"api":  {ID: "api", Status: state.StatusPassed, Branch: "strata/api"},
			"core": {ID: "core", Status: state.StatusFailed, Iteration: 3, Errors: []string{"[unit] boom"}, Branch: "strata/core"},
			"web":  {ID: "web", Status: state.StatusPending, Branch: "strata/web"},
		},
		Integrated: []string{"strata/api"},
	}
}

func TestStatusPlain(t *testing.T) {
	out := New(false).Status(testSnapshot())

	for _, want := range []string{
		"run run-1",
		"api passed",
		"core failed (3/3)",
		"web pending",
		"[unit] boom",
		"passed=1 failed=1 running=0 pending=1 integrated=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusTasksInOrder(t *testing.T) {
	out := New(false).Status(testSnapshot())

	api := strings.Index(out, "api ")
	core := strings.Index(out, "core ")
	web := strings.Index(out, "web ")
	if !(api < core && core < web) {
		t.Errorf("tasks out of order:\n%s", out)
	}
}

func TestSummary(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	snap := testSnapshot()
	if got := New(true).Summary(snap); !strings.Contains(got, "1 of 3 tasks failed: core") {
		t.Errorf("Summary = %q", got)
	}

	for id, task := range snap.Tasks {
		task.Status = state.StatusPassed
		snap.Tasks[id] = task
	}
	if got := New(true).Summary(snap); got != "all 3 tasks passed" {
		t.Errorf("Summary = %q", got)
	}
}

func TestIntegrated(t *testing.T) {
	out := New(false).Integrated(testSnapshot(), "main")
	if !strings.Contains(out, "integrated into main") || !strings.Contains(out, "strata/api") {
		t.Errorf("output = %q", out)
	}
}

func TestErrorTailLimited(t *testing.T) {
	snap := testSnapshot()
	task := snap.Tasks["core"]
	task.Errors = []string{"one", "two", "three", "four", "five"}
	snap.Tasks["core"] = task

	out := New(false).Status(snap)
	if strings.Contains(out, "one") || strings.Contains(out, "two") {
		t.Errorf("old errors shown:\n%s", out)
	}
	for _, want := range []string{"three", "four", "five"} {
		if !strings.Contains(out, want) {
			t.Errorf("recent error %q missing:\n%s", want, out)
		}
	}
}
