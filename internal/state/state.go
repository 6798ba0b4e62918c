// Package state holds per-task status and run metadata as immutable
// snapshots. Every transition constructs a new snapshot; a prior snapshot
// is never edited, which makes commits crash-safe and transitions safely
// replayable.
package state

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusValidating Status = "validating"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a task in this status can never be dispatched
// again.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// TaskState is the per-task record inside a snapshot.
type TaskState struct {
	ID            string   `json:"id"`
	Status        Status   `json:"status"`
	Iteration     int      `json:"iteration"`
	Errors        []string `json:"errors,omitempty"`
	Branch        string   `json:"branch"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
}

// Snapshot is one immutable point-in-time record of the whole run.
type Snapshot struct {
	Seq           uint64               `json:"seq"`
	RunID         string               `json:"run_id"`
	DocPath       string               `json:"doc_path"`
	MaxIterations int                  `json:"max_iterations"`
	Tasks         map[string]TaskState `json:"tasks"`
	Batch         []string             `json:"batch,omitempty"`
	Completed     []string             `json:"completed_branches,omitempty"`
	Integrated    []string             `json:"integrated_branches,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// NewSnapshot builds the initial snapshot: every task pending, iteration
// zero, sequence zero.
func NewSnapshot(runID, docPath string, maxIterations int, tasks map[string]TaskState) *Snapshot {
	cloned := make(map[string]TaskState, len(tasks))
	for id, t := range tasks {
		t.Status = StatusPending
		t.Iteration = 0
		cloned[id] = t
	}
	return &Snapshot{
		RunID:         runID,
		DocPath:       docPath,
		MaxIterations: maxIterations,
		Tasks:         cloned,
		CreatedAt:     time.Now().UTC(),
	}
}

// clone copies the snapshot so a transition can mutate the copy freely.
func (s *Snapshot) clone() *Snapshot {
	next := *s
	next.Tasks = make(map[string]TaskState, len(s.Tasks))
	for id, t := range s.Tasks {
		t.Errors = append([]string(nil), t.Errors...)
		next.Tasks[id] = t
	}
	next.Batch = append([]string(nil), s.Batch...)
	next.Completed = append([]string(nil), s.Completed...)
	next.Integrated = append([]string(nil), s.Integrated...)
	return &next
}

// TaskIDs returns all task ids in lexicographic order.
func (s *Snapshot) TaskIDs() []string {
	ids := make([]string, 0, len(s.Tasks))
	for id := range s.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of tasks in each status.
func (s *Snapshot) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, t := range s.Tasks {
		counts[t.Status]++
	}
	return counts
}

// Running returns how many tasks are currently running.
func (s *Snapshot) Running() int {
	return s.Counts()[StatusRunning]
}

// AllTerminal reports whether every task is passed or failed.
func (s *Snapshot) AllTerminal() bool {
	for _, t := range s.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// AllPassed reports whether every task passed, the precondition for
// integration.
func (s *Snapshot) AllPassed() bool {
	for _, t := range s.Tasks {
		if t.Status != StatusPassed {
			return false
		}
	}
	return true
}

// FailedTasks returns the ids of failed tasks, sorted.
func (s *Snapshot) FailedTasks() []string {
	var ids []string
	for id, t := range s.Tasks {
		if t.Status == StatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsIntegrated reports whether a branch has already been integrated.
func (s *Snapshot) IsIntegrated(branch string) bool {
	for _, b := range s.Integrated {
		if b == branch {
			return true
		}
	}
	return false
}
