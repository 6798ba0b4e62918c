// Package spec loads and validates the declarative design document that
// drives an orchestration run. The document is TOML: a project table,
// verification layers, tasks owned by layers, and named validator commands.
package spec

import (
	"fmt"
	"sort"
)

// Default limits applied when the project table omits them.
const (
	DefaultMaxIterations = 5
	DefaultMaxParallel   = 4
	DefaultBranchPrefix  = "strata"
)

// Project holds run-wide settings. Immutable once loaded.
type Project struct {
	Name          string `toml:"name"`
	Version       string `toml:"version"`
	MaxIterations int    `toml:"max_iterations"`
	MaxParallel   int    `toml:"max_parallel"`
}

// Layer is a named verification phase. Tasks belong to exactly one layer;
// a task passes only when every validator of its layer passes.
type Layer struct {
	ID          string
	Description string
	DependsOn   []string
	Validators  []string
}

// Task is the smallest unit of dependency-tracked work.
type Task struct {
	ID          string
	Layer       string
	Description string
	DependsOn   []string
	Agent       string
	Branch      string
}

// Worktree configures task isolation.
type Worktree struct {
	BranchPrefix     string `toml:"branch_prefix"`
	CleanupOnSuccess bool   `toml:"cleanup_on_success"`
}

// Document is a fully validated design document.
type Document struct {
	Project    Project
	Layers     map[string]Layer
	Tasks      map[string]Task
	Validators map[string]string
	Worktree   Worktree

	// Path is where the document was loaded from. The orchestrator treats
	// removal of this file as the cancellation signal.
	Path string
}

// TaskIDs returns all task ids in lexicographic order.
func (d *Document) TaskIDs() []string {
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidatorsFor returns the validator commands for a task's layer, in the
// order the layer declares them. Unknown validator ids were rejected at load
// time, so lookups here cannot miss.
func (d *Document) ValidatorsFor(taskID string) map[string]string {
	task, ok := d.Tasks[taskID]
	if !ok {
		return nil
	}
	layer := d.Layers[task.Layer]
	cmds := make(map[string]string, len(layer.Validators))
	for _, name := range layer.Validators {
		cmds[name] = d.Validators[name]
	}
	return cmds
}

// ValidatorNamesFor returns the ordered validator names for a task's layer.
func (d *Document) ValidatorNamesFor(taskID string) []string {
	task, ok := d.Tasks[taskID]
	if !ok {
		return nil
	}
	return d.Layers[task.Layer].Validators
}

// EffectiveDependencies returns the dependency map over task ids with
// implicit layer edges expanded: a task depends on its declared deps plus
// every task in each layer its own layer depends on. Declared self-edges
// are kept so cycle detection reports them; only implicit layer expansion
// skips the task itself. Dep lists are sorted so the result is
// deterministic for equal inputs.
func (d *Document) EffectiveDependencies() map[string][]string {
	tasksByLayer := make(map[string][]string)
	for id, t := range d.Tasks {
		tasksByLayer[t.Layer] = append(tasksByLayer[t.Layer], id)
	}

	deps := make(map[string][]string, len(d.Tasks))
	for id, t := range d.Tasks {
		set := make(map[string]struct{}, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			set[dep] = struct{}{}
		}
		for _, layerDep := range d.Layers[t.Layer].DependsOn {
			for _, other := range tasksByLayer[layerDep] {
				if other == id {
					continue
				}
				set[other] = struct{}{}
			}
		}
		list := make([]string, 0, len(set))
		for dep := range set {
			list = append(list, dep)
		}
		sort.Strings(list)
		deps[id] = list
	}
	return deps
}

// BranchFor derives the isolation branch name for a task id.
func BranchFor(prefix, taskID string) string {
	return fmt.Sprintf("%s/%s", prefix, taskID)
}
