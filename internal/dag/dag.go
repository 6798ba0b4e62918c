// Package dag builds the directed dependency graph over task ids, detects
// cycles at construction, computes topological order, and answers which
// tasks are ready to run. The graph is immutable after New and safe for
// concurrent reads.
package dag

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle. Cycle holds task ids where each
// element depends on the next and the first equals the last.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Graph is a validated DAG over task ids.
type Graph struct {
	ids  []string            // sorted
	deps map[string][]string // id -> sorted dependency ids
	topo []string            // cached topological order
}

// New validates the dependency map and returns a Graph. Edges referencing
// unknown ids must be resolved by the caller beforehand; New treats them as
// a programming error. A cycle (including a self-loop) yields a CycleError
// naming one full cycle.
func New(deps map[string][]string) (*Graph, error) {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	normalized := make(map[string][]string, len(deps))
	for _, id := range ids {
		list := append([]string(nil), deps[id]...)
		sort.Strings(list)
		for _, dep := range list {
			if _, ok := deps[dep]; !ok {
				return nil, fmt.Errorf("dag: %q depends on undeclared id %q", id, dep)
			}
		}
		normalized[id] = list
	}

	g := &Graph{ids: ids, deps: normalized}
	topo, err := g.sort()
	if err != nil {
		return nil, err
	}
	g.topo = topo
	return g, nil
}

// IDs returns all node ids in lexicographic order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.ids...)
}

// Dependencies returns the dependency ids of a node, sorted.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// TopologicalOrder returns the task ids such that every dependency precedes
// its dependents. Ties break lexicographically, so the order is
// deterministic for equal inputs.
func (g *Graph) TopologicalOrder() []string {
	return append([]string(nil), g.topo...)
}

// Ready returns every id for which pending(id) holds and passed(dep) holds
// for all of its dependencies, in lexicographic order. Callers must not
// rely on the ordering beyond determinism.
func (g *Graph) Ready(pending, passed func(id string) bool) []string {
	var ready []string
	for _, id := range g.ids {
		if !pending(id) {
			continue
		}
		ok := true
		for _, dep := range g.deps[id] {
			if !passed(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// sort runs Kahn's algorithm. Remaining nodes after exhaustion form at
// least one cycle; one is extracted for the error.
func (g *Graph) sort() ([]string, error) {
	indeg := make(map[string]int, len(g.ids))
	dependents := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		indeg[id] = len(g.deps[id])
		for _, dep := range g.deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for _, id := range g.ids {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.ids))
	for len(queue) > 0 {
		// Lexicographic tie-break keeps the order reproducible.
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(g.ids) {
		return nil, &CycleError{Cycle: g.findCycle(indeg)}
	}
	return order, nil
}

// findCycle walks dependency edges among unresolved nodes until one
// repeats, then trims the walk to the cycle itself. Consecutive pairs in
// the result are genuine dependency edges; first equals last.
func (g *Graph) findCycle(indeg map[string]int) []string {
	remaining := make(map[string]bool)
	var start string
	for _, id := range g.ids {
		if indeg[id] > 0 {
			remaining[id] = true
			if start == "" {
				start = id
			}
		}
	}

	seen := make(map[string]int)
	var walk []string
	cur := start
	for {
		if at, ok := seen[cur]; ok {
			cycle := append([]string(nil), walk[at:]...)
			return append(cycle, cur)
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)
		// Every unresolved node has at least one unresolved dependency.
		for _, dep := range g.deps[cur] {
			if remaining[dep] {
				cur = dep
				break
			}
		}
	}
}
