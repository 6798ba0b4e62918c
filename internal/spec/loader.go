package spec

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/joss/strata/internal/dag"
)

// Candidate document names, checked in order relative to the project dir.
var candidates = []string{
	"strata.toml",
	"design.toml",
	filepath.Join(".claude", "strata.toml"),
	filepath.Join("docs", "design.toml"),
}

// Find locates the design document for a project directory, or returns
// ErrNoDocument.
func Find(projectDir string) (string, error) {
	for _, name := range candidates {
		path := filepath.Join(projectDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNoDocument
}

// rawDocument mirrors the TOML layout before validation.
type rawDocument struct {
	Project    Project                   `toml:"project"`
	Layers     map[string]rawLayer       `toml:"layers"`
	Tasks      map[string]rawTask        `toml:"tasks"`
	Validators map[string]toml.Primitive `toml:"validators"`
	Worktree   Worktree                  `toml:"worktree"`
}

type rawLayer struct {
	Description string   `toml:"description"`
	DependsOn   []string `toml:"depends_on"`
	Validators  []string `toml:"validators"`
}

type rawTask struct {
	Layer       string   `toml:"layer"`
	Description string   `toml:"description"`
	DependsOn   []string `toml:"depends_on"`
	Agent       string   `toml:"agent"`
	Branch      string   `toml:"branch"`
}

// rawValidator is the table form of a validator entry.
type rawValidator struct {
	Command string `toml:"command"`
}

// Load reads, parses, and validates a design document. It performs no I/O
// beyond reading the one file. Validation order: field presence and kind,
// unresolved references, cycle detection.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data, path)
}

func parse(data []byte, path string) (*Document, error) {
	var raw rawDocument
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}

	if raw.Project.Name == "" {
		return nil, &MissingFieldError{Field: "project.name"}
	}
	if raw.Project.MaxIterations <= 0 {
		raw.Project.MaxIterations = DefaultMaxIterations
	}
	if raw.Project.MaxParallel <= 0 {
		raw.Project.MaxParallel = DefaultMaxParallel
	}
	if raw.Worktree.BranchPrefix == "" {
		raw.Worktree.BranchPrefix = DefaultBranchPrefix
	}

	doc := &Document{
		Project:    raw.Project,
		Layers:     make(map[string]Layer, len(raw.Layers)),
		Tasks:      make(map[string]Task, len(raw.Tasks)),
		Validators: make(map[string]string, len(raw.Validators)),
		Worktree:   raw.Worktree,
		Path:       path,
	}

	// Validators come in two shapes: a bare command string, or a table
	// with a command key.
	for name, prim := range raw.Validators {
		var cmd string
		if err := md.PrimitiveDecode(prim, &cmd); err == nil {
			doc.Validators[name] = cmd
			continue
		}
		var v rawValidator
		if err := md.PrimitiveDecode(prim, &v); err != nil {
			return nil, &MissingFieldError{Field: "validators." + name}
		}
		doc.Validators[name] = v.Command
	}

	for id, l := range raw.Layers {
		doc.Layers[id] = Layer{
			ID:          id,
			Description: l.Description,
			DependsOn:   l.DependsOn,
			Validators:  l.Validators,
		}
	}

	for id, t := range raw.Tasks {
		if t.Layer == "" {
			return nil, &MissingFieldError{Field: "tasks." + id + ".layer"}
		}
		branch := t.Branch
		if branch == "" {
			branch = BranchFor(doc.Worktree.BranchPrefix, id)
		}
		doc.Tasks[id] = Task{
			ID:          id,
			Layer:       t.Layer,
			Description: t.Description,
			DependsOn:   t.DependsOn,
			Agent:       t.Agent,
			Branch:      branch,
		}
	}

	if err := validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// validate runs the structural checks in their documented order.
func validate(doc *Document) error {
	// Reference resolution before graph construction, so unresolved ids
	// surface as UnknownDependencyError rather than a graph error.
	for _, id := range doc.TaskIDs() {
		task := doc.Tasks[id]
		if _, ok := doc.Layers[task.Layer]; !ok {
			return &UnknownDependencyError{Kind: "task", ID: id, RefKind: "layer", Ref: task.Layer}
		}
		for _, dep := range task.DependsOn {
			if _, ok := doc.Tasks[dep]; !ok {
				return &UnknownDependencyError{Kind: "task", ID: id, RefKind: "task", Ref: dep}
			}
		}
	}
	for _, id := range sortedLayerIDs(doc) {
		layer := doc.Layers[id]
		for _, dep := range layer.DependsOn {
			if _, ok := doc.Layers[dep]; !ok {
				return &UnknownDependencyError{Kind: "layer", ID: id, RefKind: "layer", Ref: dep}
			}
		}
		for _, v := range layer.Validators {
			if _, ok := doc.Validators[v]; !ok {
				return &UnknownDependencyError{Kind: "layer", ID: id, RefKind: "validator", Ref: v}
			}
		}
	}

	// Layer/task edge consistency: a cross-layer task dependency implies
	// the depending layer is ordered after the depended-on layer.
	reach := layerReachability(doc)
	for _, id := range doc.TaskIDs() {
		task := doc.Tasks[id]
		for _, dep := range task.DependsOn {
			depLayer := doc.Tasks[dep].Layer
			if depLayer == task.Layer {
				continue
			}
			if !reach[task.Layer][depLayer] {
				return &LayerOrderError{TaskID: id, DepID: dep, Layer: task.Layer, DepLayer: depLayer}
			}
		}
	}

	// Cycle detection over the effective task graph (declared deps plus
	// implicit layer edges).
	if _, err := dag.New(doc.EffectiveDependencies()); err != nil {
		return err
	}
	return nil
}

// layerReachability computes, per layer, the set of layers it is ordered
// after (transitively).
func layerReachability(doc *Document) map[string]map[string]bool {
	reach := make(map[string]map[string]bool, len(doc.Layers))
	var visit func(from, id string)
	visit = func(from, id string) {
		for _, dep := range doc.Layers[id].DependsOn {
			if reach[from][dep] {
				continue
			}
			reach[from][dep] = true
			visit(from, dep)
		}
	}
	for id := range doc.Layers {
		reach[id] = make(map[string]bool)
		visit(id, id)
	}
	return reach
}

func sortedLayerIDs(doc *Document) []string {
	ids := make([]string, 0, len(doc.Layers))
	for id := range doc.Layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
