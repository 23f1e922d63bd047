// Package graph loads the static section dependency configuration and
// answers reachability queries over it. The graph is an immutable value
// built once at process start; a cyclic or malformed configuration is a
// startup-fatal error, never a runtime condition.
package graph

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// sectionSpec is the YAML shape of a single section entry.
type sectionSpec struct {
	ID        string   `yaml:"id"`
	DependsOn []string `yaml:"depends_on"`
	Required  bool     `yaml:"required"`
}

// graphFile is the YAML shape of the dependency configuration file.
type graphFile struct {
	Sections []sectionSpec `yaml:"sections"`
}

// Graph is the immutable section dependency graph. Direct prerequisite
// edges are stored as an adjacency map; the transitive-dependent closure of
// every node is precomputed at load because the graph never changes at
// runtime.
type Graph struct {
	order      []string
	required   []string
	deps       map[string][]string
	dependents map[string][]string
}

// Load reads and validates the dependency configuration file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var file graphFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return Build(file.Sections)
}

// Build constructs a Graph from parsed section specs. It rejects duplicate
// IDs, references to unknown sections, self-dependencies, and cycles.
func Build(specs []sectionSpec) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(specs)),
		dependents: make(map[string][]string, len(specs)),
	}

	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("section with empty id")
		}
		if _, dup := g.deps[s.ID]; dup {
			return nil, fmt.Errorf("duplicate section %q", s.ID)
		}
		g.deps[s.ID] = append([]string(nil), s.DependsOn...)
		g.order = append(g.order, s.ID)
		if s.Required {
			g.required = append(g.required, s.ID)
		}
	}

	for id, deps := range g.deps {
		for _, d := range deps {
			if d == id {
				return nil, fmt.Errorf("section %q depends on itself", id)
			}
			if _, known := g.deps[d]; !known {
				return nil, fmt.Errorf("section %q depends on unknown section %q", id, d)
			}
		}
	}

	if cycle := findCycle(g.deps); cycle != "" {
		return nil, fmt.Errorf("dependency cycle through section %q", cycle)
	}

	// Reverse edges, then precompute the full downstream closure per node.
	for id, deps := range g.deps {
		for _, d := range deps {
			g.dependents[d] = append(g.dependents[d], id)
		}
	}
	closure := make(map[string][]string, len(g.deps))
	for id := range g.deps {
		closure[id] = reverseClosure(g.dependents, id)
	}
	g.dependents = closure

	return g, nil
}

// MustBuild is Build for static test fixtures; it panics on error.
func MustBuild(deps map[string][]string, required ...string) *Graph {
	specs := make([]sectionSpec, 0, len(deps))
	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		specs = append(specs, sectionSpec{ID: id, DependsOn: deps[id], Required: req[id]})
	}
	g, err := Build(specs)
	if err != nil {
		panic(err)
	}
	return g
}

// Sections returns all section IDs in configuration order.
func (g *Graph) Sections() []string {
	return append([]string(nil), g.order...)
}

// Required returns the section IDs flagged as required, in configuration
// order.
func (g *Graph) Required() []string {
	return append([]string(nil), g.required...)
}

// Has reports whether the graph knows the given section.
func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// DirectDependencies returns the direct prerequisites of a section.
func (g *Graph) DirectDependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// TransitiveDependents returns every section downstream of id, i.e. the
// full closure of sections that consume id's content directly or
// indirectly. The result is sorted for deterministic iteration.
func (g *Graph) TransitiveDependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// reverseClosure walks reverse edges breadth-first from start.
func reverseClosure(rev map[string][]string, start string) []string {
	seen := map[string]bool{start: true}
	queue := append([]string(nil), rev[start]...)
	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		queue = append(queue, rev[id]...)
	}
	sort.Strings(out)
	return out
}

// findCycle runs a three-color DFS over the prerequisite edges and returns
// a section on a cycle, or "" when the graph is acyclic.
func findCycle(deps map[string][]string) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, d := range deps[id] {
			switch color[d] {
			case grey:
				return d
			case white:
				if c := visit(d); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if c := visit(id); c != "" {
				return c
			}
		}
	}
	return ""
}
