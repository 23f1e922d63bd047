package graph

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestBuild_directDependencies(t *testing.T) {
	g := MustBuild(map[string][]string{
		"summary":  nil,
		"approach": {"summary"},
		"budget":   {"summary", "approach"},
	})

	got := g.DirectDependencies("budget")
	want := []string{"summary", "approach"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DirectDependencies(budget) = %v, want %v", got, want)
	}
	if deps := g.DirectDependencies("summary"); len(deps) != 0 {
		t.Errorf("DirectDependencies(summary) = %v, want empty", deps)
	}
}

func TestBuild_transitiveDependents(t *testing.T) {
	// summary <- approach <- budget, summary <- timeline
	g := MustBuild(map[string][]string{
		"summary":  nil,
		"approach": {"summary"},
		"budget":   {"approach"},
		"timeline": {"summary"},
	})

	tests := []struct {
		id   string
		want []string
	}{
		{"summary", []string{"approach", "budget", "timeline"}},
		{"approach", []string{"budget"}},
		{"budget", nil},
	}
	for _, tt := range tests {
		got := g.TransitiveDependents(tt.id)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TransitiveDependents(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestBuild_diamondClosureHasNoDuplicates(t *testing.T) {
	// root <- left, root <- right, {left,right} <- merge
	g := MustBuild(map[string][]string{
		"root":  nil,
		"left":  {"root"},
		"right": {"root"},
		"merge": {"left", "right"},
	})

	got := g.TransitiveDependents("root")
	want := []string{"left", "merge", "right"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TransitiveDependents(root) = %v, want %v", got, want)
	}
}

func TestBuild_rejectsCycle(t *testing.T) {
	_, err := Build([]sectionSpec{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestBuild_rejectsSelfDependency(t *testing.T) {
	_, err := Build([]sectionSpec{{ID: "a", DependsOn: []string{"a"}}})
	if err == nil {
		t.Fatal("expected self-dependency error")
	}
}

func TestBuild_rejectsUnknownReference(t *testing.T) {
	_, err := Build([]sectionSpec{{ID: "a", DependsOn: []string{"ghost"}}})
	if err == nil {
		t.Fatal("expected unknown-reference error")
	}
}

func TestBuild_rejectsDuplicateID(t *testing.T) {
	_, err := Build([]sectionSpec{{ID: "a"}, {ID: "a"}})
	if err == nil {
		t.Fatal("expected duplicate-id error")
	}
}

func TestLoad_yamlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sections.yaml")
	content := `sections:
  - id: summary
    required: true
  - id: approach
    depends_on: [summary]
    required: true
  - id: appendix
    depends_on: [approach]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := g.Sections(); !reflect.DeepEqual(got, []string{"summary", "approach", "appendix"}) {
		t.Errorf("Sections() = %v", got)
	}
	if got := g.Required(); !reflect.DeepEqual(got, []string{"summary", "approach"}) {
		t.Errorf("Required() = %v", got)
	}
	if !g.Has("appendix") {
		t.Error("Has(appendix) = false")
	}
	if g.Has("ghost") {
		t.Error("Has(ghost) = true")
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
