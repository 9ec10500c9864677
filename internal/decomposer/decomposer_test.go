package decomposer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskmesh/orchestrator/internal/analyzer"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/templates"
)

const developmentTemplate = `
name: development
version: "1"
defaults:
  domain: development
  estimated_tokens: 100
nodes:
  - id: design
    description: Design the approach.
  - id: implement
    description: Implement the approach.
    depends_on: [design]
  - id: test
    description: Test the implementation.
    depends_on: [implement]
`

func writeTemplateFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write template file: %v", err)
	}
}

type fakeRefiner struct {
	response string
	err      error
}

func (f *fakeRefiner) Chat(ctx context.Context, model string, messages []inference.Message, opts inference.Options) (string, error) {
	return f.response, f.err
}

type fakeRecommender struct{ id string }

func (f *fakeRecommender) Recommend(domain, roleHint string) (string, bool) {
	if f.id == "" {
		return "", false
	}
	return f.id, true
}

func TestDecomposeSimpleYieldsOneSubtask(t *testing.T) {
	d := New(Config{}, nil)
	subtasks, err := d.Decompose(context.Background(), "task-1", "fix the typo", analyzer.Analysis{
		Complexity: analyzer.Simple,
		Domains:    []string{"development"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subtasks) != 1 {
		t.Fatalf("expected exactly one subtask, got %d", len(subtasks))
	}
	if subtasks[0].Description != "fix the typo" {
		t.Fatalf("expected verbatim description, got %q", subtasks[0].Description)
	}
}

func TestDecomposeComplexUsesTemplateOrderAndDependencies(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "development.yaml", developmentTemplate)

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(dir); err != nil {
		t.Fatalf("load directory: %v", err)
	}

	d := New(Config{Registry: registry}, nil)
	subtasks, err := d.Decompose(context.Background(), "task-1", "build the widget", analyzer.Analysis{
		Complexity: analyzer.Complex,
		Domains:    []string{"development"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subtasks) != 3 {
		t.Fatalf("expected 3 subtasks from the template, got %d", len(subtasks))
	}
	if subtasks[0].ID != "task-1.development.design" {
		t.Fatalf("unexpected first subtask id: %s", subtasks[0].ID)
	}
	if len(subtasks[1].Dependencies) != 1 || subtasks[1].Dependencies[0] != "task-1.development.design" {
		t.Fatalf("expected implement to depend on design, got %v", subtasks[1].Dependencies)
	}
}

func TestDecomposeRefinementFallsBackOnError(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "development.yaml", developmentTemplate)

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(dir); err != nil {
		t.Fatalf("load directory: %v", err)
	}

	d := New(Config{Registry: registry, Refiner: &fakeRefiner{err: context.DeadlineExceeded}}, nil)
	subtasks, err := d.Decompose(context.Background(), "task-1", "build the widget", analyzer.Analysis{
		Complexity: analyzer.Complex,
		Domains:    []string{"development"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subtasks[0].Description != "Design the approach." {
		t.Fatalf("expected fallback to verbatim template description, got %q", subtasks[0].Description)
	}
}

func TestDecomposeRefinementUsesRewrittenDescription(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "development.yaml", developmentTemplate)

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(dir); err != nil {
		t.Fatalf("load directory: %v", err)
	}

	d := New(Config{Registry: registry, Refiner: &fakeRefiner{response: "Design the widget's schema."}}, nil)
	subtasks, err := d.Decompose(context.Background(), "task-1", "build the widget", analyzer.Analysis{
		Complexity: analyzer.Complex,
		Domains:    []string{"development"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subtasks[0].Description != "Design the widget's schema." {
		t.Fatalf("expected refined description, got %q", subtasks[0].Description)
	}
}

func TestDecomposeAssignsRecommendedPersona(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "development.yaml", developmentTemplate)

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(dir); err != nil {
		t.Fatalf("load directory: %v", err)
	}

	d := New(Config{Registry: registry, Recommender: &fakeRecommender{id: "persona-1"}}, nil)
	subtasks, err := d.Decompose(context.Background(), "task-1", "build the widget", analyzer.Analysis{
		Complexity: analyzer.Complex,
		Domains:    []string{"development"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subtasks[0].SuggestedPersonaID != "persona-1" {
		t.Fatalf("expected recommended persona id, got %q", subtasks[0].SuggestedPersonaID)
	}
}

func TestDecomposeUnknownDomainFallsBackToOtherTemplate(t *testing.T) {
	dir := t.TempDir()
	writeTemplateFile(t, dir, "other.yaml", `
name: other
version: "1"
defaults:
  domain: other
  estimated_tokens: 50
nodes:
  - id: complete
    description: Complete the task.
`)

	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(dir); err != nil {
		t.Fatalf("load directory: %v", err)
	}

	d := New(Config{Registry: registry}, nil)
	subtasks, err := d.Decompose(context.Background(), "task-1", "do a thing", analyzer.Analysis{
		Complexity: analyzer.Medium,
		Domains:    []string{"development"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subtasks) != 1 || subtasks[0].Domain != "development" {
		t.Fatalf("expected a single subtask tagged with the original domain, got %+v", subtasks)
	}
}
