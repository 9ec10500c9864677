package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/personas"
)

type fakeChatter struct {
	lastPrompt string
	response   string
	err        error
}

func (f *fakeChatter) Chat(ctx context.Context, model string, messages []inference.Message, opts inference.Options) (string, error) {
	if len(messages) > 0 {
		f.lastPrompt = messages[0].Content
	}
	return f.response, f.err
}

func testPersona() personas.DNA {
	return personas.DNA{
		Role:          "engineer",
		Seniority:     "senior",
		Domain:        "development",
		Methodologies: []string{"tdd"},
		Constraints:   map[string]string{"max_tokens": "500"},
		OutputFormat:  map[string]string{"format": "markdown"},
	}
}

func TestExecuteBuildsPromptWithAllParts(t *testing.T) {
	chatter := &fakeChatter{response: "done"}
	a := New(testPersona(), chatter, "test-model", "Be concise.", inference.Options{})

	history := []HistoryTurn{{Role: "user", Text: "earlier question"}}
	prereqs := []PrerequisiteOutput{{SubtaskID: "s1", Description: "design", Output: "schema v1"}}
	out, err := a.Execute(context.Background(), "implement the schema", history, prereqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Fatalf("expected passthrough output, got %q", out)
	}

	p := chatter.lastPrompt
	if !strings.Contains(p, "senior engineer") {
		t.Fatalf("expected persona preamble, got: %s", p)
	}
	if !strings.Contains(p, "Be concise.") {
		t.Fatalf("expected personality prefix, got: %s", p)
	}
	if !strings.Contains(p, "earlier question") {
		t.Fatalf("expected conversation history serialized, got: %s", p)
	}
	if !strings.Contains(p, "schema v1") {
		t.Fatalf("expected prerequisite output serialized, got: %s", p)
	}
	if !strings.Contains(p, "implement the schema") {
		t.Fatalf("expected subtask description, got: %s", p)
	}
	if !strings.Contains(p, "format=markdown") {
		t.Fatalf("expected output format trailer, got: %s", p)
	}
}

func TestExecutePropagatesChatError(t *testing.T) {
	chatter := &fakeChatter{err: &inference.InferenceTimeout{}}
	a := New(testPersona(), chatter, "test-model", "", inference.Options{})

	_, err := a.Execute(context.Background(), "do something", nil, nil)
	if err == nil {
		t.Fatalf("expected an error to propagate")
	}
}

func TestExecuteWithNoOutputFormatUsesDirectTrailer(t *testing.T) {
	chatter := &fakeChatter{response: "ok"}
	p := testPersona()
	p.OutputFormat = nil
	a := New(p, chatter, "test-model", "", inference.Options{})

	if _, err := a.Execute(context.Background(), "task", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(chatter.lastPrompt, "no commentary") {
		t.Fatalf("expected default trailer, got: %s", chatter.lastPrompt)
	}
}
