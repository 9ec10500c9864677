package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taskmesh/orchestrator/internal/aggregator"
	"github.com/taskmesh/orchestrator/internal/bus"
	"github.com/taskmesh/orchestrator/internal/decomposer"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/memory"
	"github.com/taskmesh/orchestrator/internal/personas"
	"github.com/taskmesh/orchestrator/internal/ratecontrol"
	"github.com/taskmesh/orchestrator/internal/tracker"
)

// fakePersonaStore always matches a fixed persona, so tests never take
// the generate-and-insert path or call the inference client twice.
type fakePersonaStore struct {
	mu      sync.Mutex
	matched personas.Persona
}

func (f *fakePersonaStore) Match(req personas.Requirements) (*personas.Persona, float64, bool) {
	p := f.matched
	return &p, 1, true
}
func (f *fakePersonaStore) Insert(p personas.Persona) (string, error) { return "generated-id", nil }
func (f *fakePersonaStore) RecordUse(id string, successScore float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil
}
func (f *fakePersonaStore) List(filter personas.Filter) []*personas.Persona { return nil }
func (f *fakePersonaStore) Get(id string) (*personas.Persona, bool)         { return nil, false }

// fakeShortTerm is an in-memory stand-in for the conversation store.
type fakeShortTerm struct {
	mu    sync.Mutex
	turns map[string][]memory.Turn
}

func newFakeShortTerm() *fakeShortTerm { return &fakeShortTerm{turns: map[string][]memory.Turn{}} }

func (f *fakeShortTerm) AsMessages(ctx context.Context, id string) ([]memory.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]memory.Turn, len(f.turns[id]))
	copy(out, f.turns[id])
	return out, nil
}

func (f *fakeShortTerm) Append(ctx context.Context, id string, turn memory.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[id] = append(f.turns[id], turn)
	return nil
}

// fakeLongTerm never has a prior record and records the last Append.
type fakeLongTerm struct {
	mu   sync.Mutex
	last memory.WorkflowRecord
}

func (f *fakeLongTerm) Get(ctx context.Context, taskID string) (memory.WorkflowRecord, error) {
	return memory.WorkflowRecord{}, memory.ErrWorkflowRecordNotFound
}

func (f *fakeLongTerm) Append(ctx context.Context, rec memory.WorkflowRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = rec
	return nil
}

// newTestEnvironment builds an Environment backed by an httptest inference
// server that always answers with reply, and the fakes above.
func newTestEnvironment(t *testing.T, reply string) (*Environment, *fakeShortTerm, *fakeLongTerm) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(srv.Close)

	shortTerm := newFakeShortTerm()
	longTerm := &fakeLongTerm{}
	personaStore := &fakePersonaStore{matched: personas.Persona{
		ID: "p1", Role: "engineer", Seniority: "senior", Domain: "development",
	}}

	return &Environment{
		Inference:         inference.New(inference.Config{BaseURL: srv.URL}, nil),
		Personas:          personaStore,
		Bus:               bus.New(bus.DefaultQueueSize),
		Tracker:           tracker.New(),
		ShortTerm:         shortTerm,
		LongTerm:          longTerm,
		Decomposer:        decomposer.New(decomposer.Config{}, nil),
		Semaphore:         ratecontrol.NewSemaphore(4, 0),
		DefaultModelClass: "default",
		AggregateFormat:   aggregator.Detailed,
		WorkflowTimeout:   5 * time.Second,
	}, shortTerm, longTerm
}

func TestExecuteSimpleTaskCompletes(t *testing.T) {
	env, _, longTerm := newTestEnvironment(t, "the answer is 42")
	orch := New(env)

	record, err := orch.Execute(context.Background(), "task-1", "say hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != "completed" {
		t.Fatalf("expected status completed, got %q", record.Status)
	}
	if record.FinalOutput == "" {
		t.Fatalf("expected a non-empty final output")
	}
	if longTerm.last.TaskID != "task-1" {
		t.Fatalf("expected the workflow record to be persisted to long-term memory")
	}
}

func TestExecuteRecordsShortTermMemoryTurns(t *testing.T) {
	env, shortTerm, _ := newTestEnvironment(t, "done")
	orch := New(env)

	if _, err := orch.Execute(context.Background(), "task-2", "say hi", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turns, err := shortTerm.AsMessages(context.Background(), "task-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected a user+assistant turn pair, got %d turns", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Text != "say hi" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1].Role != "assistant" {
		t.Fatalf("unexpected second turn: %+v", turns[1])
	}
}

func TestExecuteThreadsPriorHistoryIntoTheAgentPrompt(t *testing.T) {
	var lastPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			lastPrompt = req.Messages[0].Content
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "ack"},
			"done":    true,
		})
	}))
	defer srv.Close()

	shortTerm := newFakeShortTerm()
	_ = shortTerm.Append(context.Background(), "task-3", memory.Turn{Role: "user", Text: "remember the rocket launch plan"})

	env := &Environment{
		Inference: inference.New(inference.Config{BaseURL: srv.URL}, nil),
		Personas: &fakePersonaStore{matched: personas.Persona{
			ID: "p1", Role: "engineer", Seniority: "senior", Domain: "development",
		}},
		Bus:               bus.New(bus.DefaultQueueSize),
		Tracker:           tracker.New(),
		ShortTerm:         shortTerm,
		Decomposer:        decomposer.New(decomposer.Config{}, nil),
		Semaphore:         ratecontrol.NewSemaphore(4, 0),
		DefaultModelClass: "default",
		WorkflowTimeout:   5 * time.Second,
	}
	orch := New(env)

	if _, err := orch.Execute(context.Background(), "task-3", "what did I ask about earlier", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(lastPrompt, "rocket launch plan") {
		t.Fatalf("expected prior turn in the agent prompt, got: %s", lastPrompt)
	}
}

func TestExecuteFailsDecompositionWithoutATemplate(t *testing.T) {
	env, _, _ := newTestEnvironment(t, "irrelevant")
	orch := New(env)

	// A long, multi-clause, multi-verb request classifies above Simple,
	// which requires a registered template this test's nil registry
	// doesn't have.
	taskText := "design and then build and then deploy and then secure and then audit a new payments platform"
	_, err := orch.Execute(context.Background(), "task-4", taskText, nil)
	if err == nil {
		t.Fatalf("expected a decomposition error")
	}
	var decompErr *DecompositionError
	if !asDecompositionError(err, &decompErr) {
		t.Fatalf("expected *DecompositionError, got %T: %v", err, err)
	}
}

func asDecompositionError(err error, target **DecompositionError) bool {
	de, ok := err.(*DecompositionError)
	if ok {
		*target = de
	}
	return ok
}
