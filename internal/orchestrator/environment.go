package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/aggregator"
	"github.com/taskmesh/orchestrator/internal/agent"
	"github.com/taskmesh/orchestrator/internal/bus"
	"github.com/taskmesh/orchestrator/internal/decomposer"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/memory"
	"github.com/taskmesh/orchestrator/internal/optimizer"
	"github.com/taskmesh/orchestrator/internal/personas"
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/ratecontrol"
	"github.com/taskmesh/orchestrator/internal/tracker"
)

// DefaultWorkflowTimeout bounds how long Execute runs a single task before
// abandoning in-flight work and returning a cancelled record.
const DefaultWorkflowTimeout = 600 * time.Second

// CancelGrace is how long an in-flight subtask is allowed to keep running
// after the workflow context is cancelled, giving its inference call one
// chance to finish its current request rather than being cut off mid-word.
const CancelGrace = 5 * time.Second

// PersonaStore is the subset of the Persona Store the orchestrator
// depends on to assign and learn from personas.
type PersonaStore interface {
	Match(req personas.Requirements) (*personas.Persona, float64, bool)
	Insert(p personas.Persona) (string, error)
	RecordUse(id string, successScore float64) error
	List(filter personas.Filter) []*personas.Persona
	Get(id string) (*personas.Persona, bool)
}

// ShortTermMemory is the subset of the conversation store the orchestrator
// depends on for prior-turn context.
type ShortTermMemory interface {
	AsMessages(ctx context.Context, id string) ([]memory.Turn, error)
	Append(ctx context.Context, id string, turn memory.Turn) error
}

// LongTermMemory is the subset of the workflow store the orchestrator
// depends on for idempotence checks and result persistence.
type LongTermMemory interface {
	Get(ctx context.Context, taskID string) (memory.WorkflowRecord, error)
	Append(ctx context.Context, rec memory.WorkflowRecord) error
}

// Environment bundles every collaborator Execute needs, assembled once at
// process startup and passed in explicitly rather than reached for through
// package-level state, the way the teacher wires its Activities struct
// (internal/activities/activities.go) by constructor injection.
type Environment struct {
	Inference   *inference.Client
	Personas    PersonaStore
	Bus         *bus.Bus
	Tracker     *tracker.Tracker
	ShortTerm   ShortTermMemory
	LongTerm    LongTermMemory
	Optimizer   *optimizer.Optimizer
	Decomposer  *decomposer.Decomposer
	Semaphore   *ratecontrol.Semaphore
	Logger      *zap.Logger

	// PersonalityPrefix is prepended to every agent prompt ahead of the
	// subtask description, e.g. an operator-wide house style directive.
	PersonalityPrefix string
	// DefaultModelClass selects which inference.ModelResolver class an
	// agent's model is resolved from absent a more specific signal.
	DefaultModelClass string
	// AggregateFormat is the default aggregator.Format applied when a
	// caller doesn't request one explicitly.
	AggregateFormat aggregator.Format
	// WorkflowTimeout bounds a single Execute call; zero uses
	// DefaultWorkflowTimeout.
	WorkflowTimeout time.Duration
}

func (e *Environment) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Environment) workflowTimeout() time.Duration {
	if e.WorkflowTimeout <= 0 {
		return DefaultWorkflowTimeout
	}
	return e.WorkflowTimeout
}

func (e *Environment) aggregateFormat() aggregator.Format {
	if e.AggregateFormat == "" {
		return aggregator.Detailed
	}
	return e.AggregateFormat
}

// Orchestrator drives one task through analysis, decomposition, planning,
// dispatch, evaluation, and aggregation.
type Orchestrator struct {
	env *Environment
}

// New creates an Orchestrator over env.
func New(env *Environment) *Orchestrator {
	return &Orchestrator{env: env}
}

// weigher adapts each subtask's resolved persona into the planner.Weigher
// interface, deriving a weight from the persona's success score. A persona
// with no recorded usage defers to the planner's own default weight of 1.
type weigher struct {
	personaBySubtask map[string]*personas.Persona
}

func (w weigher) Weight(subtaskID string) (float64, bool) {
	p, ok := w.personaBySubtask[subtaskID]
	if !ok || p.UsageCount == 0 {
		return 0, false
	}
	// A higher success score implies a tighter, more predictable turnaround;
	// this is a proxy weight, not a measured duration, since the engine
	// does not yet record per-subtask wall-clock history by persona.
	return 1 + (1 - p.SuccessScore), true
}

var _ planner.Weigher = weigher{}
var _ agent.Chatter = (*inference.Client)(nil)
