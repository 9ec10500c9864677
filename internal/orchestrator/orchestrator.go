package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/aggregator"
	"github.com/taskmesh/orchestrator/internal/agent"
	"github.com/taskmesh/orchestrator/internal/analyzer"
	"github.com/taskmesh/orchestrator/internal/bus"
	"github.com/taskmesh/orchestrator/internal/decomposer"
	"github.com/taskmesh/orchestrator/internal/depgraph"
	"github.com/taskmesh/orchestrator/internal/evaluator"
	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/memory"
	ometrics "github.com/taskmesh/orchestrator/internal/metrics"
	"github.com/taskmesh/orchestrator/internal/personas"
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/tracker"
)

// subtaskState is dispatch-local bookkeeping for one subtask across the
// run, distinct from the Tracker's own state machine: it holds the output,
// the persona used, and whether an upstream failure means this subtask
// should never be dispatched at all.
type subtaskState struct {
	subtask decomposer.Subtask
	persona *personas.Persona
	output  string
	err     error
	skipped bool
}

// Execute runs taskText through the full task→plan→dispatch→aggregate
// pipeline and returns the resulting WorkflowRecord. It returns a non-nil
// error only for DecompositionError: every other failure mode, including
// every individual subtask failure, is folded into the returned record's
// Status rather than surfaced as a Go error, per the engine's
// never-throw partial-failure policy.
func (o *Orchestrator) Execute(ctx context.Context, taskID, taskText string, taskContext map[string]string) (memory.WorkflowRecord, error) {
	env := o.env
	log := env.logger().With(zap.String("task_id", taskID))

	if env.LongTerm != nil {
		if existing, err := env.LongTerm.Get(ctx, taskID); err == nil {
			log.Info("returning existing terminal workflow record", zap.String("status", existing.Status))
			return existing, nil
		} else if err != memory.ErrWorkflowRecordNotFound {
			log.Warn("idempotence check failed, proceeding with a fresh run", zap.Error(err))
		}
	}

	submittedAt := time.Now()
	ctx, cancel := context.WithTimeout(ctx, env.workflowTimeout())
	defer cancel()

	env.Bus.Publish(bus.Event{Type: bus.TaskStarted, TaskID: taskID})
	log.Info("task started")

	analysis := analyzer.Analyze(taskText, taskContext)

	var history []agent.HistoryTurn
	if env.ShortTerm != nil {
		if turns, err := env.ShortTerm.AsMessages(ctx, taskID); err != nil {
			log.Warn("short-term memory lookup failed, proceeding without prior context", zap.Error(err))
		} else {
			history = make([]agent.HistoryTurn, 0, len(turns))
			for _, t := range turns {
				history = append(history, agent.HistoryTurn{Role: t.Role, Text: t.Text})
			}
		}
	}

	subtasks, err := env.Decomposer.Decompose(ctx, taskID, taskText, analysis)
	if err != nil {
		return o.failBeforeDispatch(taskID, taskText, analysis, submittedAt, &DecompositionError{TaskID: taskID, Cause: err})
	}
	if len(subtasks) == 0 {
		return o.failBeforeDispatch(taskID, taskText, analysis, submittedAt, &DecompositionError{TaskID: taskID, Cause: ErrEmptyDecomposition})
	}

	nodes := make([]depgraph.Node, 0, len(subtasks))
	for _, s := range subtasks {
		nodes = append(nodes, depgraph.Node{ID: s.ID, Dependencies: s.Dependencies})
	}

	graph, err := depgraph.Build(nodes)
	if err != nil {
		return o.failBeforeDispatch(taskID, taskText, analysis, submittedAt, &DecompositionError{TaskID: taskID, Cause: err})
	}

	states := make(map[string]*subtaskState, len(subtasks))
	personaBySubtask := make(map[string]*personas.Persona, len(subtasks))
	for _, s := range subtasks {
		states[s.ID] = &subtaskState{subtask: s}
		if p, err := o.resolvePersona(ctx, s, log); err == nil {
			states[s.ID].persona = p
			personaBySubtask[s.ID] = p
		}
	}

	plan := planner.Plan(graph, weigher{personaBySubtask: personaBySubtask})

	seeds := make([]tracker.SubtaskSeed, 0, len(subtasks))
	for _, s := range subtasks {
		seeds = append(seeds, tracker.SubtaskSeed{ID: s.ID, Dependencies: s.Dependencies})
	}
	env.Tracker.Create(tracker.Plan{TaskID: taskID, Subtasks: seeds})

	var scores []memory.SubtaskScore
	var scoresMu sync.Mutex

	cancelled := false
	for _, stage := range plan.Stages {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		o.runStage(ctx, taskID, stage, graph, states, history, &scores, &scoresMu, log)
	}

	status := "completed"
	failedCount := 0
	for _, st := range states {
		if st.skipped || st.err != nil {
			failedCount++
		}
	}
	switch {
	case cancelled || ctx.Err() != nil:
		status = "cancelled"
		cause := ErrWorkflowCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = ErrWorkflowTimeout
		}
		log.Warn("workflow did not run to completion", zap.Error(cause))
	case failedCount == len(states) && len(states) > 0:
		status = "failed"
	case failedCount > 0:
		status = "partial"
	}

	outputs := make(map[string]aggregator.SubtaskResult, len(states))
	for id, st := range states {
		res := aggregator.SubtaskResult{
			SubtaskID:   id,
			Description: st.subtask.Description,
			Domain:      st.subtask.Domain,
			Output:      st.output,
			Success:     st.err == nil && !st.skipped,
		}
		if st.err != nil {
			res.Error = st.err.Error()
		} else if st.skipped {
			res.Error = "upstream failure"
		}
		outputs[id] = res
	}

	aggregated, err := aggregator.Aggregate(aggregator.PlanView{TaskID: taskID, Order: graph.Order}, outputs, env.aggregateFormat())
	if err != nil {
		log.Error("aggregation failed", zap.Error(err))
		aggregated = aggregator.Aggregated{TaskID: taskID, Text: fmt.Sprintf("aggregation failed: %v", err)}
	}
	finalOutput := aggregated.Text
	if status == "partial" || status == "cancelled" || status == "failed" {
		finalOutput = fmt.Sprintf("%s\n\n---\n%s", skipSummary(states, graph.Order), finalOutput)
	}

	completedAt := time.Now()
	record := memory.WorkflowRecord{
		TaskID:      taskID,
		TaskText:    taskText,
		Domains:     analysis.Domains,
		Complexity:  analysis.Complexity,
		SubtaskIDs:  graph.Order,
		FinalOutput: finalOutput,
		Status:      status,
		Scores:      scores,
		SubmittedAt: submittedAt,
		CompletedAt: completedAt,
		WallClockMs: completedAt.Sub(submittedAt).Milliseconds(),
	}

	if env.LongTerm != nil {
		if err := env.LongTerm.Append(context.WithoutCancel(ctx), record); err != nil {
			log.Error("failed to persist workflow record", zap.Error(err))
		}
	}

	if env.ShortTerm != nil {
		recordCtx := context.WithoutCancel(ctx)
		if err := env.ShortTerm.Append(recordCtx, taskID, memory.Turn{Role: "user", Text: taskText, Timestamp: submittedAt}); err != nil {
			log.Warn("failed to record user turn in short-term memory", zap.Error(err))
		}
		if err := env.ShortTerm.Append(recordCtx, taskID, memory.Turn{Role: "assistant", Text: finalOutput, Timestamp: completedAt}); err != nil {
			log.Warn("failed to record assistant turn in short-term memory", zap.Error(err))
		}
	}

	ometrics.RecordTaskMetrics(analysis.Complexity, status, float64(record.WallClockMs)/1000)
	env.Bus.Publish(bus.Event{Type: bus.TaskFinished, TaskID: taskID, Payload: map[string]any{"status": status}})
	log.Info("task finished", zap.String("status", status), zap.Int64("wall_clock_ms", record.WallClockMs))

	return record, nil
}

// failBeforeDispatch records a workflow that never reached dispatch
// because it could not be decomposed into a runnable plan.
func (o *Orchestrator) failBeforeDispatch(taskID, taskText string, analysis analyzer.Analysis, submittedAt time.Time, cause error) (memory.WorkflowRecord, error) {
	completedAt := time.Now()
	record := memory.WorkflowRecord{
		TaskID:      taskID,
		TaskText:    taskText,
		Domains:     analysis.Domains,
		Complexity:  analysis.Complexity,
		Status:      "failed",
		FinalOutput: cause.Error(),
		SubmittedAt: submittedAt,
		CompletedAt: completedAt,
		WallClockMs: completedAt.Sub(submittedAt).Milliseconds(),
	}
	if o.env.LongTerm != nil {
		if err := o.env.LongTerm.Append(context.Background(), record); err != nil {
			o.env.logger().Error("failed to persist failed workflow record", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	ometrics.RecordTaskMetrics(analysis.Complexity, "failed", float64(record.WallClockMs)/1000)
	o.env.Bus.Publish(bus.Event{Type: bus.TaskFinished, TaskID: taskID, Payload: map[string]any{"status": "failed"}})
	return record, cause
}

// runStage dispatches every non-skipped subtask in a stage concurrently,
// bounded by the Environment's Semaphore, and blocks until the stage
// finishes or the workflow context is done.
func (o *Orchestrator) runStage(
	ctx context.Context,
	taskID string,
	stage planner.Stage,
	graph *depgraph.Graph,
	states map[string]*subtaskState,
	history []agent.HistoryTurn,
	scores *[]memory.SubtaskScore,
	scoresMu *sync.Mutex,
	log *zap.Logger,
) {
	env := o.env
	var wg sync.WaitGroup

	for _, id := range stage.SubtaskIDs {
		st := states[id]

		if upstreamFailed(st.subtask, states) {
			st.skipped = true
			_ = env.Tracker.Transition(taskID, id, tracker.Failed, "upstream failure")
			env.Bus.Publish(bus.Event{Type: bus.SubtaskFailed, TaskID: taskID, SubtaskID: id, Payload: map[string]any{"reason": "upstream failure"}})
			ometrics.RecordSubtaskTransition(string(tracker.Pending), string(tracker.Failed))
			continue
		}

		if err := env.Semaphore.Acquire(ctx); err != nil {
			st.err = err
			_ = env.Tracker.Transition(taskID, id, tracker.Failed, "workflow cancelled before dispatch")
			continue
		}

		wg.Add(1)
		go func(id string, st *subtaskState) {
			defer wg.Done()
			defer env.Semaphore.Release()
			o.runSubtask(ctx, taskID, st, states, history, scores, scoresMu, log)
		}(id, st)
	}

	wg.Wait()
}

// upstreamFailed reports whether any of s's direct dependencies failed or
// were themselves skipped.
func upstreamFailed(s decomposer.Subtask, states map[string]*subtaskState) bool {
	for _, dep := range s.Dependencies {
		depState, ok := states[dep]
		if !ok {
			continue
		}
		if depState.skipped || depState.err != nil {
			return true
		}
	}
	return false
}

// runSubtask resolves a persona, runs the agent, scores the outcome, and
// drives the subtask through the Tracker's state machine.
func (o *Orchestrator) runSubtask(ctx context.Context, taskID string, st *subtaskState, states map[string]*subtaskState, history []agent.HistoryTurn, scores *[]memory.SubtaskScore, scoresMu *sync.Mutex, log *zap.Logger) {
	env := o.env
	sub := st.subtask

	if err := env.Tracker.Transition(taskID, sub.ID, tracker.Assigned, ""); err != nil {
		st.err = err
		log.Error("subtask assignment failed", zap.String("subtask_id", sub.ID), zap.Error(err))
		return
	}

	persona := st.persona
	if persona == nil {
		// Pre-resolution (run ahead of planning, to feed the Weigher) found
		// no persona for this subtask; fall back to resolving it now.
		var err error
		persona, err = o.resolvePersona(ctx, sub, log)
		if err != nil {
			st.err = err
			_ = env.Tracker.Transition(taskID, sub.ID, tracker.InProgress, "")
			_ = env.Tracker.Transition(taskID, sub.ID, tracker.Failed, err.Error())
			env.Bus.Publish(bus.Event{Type: bus.SubtaskFailed, TaskID: taskID, SubtaskID: sub.ID})
			return
		}
		st.persona = persona
	}
	env.Bus.Publish(bus.Event{Type: bus.SubtaskAssigned, TaskID: taskID, SubtaskID: sub.ID, Payload: map[string]any{"persona_id": persona.ID}})

	if err := env.Tracker.Transition(taskID, sub.ID, tracker.InProgress, ""); err != nil {
		st.err = err
		return
	}
	env.Bus.Publish(bus.Event{Type: bus.SubtaskStarted, TaskID: taskID, SubtaskID: sub.ID})

	prereqs := prerequisiteOutputs(sub, states)
	model := env.Inference.ResolveModel(env.DefaultModelClass, nil)
	ag := agent.New(persona.DNA(), env.Inference, model, env.PersonalityPrefix, inference.Options{})

	subCtx, subCancel := graceContext(ctx, CancelGrace)
	defer subCancel()

	start := time.Now()
	out, execErr := ag.Execute(subCtx, sub.Description, history, prereqs)

	outcome := evaluator.Evaluate(evaluator.Input{
		Description:  sub.Description,
		Output:       out,
		OutputFormat: persona.OutputFormat,
		Completed:    execErr == nil,
	})

	scoresMu.Lock()
	*scores = append(*scores, memory.SubtaskScore{
		SubtaskID:    sub.ID,
		Quality:      outcome.Quality,
		Completeness: outcome.Completeness,
		Success:      outcome.Success,
		Overall:      outcome.Overall,
	})
	scoresMu.Unlock()
	ometrics.RecordOutcomeScore(sub.Domain, outcome.Overall)

	if persona.ID != "" && env.Optimizer != nil {
		if err := env.Optimizer.RecordOutcome(persona.ID, outcome.Overall); err != nil {
			log.Warn("failed to record persona outcome", zap.String("persona_id", persona.ID), zap.Error(err))
		}
	}

	if execErr != nil {
		st.err = execErr
		_ = env.Tracker.Transition(taskID, sub.ID, tracker.Failed, execErr.Error())
		ometrics.RecordAgentExecution(persona.ID, "failed")
		ometrics.RecordSubtaskCompletion(sub.Domain, "failed", time.Since(start).Seconds())
		env.Bus.Publish(bus.Event{Type: bus.SubtaskFailed, TaskID: taskID, SubtaskID: sub.ID, Payload: map[string]any{"error": execErr.Error()}})
		log.Warn("subtask failed", zap.String("subtask_id", sub.ID), zap.Error(execErr))
		return
	}

	st.output = out
	_ = env.Tracker.Transition(taskID, sub.ID, tracker.Completed, "")
	ometrics.RecordAgentExecution(persona.ID, "ok")
	ometrics.RecordSubtaskCompletion(sub.Domain, "ok", time.Since(start).Seconds())
	env.Bus.Publish(bus.Event{Type: bus.SubtaskCompleted, TaskID: taskID, SubtaskID: sub.ID, Payload: map[string]any{"overall_score": outcome.Overall}})
}

// prerequisiteOutputs gathers a subtask's completed dependency outputs in
// declared order.
func prerequisiteOutputs(sub decomposer.Subtask, states map[string]*subtaskState) []agent.PrerequisiteOutput {
	if len(sub.Dependencies) == 0 {
		return nil
	}
	out := make([]agent.PrerequisiteOutput, 0, len(sub.Dependencies))
	for _, dep := range sub.Dependencies {
		depState, ok := states[dep]
		if !ok || depState.skipped || depState.err != nil {
			continue
		}
		out = append(out, agent.PrerequisiteOutput{
			SubtaskID:   depState.subtask.ID,
			Description: depState.subtask.Description,
			Output:      depState.output,
		})
	}
	return out
}

// graceContext derives a child context from parent that, once parent is
// cancelled, stays live for an additional grace period before it too is
// cancelled — giving an in-flight inference call one chance to finish its
// current request rather than being cut off immediately.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
		case <-stop:
			return
		}
		select {
		case <-time.After(grace):
		case <-stop:
		}
		cancel()
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}

// resolvePersona finds a matching persona via the Persona Store, or
// generates and inserts a new one. If persisting the new persona fails,
// the generated DNA is still used for this one workflow, wrapped as a
// PersonaStoreError and logged rather than failing the subtask.
func (o *Orchestrator) resolvePersona(ctx context.Context, sub decomposer.Subtask, log *zap.Logger) (*personas.Persona, error) {
	env := o.env

	if sub.SuggestedPersonaID != "" {
		if p, ok := env.Personas.Get(sub.SuggestedPersonaID); ok {
			return p, nil
		}
	}

	req := personas.Requirements{
		Role:   roleHintOrDefault(sub.SuggestedPersonaRole),
		Domain: sub.Domain,
	}
	if p, _, ok := env.Personas.Match(req); ok {
		return p, nil
	}

	generated := o.generatePersona(ctx, req, log)
	id, err := env.Personas.Insert(generated)
	if err != nil {
		storeErr := personas.NewPersonaStoreError("insert", "", err)
		log.Warn("persona store insert failed, using an unpersisted persona for this workflow only",
			zap.Error(storeErr))
		env.Bus.Publish(bus.Event{Type: bus.PersonaCreated, Payload: map[string]any{"persisted": false}})
		return &generated, nil
	}
	generated.ID = id
	env.Bus.Publish(bus.Event{Type: bus.PersonaCreated, Payload: map[string]any{"persona_id": id, "persisted": true}})
	return &generated, nil
}

func roleHintOrDefault(role string) string {
	if role == "" {
		return "generalist"
	}
	return role
}

// dnaProposal is the shape the inference client is asked to fill in when
// generating a new persona; malformed or missing output falls back to
// generic defaults rather than blocking the subtask.
type dnaProposal struct {
	Seniority     string            `json:"seniority"`
	Methodologies []string          `json:"methodologies"`
	Constraints   map[string]string `json:"constraints"`
	OutputFormat  map[string]string `json:"output_format"`
}

// generatePersona asks the inference client to propose the non-identity
// parts of a persona's DNA for req, falling back to sane defaults when the
// model is unavailable or its response doesn't parse.
func (o *Orchestrator) generatePersona(ctx context.Context, req personas.Requirements, log *zap.Logger) personas.Persona {
	proposal := dnaProposal{
		Seniority:    "mid",
		OutputFormat: map[string]string{"format": "markdown"},
	}

	if o.env.Inference != nil {
		prompt := fmt.Sprintf(
			"Propose a persona for a %q role working in the %q domain. "+
				"Respond with only a JSON object with keys seniority (junior/mid/senior/principal), "+
				"methodologies (array of strings), constraints (object of string to string), "+
				"output_format (object of string to string).",
			req.Role, req.Domain,
		)
		genCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		out, err := o.env.Inference.Chat(genCtx, o.env.Inference.ResolveModel(o.env.DefaultModelClass, nil),
			[]inference.Message{{Role: "user", Content: prompt}}, inference.Options{})
		cancel()
		if err != nil {
			log.Warn("persona DNA generation failed, using defaults", zap.Error(err))
		} else if parsed, ok := parseDNAProposal(out); ok {
			proposal = parsed
		}
	}

	return personas.Persona{
		Role:          req.Role,
		Seniority:     proposal.Seniority,
		Domain:        req.Domain,
		Methodologies: proposal.Methodologies,
		Constraints:   proposal.Constraints,
		OutputFormat:  proposal.OutputFormat,
		CreatedAt:     time.Now(),
	}
}

func parseDNAProposal(text string) (dnaProposal, bool) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return dnaProposal{}, false
	}
	var p dnaProposal
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return dnaProposal{}, false
	}
	if p.Seniority == "" {
		p.Seniority = "mid"
	}
	return p, true
}

// skipSummary reports which subtasks in order were skipped or failed, for
// inclusion ahead of a partial/cancelled/failed workflow's aggregated text.
func skipSummary(states map[string]*subtaskState, order []string) string {
	var b strings.Builder
	b.WriteString("Workflow did not complete all subtasks:\n")
	anySkipped := false
	for _, id := range order {
		st, ok := states[id]
		if !ok {
			continue
		}
		switch {
		case st.skipped:
			anySkipped = true
			fmt.Fprintf(&b, "- %s: skipped (upstream failure)\n", id)
		case st.err != nil:
			anySkipped = true
			fmt.Fprintf(&b, "- %s: failed (%v)\n", id, st.err)
		}
	}
	if !anySkipped {
		return "Workflow was cancelled before completion."
	}
	return strings.TrimSuffix(b.String(), "\n")
}
