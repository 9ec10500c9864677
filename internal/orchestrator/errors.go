// Package orchestrator implements the Orchestrator: the top-level
// Execute call that strings together analysis, decomposition, planning,
// dispatch, evaluation, and aggregation into one workflow run, generalized
// from the teacher's orchestrator_router.go + supervisor_workflow.go
// (internal/workflows) down to a single in-process call tree with no
// durable-execution runtime underneath it.
package orchestrator

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed request: the caller's fault, mapped
// to HTTP 400 by the front-end.
type ValidationError struct {
	Field string
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %v", e.Field, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// DecompositionError reports that a task could not be turned into a
// runnable plan: the decomposer failed (e.g. no template for a non-simple
// task), a cyclic dependency, or an empty decomposition. The
// workflow fails before any subtask is dispatched; the front-end maps
// this to HTTP 422.
type DecompositionError struct {
	TaskID string
	Cause  error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("task %s could not be decomposed: %v", e.TaskID, e.Cause)
}

func (e *DecompositionError) Unwrap() error { return e.Cause }

// ErrEmptyDecomposition is the DecompositionError cause when a task
// analyzes to zero subtasks.
var ErrEmptyDecomposition = errors.New("decomposition produced no subtasks")

// ErrWorkflowCancelled is the Cause recorded on a WorkflowRecord whose
// context was cancelled by its caller before completion.
var ErrWorkflowCancelled = errors.New("workflow cancelled")

// ErrWorkflowTimeout is the Cause recorded on a WorkflowRecord that ran
// past its configured timeout.
var ErrWorkflowTimeout = errors.New("workflow exceeded its timeout")
