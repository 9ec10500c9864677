// Package aggregator implements the Result Aggregator: it combines the
// per-subtask outputs of a completed plan into a single result, in plan
// order rather than completion order, generalized from the teacher's
// synthesis pipeline (internal/activities/synthesis.go,
// SynthesisInput/SynthesisResult in internal/activities/types.go) down
// to a deterministic, format-driven composition with no LLM call of its
// own — the Agent layer already produced the prose for each subtask.
package aggregator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format selects how Aggregate composes the per-subtask outputs.
type Format string

const (
	// Summary concatenates subtask outputs under short headings.
	Summary Format = "summary"
	// Detailed emits the full text of every subtask under a heading,
	// including subtasks that failed. This is the default format.
	Detailed Format = "detailed"
	// JSON emits a structured envelope suitable for machine consumers.
	JSON Format = "json"
)

// SubtaskResult is one subtask's contribution to the aggregate.
type SubtaskResult struct {
	SubtaskID   string
	Description string
	Domain      string
	Output      string
	Success     bool
	Error       string
}

// PlanView is the minimal shape Aggregate needs from an execution plan:
// the subtask order to aggregate by, independent of completion order.
type PlanView struct {
	TaskID string
	Order  []string
}

// Aggregated is the composed result of a plan's execution.
type Aggregated struct {
	TaskID       string
	Format       Format
	Text         string
	SubtaskCount int
	FailedCount  int
}

// Aggregate combines subtaskOutputs into a single result, ordered by
// plan.Order rather than by completion time. Outputs missing from
// subtaskOutputs are skipped; format defaults to Detailed when empty or
// unrecognized.
func Aggregate(plan PlanView, subtaskOutputs map[string]SubtaskResult, format Format) (Aggregated, error) {
	switch format {
	case Summary, Detailed, JSON:
	default:
		format = Detailed
	}

	ordered := make([]SubtaskResult, 0, len(plan.Order))
	failed := 0
	for _, id := range plan.Order {
		res, ok := subtaskOutputs[id]
		if !ok {
			continue
		}
		ordered = append(ordered, res)
		if !res.Success {
			failed++
		}
	}

	var text string
	var err error
	switch format {
	case Summary:
		text = renderSummary(ordered)
	case JSON:
		text, err = renderJSON(plan, ordered, failed)
	default:
		text = renderDetailed(ordered)
	}
	if err != nil {
		return Aggregated{}, err
	}

	return Aggregated{
		TaskID:       plan.TaskID,
		Format:       format,
		Text:         text,
		SubtaskCount: len(ordered),
		FailedCount:  failed,
	}, nil
}

func renderSummary(results []SubtaskResult) string {
	var b strings.Builder
	for i, r := range results {
		heading := r.SubtaskID
		if r.Description != "" {
			heading = r.Description
		}
		fmt.Fprintf(&b, "## %s\n", heading)
		if r.Success {
			b.WriteString(firstParagraph(r.Output))
		} else {
			fmt.Fprintf(&b, "failed: %s", r.Error)
		}
		if i < len(results)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func renderDetailed(results []SubtaskResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "## %s", r.SubtaskID)
		if r.Domain != "" {
			fmt.Fprintf(&b, " (%s)", r.Domain)
		}
		b.WriteString("\n")
		if r.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", r.Description)
		}
		if r.Success {
			b.WriteString(r.Output)
		} else {
			fmt.Fprintf(&b, "FAILED: %s", r.Error)
		}
		if i < len(results)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

type jsonEnvelope struct {
	TaskID   string             `json:"task_id"`
	Subtasks []jsonSubtaskEntry `json:"subtasks"`
	Total    int                `json:"total"`
	Failed   int                `json:"failed"`
}

type jsonSubtaskEntry struct {
	SubtaskID   string `json:"subtask_id"`
	Description string `json:"description,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Success     bool   `json:"success"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

func renderJSON(plan PlanView, results []SubtaskResult, failed int) (string, error) {
	env := jsonEnvelope{
		TaskID: plan.TaskID,
		Total:  len(results),
		Failed: failed,
	}
	for _, r := range results {
		env.Subtasks = append(env.Subtasks, jsonSubtaskEntry{
			SubtaskID:   r.SubtaskID,
			Description: r.Description,
			Domain:      r.Domain,
			Success:     r.Success,
			Output:      r.Output,
			Error:       r.Error,
		})
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("aggregate: marshal json envelope: %w", err)
	}
	return string(out), nil
}

// firstParagraph returns the text up to the first blank line, used by the
// summary format to keep each subtask's contribution short.
func firstParagraph(text string) string {
	if i := strings.Index(text, "\n\n"); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return strings.TrimSpace(text)
}
