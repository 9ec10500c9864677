// Package agent implements the Agent: a one-shot, ephemeral executor that
// binds a persona to an inference client and runs a single subtask. It
// holds no state between subtasks and is never retried — the orchestrator
// models a retry as a new subtask entirely, the way the teacher's
// activities are stateless functions invoked fresh per call.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/taskmesh/orchestrator/internal/inference"
	"github.com/taskmesh/orchestrator/internal/personas"
)

// Chatter is the subset of the inference client an Agent depends on.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []inference.Message, opts inference.Options) (string, error)
}

// PrerequisiteOutput is one upstream subtask's result, serialized into the
// prompt ahead of the current subtask's description.
type PrerequisiteOutput struct {
	SubtaskID   string
	Description string
	Output      string
}

// HistoryTurn is one prior conversational exchange, serialized into the
// prompt ahead of the current subtask so an agent answers with the same
// short-term context a human operator would have.
type HistoryTurn struct {
	Role string
	Text string
}

// Agent binds a persona snapshot to an inference client for the duration
// of one subtask. Construct a fresh Agent per dispatch; discard it once
// the subtask terminates.
type Agent struct {
	persona           personas.DNA
	client            Chatter
	model             string
	personalityPrefix string
	options           inference.Options
}

// New creates an Agent. persona is a read-only DNA snapshot, matching the
// spec's rule that agents never mutate persisted persona state directly.
func New(persona personas.DNA, client Chatter, model, personalityPrefix string, options inference.Options) *Agent {
	return &Agent{
		persona:           persona,
		client:            client,
		model:             model,
		personalityPrefix: personalityPrefix,
		options:           options,
	}
}

// Execute runs the subtask to completion and returns the model's raw
// output. It performs exactly one inference call; callers decide what a
// failure means for the subtask's state. history carries the short-term
// conversational context for the task's session, oldest turn first.
func (a *Agent) Execute(ctx context.Context, subtaskDescription string, history []HistoryTurn, prerequisites []PrerequisiteOutput) (string, error) {
	prompt := a.buildPrompt(subtaskDescription, history, prerequisites)
	messages := []inference.Message{{Role: "user", Content: prompt}}

	out, err := a.client.Chat(ctx, a.model, messages, a.options)
	if err != nil {
		return "", fmt.Errorf("agent execution failed: %w", err)
	}
	return out, nil
}

// buildPrompt concatenates, in order: the persona preamble, the
// personality prefix, the short-term conversation history, a serialized
// list of prerequisite outputs, the subtask description, and a trailer
// requesting a structured response.
func (a *Agent) buildPrompt(subtaskDescription string, history []HistoryTurn, prerequisites []PrerequisiteOutput) string {
	var b strings.Builder

	b.WriteString(a.personaPreamble())
	b.WriteString("\n\n")

	if a.personalityPrefix != "" {
		b.WriteString(a.personalityPrefix)
		b.WriteString("\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "- %s: %s\n", t.Role, t.Text)
		}
		b.WriteString("\n")
	}

	if len(prerequisites) > 0 {
		b.WriteString("Prior subtask results:\n")
		for _, p := range prerequisites {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", p.SubtaskID, p.Description, p.Output)
		}
		b.WriteString("\n")
	}

	b.WriteString("Task:\n")
	b.WriteString(subtaskDescription)
	b.WriteString("\n\n")

	b.WriteString(a.responseTrailer())
	return b.String()
}

func (a *Agent) personaPreamble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s %s working in the %s domain.", a.persona.Seniority, a.persona.Role, a.persona.Domain)

	if len(a.persona.Methodologies) > 0 {
		fmt.Fprintf(&b, " You follow these methodologies: %s.", strings.Join(a.persona.Methodologies, ", "))
	}

	if len(a.persona.Constraints) > 0 {
		b.WriteString(" Constraints: ")
		b.WriteString(formatSortedMap(a.persona.Constraints))
		b.WriteString(".")
	}
	return b.String()
}

func (a *Agent) responseTrailer() string {
	if len(a.persona.OutputFormat) == 0 {
		return "Respond with the completed work product directly, no commentary."
	}
	return "Respond following this output format exactly: " + formatSortedMap(a.persona.OutputFormat) + "."
}

func formatSortedMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
