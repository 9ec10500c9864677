package memory

import (
	"errors"
	"time"
)

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrWorkflowRecordNotFound is returned when a workflow record lookup misses.
	ErrWorkflowRecordNotFound = errors.New("workflow record not found")
)

// Turn is one exchange in a conversation's sliding window.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a bounded FIFO of turns scoped to one task/session id.
type Conversation struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubtaskScore is the per-subtask score recorded alongside a workflow record.
type SubtaskScore struct {
	SubtaskID    string  `json:"subtask_id"`
	Quality      float64 `json:"quality"`
	Completeness float64 `json:"completeness"`
	Success      float64 `json:"success"`
	Overall      float64 `json:"overall"`
}

// WorkflowRecord is the persisted outcome of one top-level task.
type WorkflowRecord struct {
	TaskID         string         `json:"task_id"`
	TaskText       string         `json:"task_text"`
	Domains        []string       `json:"domains"`
	Complexity     string         `json:"complexity"`
	SubtaskIDs     []string       `json:"subtask_ids"` // plan order
	FinalOutput    string         `json:"final_output"`
	Status         string         `json:"status"` // completed/partial/failed/cancelled
	Scores         []SubtaskScore `json:"scores"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	CompletedAt    time.Time      `json:"completed_at"`
	WallClockMs    int64          `json:"wall_clock_ms"`
}
