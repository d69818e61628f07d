package domain

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the state of one agent-facing attempt.
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "started"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionMetrics carries runtime-reported measurements for an attempt.
type ExecutionMetrics struct {
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TokensInput  int     `json:"tokens_input,omitempty"`
	TokensOutput int     `json:"tokens_output,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// TaskExecution is the per-attempt record. One row per agent-facing
// attempt; never mutated after reaching a terminal status.
type TaskExecution struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"task_id"`
	AgentID     string           `json:"agent_id"`
	Iteration   int              `json:"iteration"`
	Status      ExecutionStatus  `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Metrics     ExecutionMetrics `json:"metrics"`
	Input       json.RawMessage  `json:"input,omitempty"`
	Output      json.RawMessage  `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ExecutionLog is one step the agent took within an attempt. Consumed by
// the post-hoc complexity calculation and code review.
type ExecutionLog struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	TaskID      string    `json:"task_id"`
	StepIndex   int       `json:"step_index"`
	Thought     string    `json:"thought,omitempty"`
	Action      string    `json:"action,omitempty"`
	Input       string    `json:"input,omitempty"`
	Observation string    `json:"observation,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	IsLoop      bool      `json:"is_loop"`
	CreatedAt   time.Time `json:"created_at"`
}
