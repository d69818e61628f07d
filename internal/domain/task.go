// Package domain defines the entities of the orchestration engine: tasks,
// agents, file locks, execution records, code reviews and lifecycle events.
package domain

import (
	"time"
)

// TaskType categorizes the work a task asks for.
type TaskType string

const (
	TaskTypeCode     TaskType = "code"
	TaskTypeTest     TaskType = "test"
	TaskTypeReview   TaskType = "review"
	TaskTypeDebug    TaskType = "debug"
	TaskTypeRefactor TaskType = "refactor"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
	StatusNeedsHuman Status = "needs_human"
	// StatusFailed is reached only through the code review gate when a
	// hosted-tier review rejects completed work and no further automatic
	// escalation exists.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusFailed:
		return true
	default:
		return false
	}
}

// Active reports whether a task in this status holds an agent, its file
// locks and possibly a resource slot.
func (s Status) Active() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusNeedsHuman:
		return true
	default:
		return false
	}
}

// rank orders statuses for the monotonicity invariant. The retry edge
// (in_progress -> assigned) and the human loop (needs_human <-> assigned)
// are the only allowed reversals.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAssigned:
		return 1
	case StatusInProgress:
		return 2
	case StatusNeedsHuman:
		return 2
	case StatusCompleted, StatusAborted, StatusFailed:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether the edge from -> to exists in the task
// state machine.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusAssigned
	case StatusAssigned:
		return to == StatusInProgress || to == StatusPending || to == StatusNeedsHuman
	case StatusInProgress:
		switch to {
		case StatusCompleted, StatusAborted, StatusNeedsHuman, StatusAssigned:
			return true
		}
		return false
	case StatusNeedsHuman:
		return to == StatusAssigned || to == StatusAborted
	case StatusCompleted:
		// Review escalation may re-queue completed work or fail it outright.
		return to == StatusPending || to == StatusFailed
	default:
		return false
	}
}

// ComplexitySource tracks the provenance of a task's complexity score.
type ComplexitySource string

const (
	ComplexityFromRouter ComplexitySource = "router"
	ComplexityFromHaiku  ComplexitySource = "haiku"
	ComplexityFromDual   ComplexitySource = "dual"
	ComplexityFromActual ComplexitySource = "actual"
)

// ErrorCategory buckets terminal failures for reporting.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategorySyntax      ErrorCategory = "syntax"
	ErrorCategoryImportError ErrorCategory = "import_error"
	ErrorCategoryOther       ErrorCategory = "other"
)

// Tier names an execution model tier on the cost ladder.
type Tier string

const (
	TierOllama Tier = "ollama"
	TierHaiku  Tier = "haiku"
	TierSonnet Tier = "sonnet"
	TierOpus   Tier = "opus"
)

// ResourceType names a shared compute slot class.
type ResourceType string

const (
	ResourceOllama ResourceType = "ollama"
	ResourceClaude ResourceType = "claude"
)

// ResourceForTier maps an execution tier onto the slot class it consumes.
func ResourceForTier(tier Tier) ResourceType {
	if tier == TierOllama {
		return ResourceOllama
	}
	return ResourceClaude
}

// Task is the unit of work flowing through the engine.
type Task struct {
	ID          string   `json:"id"`
	MissionID   string   `json:"mission_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TaskType    TaskType `json:"task_type"`
	Priority    int      `json:"priority"` // 1-10, 10 highest
	Language    string   `json:"language,omitempty"`

	MaxIterations    int `json:"max_iterations"`
	CurrentIteration int `json:"current_iteration"`

	LockedFiles       []string `json:"locked_files,omitempty"`
	ValidationCommand string   `json:"validation_command,omitempty"`

	// Routing
	Complexity          float64          `json:"complexity,omitempty"`
	ComplexitySource    ComplexitySource `json:"complexity_source,omitempty"`
	ComplexityReasoning string           `json:"complexity_reasoning,omitempty"`
	RequiredAgent       AgentType        `json:"required_agent,omitempty"`
	PreferredModel      Tier             `json:"preferred_model,omitempty"`

	// Assignment
	Status           Status        `json:"status"`
	AssignedAgentID  string        `json:"assigned_agent_id,omitempty"`
	AssignedAt       *time.Time    `json:"assigned_at,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorCategory    ErrorCategory `json:"error_category,omitempty"`
	Result           TaskResult    `json:"result,omitempty"`
	NeedsHumanReview bool          `json:"needs_human_review,omitempty"`
	ReviewContext    string        `json:"review_context,omitempty"`

	// Accounting
	APICreditsUsed float64 `json:"api_credits_used"`
	TimeSpentMs    int64   `json:"time_spent_ms"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DefaultMaxIterations applies when a task is created without a cap.
const DefaultMaxIterations = 3

// Clone returns a deep copy safe to mutate independently.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	dup := *t
	if t.LockedFiles != nil {
		dup.LockedFiles = append([]string(nil), t.LockedFiles...)
	}
	if t.Result != nil {
		dup.Result = append(TaskResult(nil), t.Result...)
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		dup.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		dup.CompletedAt = &at
	}
	return &dup
}

// Transition records a task status change for the audit trail.
type Transition struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MonotonicityViolated reports whether moving from -> to decreases the
// lifecycle partial order outside the allowed reverse edges.
func MonotonicityViolated(from, to Status) bool {
	// Allowed reversals: retry edge and the human loop.
	if from == StatusInProgress && to == StatusAssigned {
		return false
	}
	if from == StatusNeedsHuman && to == StatusAssigned {
		return false
	}
	if from == StatusAssigned && to == StatusNeedsHuman {
		return false
	}
	// Review escalation re-queue is an explicit post-terminal edge.
	if from == StatusCompleted && (to == StatusPending || to == StatusFailed) {
		return false
	}
	return to.rank() < from.rank()
}
