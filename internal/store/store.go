// Package store is the typed persistence port of the engine, with a
// Postgres adapter for production and an in-memory twin for tests.
package store

import (
	"context"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status    domain.Status
	AgentID   string
	TaskType  domain.TaskType
	MissionID string
	Limit     int
}

// UpdateParams holds optional fields for an UpdateTask call.
type UpdateParams struct {
	TransitionReason string
}

// UpdateOption customises an UpdateTask call.
type UpdateOption func(*UpdateParams)

// WithTransitionReason records why the status changed, when it did.
func WithTransitionReason(reason string) UpdateOption {
	return func(p *UpdateParams) { p.TransitionReason = reason }
}

// ApplyUpdateOptions collects options into UpdateParams.
func ApplyUpdateOptions(opts []UpdateOption) UpdateParams {
	var p UpdateParams
	for _, fn := range opts {
		fn(&p)
	}
	return p
}

// AssignWrite is the unit applied by AssignTask: one file lock upsert per
// locked path plus the task and agent row updates, all in one transaction.
type AssignWrite struct {
	Task  *domain.Task
	Agent *domain.Agent
	Locks []domain.FileLock
}

// TaskStore persists tasks and their transition audit trail.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error

	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// UpdateTask overwrites the task row. When the status differs from the
	// stored row a transition record is written in the same transaction.
	UpdateTask(ctx context.Context, task *domain.Task, opts ...UpdateOption) error

	DeleteTask(ctx context.Context, taskID string) error

	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// NextPendingTask returns the single best pending task for the agent
	// type: requiredAgent matches or is empty, ordered by priority DESC
	// then createdAt ASC, skipping excluded ids. Returns NotFound when the
	// queue is empty.
	NextPendingTask(ctx context.Context, agentType domain.AgentType, exclude []string) (*domain.Task, error)

	// AssignTask applies the atomic pending->assigned write set. It fails
	// with Conflict when the task left pending state, and ResourceBusy
	// when a lock path is held by another live task.
	AssignTask(ctx context.Context, write AssignWrite) error

	Transitions(ctx context.Context, taskID string) ([]domain.Transition, error)

	// MarkStaleActive fails all assigned/in_progress tasks, used at boot
	// when in-memory slot state has been lost.
	MarkStaleActive(ctx context.Context, reason string) error
}

// AgentStore persists agents.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	UpdateAgent(ctx context.Context, agent *domain.Agent) error
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	// IdleAgents returns idle agents, optionally narrowed to one type.
	IdleAgents(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error)
}

// LockStore persists file locks. Linearizable upserts keyed on file path.
type LockStore interface {
	// UpsertLocks claims every path for the holding task. A path held by a
	// different task whose lock has not expired fails the whole batch with
	// ResourceBusy.
	UpsertLocks(ctx context.Context, locks []domain.FileLock) error

	DeleteLocksByTask(ctx context.Context, taskID string) error

	// ActiveLocks returns locks whose expiry is null or after now.
	ActiveLocks(ctx context.Context, now time.Time) ([]domain.FileLock, error)

	DeleteLock(ctx context.Context, filePath string) error

	DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error)
}

// ExecutionStore persists per-attempt records and step logs.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *domain.TaskExecution) error
	UpdateExecution(ctx context.Context, exec *domain.TaskExecution) error
	// ActiveExecution returns the started attempt for a task, NotFound if none.
	ActiveExecution(ctx context.Context, taskID string) (*domain.TaskExecution, error)
	ListExecutions(ctx context.Context, taskID string) ([]*domain.TaskExecution, error)

	AppendExecutionLog(ctx context.Context, entry *domain.ExecutionLog) error
	ExecutionLogs(ctx context.Context, taskID string) ([]*domain.ExecutionLog, error)
}

// ReviewStore persists code review verdicts.
type ReviewStore interface {
	CreateReview(ctx context.Context, review *domain.CodeReview) error
	ListReviews(ctx context.Context, taskID string) ([]*domain.CodeReview, error)
}

// Store is the full persistence adapter.
type Store interface {
	TaskStore
	AgentStore
	LockStore
	ExecutionStore
	ReviewStore

	// EnsureSchema creates or migrates the schema idempotently.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
