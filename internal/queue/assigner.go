// Package queue picks tasks for agents and agents for tasks, and owns
// the pending -> assigned transition. Assignment is atomic with file
// lock acquisition; resource slots are taken on the parallel path only.
package queue

import (
	"context"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/locks"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/pool"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/router"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

// Assigner wires selection and assignment together.
type Assigner struct {
	store  store.Store
	locks  *locks.Manager
	pool   *pool.ResourcePool
	router *router.Router
	bridge *events.Bridge
	logger logging.Logger
}

// New creates an Assigner.
func New(st store.Store, lm *locks.Manager, rp *pool.ResourcePool, rt *router.Router, bridge *events.Bridge, logger logging.Logger) *Assigner {
	return &Assigner{
		store:  st,
		locks:  lm,
		pool:   rp,
		router: rt,
		bridge: bridge,
		logger: logging.OrNop(logger),
	}
}

// Snapshot is the queue overview for the HTTP surface.
type Snapshot struct {
	Pending    []*domain.Task    `json:"pending"`
	Active     []*domain.Task    `json:"active"`
	IdleAgents []*domain.Agent   `json:"idle_agents"`
	Locks      []domain.FileLock `json:"locks"`
}

// Snapshot collects pending tasks, active tasks, and idle agents.
func (a *Assigner) Snapshot(ctx context.Context) (*Snapshot, error) {
	pending, err := a.store.ListTasks(ctx, store.TaskFilter{Status: domain.StatusPending})
	if err != nil {
		return nil, err
	}
	var active []*domain.Task
	for _, status := range []domain.Status{domain.StatusAssigned, domain.StatusInProgress} {
		batch, err := a.store.ListTasks(ctx, store.TaskFilter{Status: status})
		if err != nil {
			return nil, err
		}
		active = append(active, batch...)
	}
	idle, err := a.store.IdleAgents(ctx, "")
	if err != nil {
		return nil, err
	}
	lockRows, err := a.locks.LockedFiles(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Pending: pending, Active: active, IdleAgents: idle, Locks: lockRows}, nil
}

// AssignNextTask picks the best pending task for the agent and assigns
// it. A busy agent or an empty queue yields (nil, nil); the caller
// treats that as "nothing to do".
func (a *Assigner) AssignNextTask(ctx context.Context, agentID string) (*domain.Task, error) {
	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != domain.AgentIdle {
		return nil, nil
	}

	task, err := a.nextEligibleTask(ctx, agent.Type, nil)
	if err != nil || task == nil {
		return nil, err
	}
	return a.AssignTask(ctx, task.ID, agentID)
}

// nextEligibleTask walks the pending queue in priority order, skipping
// tasks whose locked files intersect the live lock set.
func (a *Assigner) nextEligibleTask(ctx context.Context, agentType domain.AgentType, exclude []string) (*domain.Task, error) {
	for {
		task, err := a.store.NextPendingTask(ctx, agentType, exclude)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		conflicts, err := a.locks.Conflicts(ctx, task.ID, task.LockedFiles)
		if err != nil {
			return nil, err
		}
		if len(conflicts) == 0 {
			return task, nil
		}
		a.logger.Debug("task %s skipped, %d locked paths in use", task.ID, len(conflicts))
		exclude = append(exclude, task.ID)
	}
}

// AssignTask performs the atomic pending -> assigned write set and emits
// the associated events. Emission happens only after the write commits.
func (a *Assigner) AssignTask(ctx context.Context, taskID, agentID string) (*domain.Task, error) {
	task, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.StatusPending && task.Status != domain.StatusAssigned {
		return nil, errors.E(errors.KindConflict, "task %s is %s, not pending", taskID, task.Status)
	}
	if agent.Status.Occupied() {
		return nil, errors.E(errors.KindConflict, "agent %s is %s", agentID, agent.Status)
	}

	now := time.Now()
	task.Status = domain.StatusAssigned
	task.AssignedAgentID = agent.ID
	task.AssignedAt = &now
	agent.Status = domain.AgentBusy
	agent.CurrentTaskID = task.ID

	write := store.AssignWrite{
		Task:  task,
		Agent: agent,
		Locks: a.locks.Build(task.ID, agent.ID, task.LockedFiles),
	}
	if err := a.store.AssignTask(ctx, write); err != nil {
		return nil, err
	}

	a.bridge.Emit(domain.NewEvent(domain.EventTaskUpdated, task.ID, task))
	a.bridge.Emit(domain.NewEvent(domain.EventAgentStatusChanged, task.ID, agent))
	a.bridge.Emit(domain.NewEvent(domain.EventTaskAssigned, task.ID, task))
	a.logger.Info("task %s assigned to agent %s", task.ID, agent.ID)
	return task, nil
}

// SmartAssign routes the best pending task through the Router and
// assigns it to the proposed agent.
func (a *Assigner) SmartAssign(ctx context.Context) (*domain.Task, *router.Decision, error) {
	idle, err := a.store.IdleAgents(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	if len(idle) == 0 {
		return nil, nil, errors.E(errors.KindResourceBusy, "all agents busy")
	}

	task, err := a.nextEligibleTask(ctx, "", nil)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, nil
	}

	decision, err := a.router.Route(ctx, task, idle)
	if err != nil {
		return nil, nil, err
	}
	assigned, err := a.AssignTask(ctx, task.ID, decision.AgentID)
	if err != nil {
		return nil, nil, err
	}
	return assigned, &decision, nil
}

// ParallelAssign fans out: it walks candidates by priority and assigns
// the first one whose resource slot, file locks, and agent are all
// available. Candidates that cannot proceed are skipped without any
// state mutation. Returns (nil, nil, nil) when no candidate fits.
func (a *Assigner) ParallelAssign(ctx context.Context) (*domain.Task, *router.Decision, error) {
	idle, err := a.store.IdleAgents(ctx, "")
	if err != nil {
		return nil, nil, err
	}

	var exclude []string
	for {
		task, err := a.nextEligibleTask(ctx, "", exclude)
		if err != nil {
			return nil, nil, err
		}
		if task == nil {
			return nil, nil, nil
		}
		exclude = append(exclude, task.ID)

		decision, err := a.router.Route(ctx, task, idle)
		if err != nil {
			if errors.IsResourceBusy(err) {
				continue
			}
			return nil, nil, err
		}

		resource := domain.ResourceForTier(decision.Tier)
		if err := a.pool.Acquire(resource, task.ID); err != nil {
			a.logger.Debug("task %s skipped, %s", task.ID, err)
			continue
		}

		assigned, err := a.AssignTask(ctx, task.ID, decision.AgentID)
		if err != nil {
			a.pool.Release(resource, task.ID)
			if errors.IsConflict(err) || errors.IsResourceBusy(err) {
				continue
			}
			return nil, nil, err
		}
		return assigned, &decision, nil
	}
}
