// Package executor drives task attempts end to end: the runtime RPC,
// the validation retry ladder, resource cleanup on every terminal path,
// and the local-tier cooldown.
package executor

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/agentrpc"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/locks"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/pool"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/workspace"
)

// ReviewGate is consulted after a successful completion. Implemented by
// the review sampler; invoked fire-and-forget.
type ReviewGate interface {
	OnTaskCompleted(task *domain.Task, executedTier domain.Tier)
}

// AutoAssigner picks up the next task for a newly idle agent.
type AutoAssigner interface {
	AssignNextTask(ctx context.Context, agentID string) (*domain.Task, error)
}

// Executor owns the in_progress lifecycle.
type Executor struct {
	store     store.Store
	locks     *locks.Manager
	pool      *pool.ResourcePool
	bridge    *events.Bridge
	local     agentrpc.Runtime
	remote    agentrpc.Runtime // optional larger local-style endpoint
	hosted    agentrpc.Runtime
	workspace *workspace.Writer
	review    ReviewGate
	assigner  AutoAssigner
	retryCfg  config.RetryConfig
	execCfg   config.ExecutorConfig
	logger    logging.Logger

	mu            sync.Mutex
	localRunCount int

	// test seams
	sleep func(ctx context.Context, d time.Duration)
}

// Deps bundles the executor's collaborators.
type Deps struct {
	Store     store.Store
	Locks     *locks.Manager
	Pool      *pool.ResourcePool
	Bridge    *events.Bridge
	Local     agentrpc.Runtime
	Remote    agentrpc.Runtime
	Hosted    agentrpc.Runtime
	Workspace *workspace.Writer
	Review    ReviewGate
	Assigner  AutoAssigner
	Logger    logging.Logger
}

// New creates an Executor.
func New(deps Deps, retryCfg config.RetryConfig, execCfg config.ExecutorConfig) *Executor {
	return &Executor{
		store:     deps.Store,
		locks:     deps.Locks,
		pool:      deps.Pool,
		bridge:    deps.Bridge,
		local:     deps.Local,
		remote:    deps.Remote,
		hosted:    deps.Hosted,
		workspace: deps.Workspace,
		review:    deps.Review,
		assigner:  deps.Assigner,
		retryCfg:  retryCfg,
		execCfg:   execCfg,
		logger:    logging.OrNop(deps.Logger),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// HandleTaskStart moves assigned -> in_progress, bumps the iteration and
// opens a TaskExecution row. Re-entering for the same iteration (e.g. a
// duplicated start signal) is a no-op.
func (e *Executor) HandleTaskStart(ctx context.Context, taskID string) (*domain.TaskExecution, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == domain.StatusInProgress {
		if exec, err := e.store.ActiveExecution(ctx, taskID); err == nil && exec.Iteration == task.CurrentIteration {
			return exec, nil
		}
	}
	if task.Status != domain.StatusAssigned {
		return nil, errors.E(errors.KindConflict, "task %s is %s, not assigned", taskID, task.Status)
	}

	task.Status = domain.StatusInProgress
	task.CurrentIteration++
	if err := e.store.UpdateTask(ctx, task, store.WithTransitionReason("attempt started")); err != nil {
		return nil, err
	}

	exec := &domain.TaskExecution{
		TaskID:    task.ID,
		AgentID:   task.AssignedAgentID,
		Iteration: task.CurrentIteration,
		Status:    domain.ExecutionStarted,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	e.bridge.Emit(domain.NewEvent(domain.EventTaskUpdated, task.ID, task))
	e.logger.Info("task %s started, iteration %d", task.ID, task.CurrentIteration)
	return exec, nil
}

// Execute runs one full agent-facing attempt for an assigned task.
func (e *Executor) Execute(ctx context.Context, taskID string, tier domain.Tier, contextWindow int) error {
	exec, err := e.HandleTaskStart(ctx, taskID)
	if err != nil {
		return err
	}
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	runtime := e.runtimeFor(tier)
	started := time.Now()
	result, err := runtime.Execute(ctx, agentrpc.ExecuteRequest{
		TaskID:        task.ID,
		Description:   task.Description,
		Language:      task.Language,
		Tier:          tier,
		ContextWindow: contextWindow,
	})
	if err != nil {
		return e.HandleTaskFailure(ctx, taskID, err.Error())
	}
	e.persistSteps(ctx, exec, result.Steps)

	retries := 0
	if task.ValidationCommand != "" && e.retryCfg.Enabled {
		ladder := e.runLadder(ctx, task, tier)
		retries = ladder.Attempts
		if !ladder.Validated {
			return e.HandleTaskFailure(ctx, taskID, ladder.FinalError)
		}
		if ladder.Result != nil {
			result = ladder.Result
		}
	}

	elapsed := time.Since(started)
	return e.handleCompletion(ctx, taskID, result.Output, tier, retries, elapsed)
}

// HandleTaskCompletion finalizes a successful attempt. Exposed for the
// HTTP surface where the runtime reports results asynchronously.
func (e *Executor) HandleTaskCompletion(ctx context.Context, taskID string, result domain.TaskResult) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	// Infer the executed tier: the held slot class is authoritative,
	// the task's preferred model is the fallback when no slot is held.
	tier := domain.TierOllama
	if resource, ok := e.pool.Holds(taskID); ok {
		if resource == domain.ResourceClaude {
			tier = domain.TierHaiku
		}
	} else if task.PreferredModel != "" {
		tier = task.PreferredModel
	}
	return e.handleCompletion(ctx, taskID, result, tier, 0, 0)
}

func (e *Executor) handleCompletion(ctx context.Context, taskID string, result domain.TaskResult, tier domain.Tier, retries int, elapsed time.Duration) error {
	// Safety net: an agent that says "success" while its own test output
	// says otherwise is treated as a failure.
	if failed, reason := result.ReportsFailure(); failed {
		e.logger.Warn("task %s reported success but failed its own checks: %s", taskID, reason)
		return e.HandleTaskFailure(ctx, taskID, reason)
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.StatusInProgress {
		return errors.E(errors.KindConflict, "task %s is %s, not in_progress", taskID, task.Status)
	}

	if err := e.locks.ReleaseFileLocks(ctx, taskID); err != nil {
		e.logger.Warn("release locks for %s: %v", taskID, err)
	}
	e.pool.ReleaseAll(taskID)

	if e.workspace != nil {
		if _, err := e.workspace.SaveTaskOutput(task, result.Output()); err != nil {
			// Workspace persistence is best-effort.
			e.logger.Warn("persist output for %s: %v", taskID, err)
		}
	}

	logs, _ := e.store.ExecutionLogs(ctx, taskID)
	actual := ActualComplexity(logs, retries)

	now := time.Now()
	agentID := task.AssignedAgentID
	task.Status = domain.StatusCompleted
	task.Result = result
	task.CompletedAt = &now
	task.Complexity = actual
	task.ComplexitySource = domain.ComplexityFromActual
	task.Error = ""
	task.AssignedAgentID = ""
	task.TimeSpentMs += elapsed.Milliseconds()
	if err := e.store.UpdateTask(ctx, task, store.WithTransitionReason("attempt succeeded")); err != nil {
		return err
	}

	if exec, err := e.store.ActiveExecution(ctx, taskID); err == nil {
		exec.Status = domain.ExecutionCompleted
		exec.CompletedAt = &now
		exec.Output = []byte(result)
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.logger.Warn("close execution for %s: %v", taskID, err)
		}
	}

	e.finishAgent(ctx, task, agentID, tier, true)

	e.bridge.Emit(domain.NewEvent(domain.EventTaskCompleted, task.ID, task))
	e.logger.Info("task %s completed (actual complexity %.1f)", task.ID, actual)

	if e.review != nil {
		completed := task.Clone()
		go e.review.OnTaskCompleted(completed, tier)
	}
	e.autoAssign(ctx, agentID)
	return nil
}

// HandleTaskFailure records a failed attempt. Below the iteration cap
// the task returns to assigned for a retry, keeping its agent and locks;
// at the cap it aborts.
func (e *Executor) HandleTaskFailure(ctx context.Context, taskID, errMsg string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	// Terminal states are absorbing; a late or duplicate failure report
	// must not resurrect finished work.
	if task.Status != domain.StatusInProgress {
		return errors.E(errors.KindConflict, "task %s is %s, not in_progress", taskID, task.Status)
	}

	if exec, err := e.store.ActiveExecution(ctx, taskID); err == nil {
		now := time.Now()
		exec.Status = domain.ExecutionFailed
		exec.CompletedAt = &now
		exec.Error = errMsg
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.logger.Warn("fail execution for %s: %v", taskID, err)
		}
	}

	if task.CurrentIteration < task.MaxIterations {
		task.Status = domain.StatusAssigned
		task.Error = errMsg
		if err := e.store.UpdateTask(ctx, task, store.WithTransitionReason("attempt failed, retrying")); err != nil {
			return err
		}
		e.bridge.Emit(domain.NewEvent(domain.EventTaskUpdated, task.ID, task))
		e.logger.Info("task %s failed attempt %d/%d, requeued for retry", taskID, task.CurrentIteration, task.MaxIterations)
		return nil
	}
	return e.AbortTask(ctx, taskID, errMsg)
}

// AbortTask is the terminal failure path: all resources released, error
// categorized, agent freed.
func (e *Executor) AbortTask(ctx context.Context, taskID, errMsg string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.StatusInProgress {
		return errors.E(errors.KindConflict, "task %s is %s, not in_progress", taskID, task.Status)
	}

	if err := e.locks.ReleaseFileLocks(ctx, taskID); err != nil {
		e.logger.Warn("release locks for %s: %v", taskID, err)
	}
	e.pool.ReleaseAll(taskID)

	logs, _ := e.store.ExecutionLogs(ctx, taskID)

	task.Status = domain.StatusAborted
	task.Error = errMsg
	task.ErrorCategory = CategorizeError(errMsg, logs)
	task.Complexity = ActualComplexity(logs, task.CurrentIteration)
	task.ComplexitySource = domain.ComplexityFromActual
	agentID := task.AssignedAgentID
	task.AssignedAgentID = ""
	if err := e.store.UpdateTask(ctx, task, store.WithTransitionReason("aborted: "+errMsg)); err != nil {
		return err
	}

	if exec, err := e.store.ActiveExecution(ctx, taskID); err == nil {
		now := time.Now()
		exec.Status = domain.ExecutionFailed
		exec.CompletedAt = &now
		exec.Error = errMsg
		if err := e.store.UpdateExecution(ctx, exec); err != nil {
			e.logger.Warn("fail execution for %s: %v", taskID, err)
		}
	}

	if agentID != "" {
		if agent, err := e.store.GetAgent(ctx, agentID); err == nil {
			agent.Status = domain.AgentIdle
			agent.CurrentTaskID = ""
			agent.Stats.TasksFailed++
			agent.Stats.Recalculate()
			if err := e.store.UpdateAgent(ctx, agent); err != nil {
				e.logger.Warn("free agent %s: %v", agentID, err)
			} else {
				e.bridge.Emit(domain.NewEvent(domain.EventAgentStatusChanged, taskID, agent))
			}
		}
	}

	e.bridge.Emit(domain.NewEvent(domain.EventTaskFailed, task.ID, task))
	e.bridge.Emit(domain.NewEvent(domain.EventAlert, task.ID, domain.AlertPayload{
		Severity: domain.AlertError,
		Message:  "task aborted: " + errMsg,
		TaskID:   task.ID,
		AgentID:  agentID,
	}))
	e.logger.Warn("task %s aborted: %s", taskID, errMsg)
	return nil
}

// finishAgent updates agent stats and status after a completion, with
// the local-tier cooldown applied before the agent is re-marked idle.
func (e *Executor) finishAgent(ctx context.Context, task *domain.Task, agentID string, tier domain.Tier, succeeded bool) {
	if agentID == "" {
		return
	}
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		e.logger.Warn("load agent %s: %v", agentID, err)
		return
	}

	if tier == domain.TierOllama {
		e.cooldown(ctx)
	}

	agent.Status = domain.AgentIdle
	agent.CurrentTaskID = ""
	if succeeded {
		agent.Stats.TasksCompleted++
	} else {
		agent.Stats.TasksFailed++
	}
	agent.Stats.TotalTimeMs += task.TimeSpentMs
	agent.Stats.Recalculate()
	if err := e.store.UpdateAgent(ctx, agent); err != nil {
		e.logger.Warn("update agent %s: %v", agent.ID, err)
		return
	}
	e.bridge.Emit(domain.NewEvent(domain.EventAgentStatusChanged, task.ID, agent))
}

// cooldown rests the local runtime between runs and resets its context
// every Nth run to avoid context pollution.
func (e *Executor) cooldown(ctx context.Context) {
	min, max := e.execCfg.CooldownMin, e.execCfg.CooldownMax
	if max > min {
		e.sleep(ctx, min+time.Duration(rand.Int63n(int64(max-min))))
	} else if min > 0 {
		e.sleep(ctx, min)
	}

	e.mu.Lock()
	e.localRunCount++
	due := e.execCfg.ContextResetInterval > 0 && e.localRunCount%e.execCfg.ContextResetInterval == 0
	e.mu.Unlock()

	if due && e.local != nil {
		if err := e.local.Reset(ctx); err != nil {
			e.logger.Warn("runtime context reset: %v", err)
		}
	}
}

func (e *Executor) autoAssign(ctx context.Context, agentID string) {
	if e.assigner == nil || agentID == "" {
		return
	}
	if _, err := e.assigner.AssignNextTask(ctx, agentID); err != nil {
		e.logger.Debug("auto-assign for %s: %v", agentID, err)
	}
}

func (e *Executor) persistSteps(ctx context.Context, exec *domain.TaskExecution, steps []domain.ExecutionLog) {
	for i := range steps {
		step := steps[i]
		step.ExecutionID = exec.ID
		step.TaskID = exec.TaskID
		if err := e.store.AppendExecutionLog(ctx, &step); err != nil {
			e.logger.Warn("append execution log: %v", err)
			return
		}
		e.bridge.Emit(domain.NewEvent(domain.EventExecutionStep, exec.TaskID, step))
	}
}

func (e *Executor) runtimeFor(tier domain.Tier) agentrpc.Runtime {
	if tier == domain.TierOllama {
		return e.local
	}
	if e.hosted != nil {
		return e.hosted
	}
	return e.local
}

// CategorizeError maps a failure message and the step log onto the
// coarse error taxonomy used for metrics and retry decisions.
func CategorizeError(errMsg string, logs []*domain.ExecutionLog) domain.ErrorCategory {
	lower := strings.ToLower(errMsg)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return domain.ErrorCategoryTimeout
	case strings.Contains(lower, "syntaxerror") || strings.Contains(lower, "syntax error"):
		return domain.ErrorCategorySyntax
	case strings.Contains(lower, "importerror") || strings.Contains(lower, "modulenotfound") || strings.Contains(lower, "cannot import"):
		return domain.ErrorCategoryImportError
	}
	for _, entry := range logs {
		obs := strings.ToLower(entry.Observation)
		if strings.Contains(obs, "syntaxerror") {
			return domain.ErrorCategorySyntax
		}
		if strings.Contains(obs, "importerror") || strings.Contains(obs, "modulenotfound") {
			return domain.ErrorCategoryImportError
		}
	}
	return domain.ErrorCategoryOther
}
