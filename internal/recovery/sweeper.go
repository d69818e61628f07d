// Package recovery aborts tasks whose agent went quiet: anything
// in_progress past the task timeout is reclaimed so its files and
// resource slots return to the pool.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/locks"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/pool"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

// Sweeper reclaims stuck tasks on a fixed interval.
type Sweeper struct {
	store  store.Store
	locks  *locks.Manager
	pool   *pool.ResourcePool
	bridge *events.Bridge
	cfg    config.RecoveryConfig
	logger logging.Logger

	now func() time.Time
}

// NewSweeper creates the stuck-task sweeper.
func NewSweeper(st store.Store, lm *locks.Manager, rp *pool.ResourcePool, bridge *events.Bridge, cfg config.RecoveryConfig, logger logging.Logger) *Sweeper {
	return &Sweeper{
		store:  st,
		locks:  lm,
		pool:   rp,
		bridge: bridge,
		cfg:    cfg,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Run sweeps on cfg.CheckInterval until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("stuck-task sweep: %v", err)
			} else if n > 0 {
				s.logger.Info("stuck-task sweep reclaimed %d task(s)", n)
			}
		}
	}
}

// Sweep aborts every in_progress task whose attempt started longer than
// the task timeout ago. Returns the number of tasks reclaimed. Safe to
// run concurrently with the executor: a task that completes mid-sweep is
// skipped on the re-read.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	running, err := s.store.ListTasks(ctx, store.TaskFilter{Status: domain.StatusInProgress})
	if err != nil {
		return 0, err
	}

	deadline := s.now().Add(-s.cfg.TaskTimeout)
	reclaimed := 0
	for _, task := range running {
		if task.AssignedAt == nil || task.AssignedAt.After(deadline) {
			continue
		}
		if err := s.reclaim(ctx, task.ID); err != nil {
			s.logger.Warn("reclaim stuck task %s: %v", task.ID, err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (s *Sweeper) reclaim(ctx context.Context, taskID string) error {
	// Re-read under the current state; the listing may be stale.
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.StatusInProgress {
		return nil
	}

	if err := s.locks.ReleaseFileLocks(ctx, task.ID); err != nil {
		s.logger.Warn("release locks for stuck task %s: %v", task.ID, err)
	}
	s.pool.ReleaseAll(task.ID)

	msg := fmt.Sprintf("Task timed out after %d minutes", int(s.cfg.TaskTimeout.Minutes()))
	agentID := task.AssignedAgentID

	task.Status = domain.StatusAborted
	task.Error = msg
	task.ErrorCategory = domain.ErrorCategoryTimeout
	task.AssignedAgentID = ""
	if err := s.store.UpdateTask(ctx, task, store.WithTransitionReason("reclaimed by stuck-task sweep")); err != nil {
		return err
	}

	if exec, err := s.store.ActiveExecution(ctx, task.ID); err == nil {
		now := s.now()
		exec.Status = domain.ExecutionFailed
		exec.CompletedAt = &now
		exec.Error = msg
		if err := s.store.UpdateExecution(ctx, exec); err != nil {
			s.logger.Warn("fail execution for stuck task %s: %v", task.ID, err)
		}
	}

	if agentID != "" {
		if agent, err := s.store.GetAgent(ctx, agentID); err == nil {
			agent.Status = domain.AgentIdle
			agent.CurrentTaskID = ""
			agent.Stats.TasksFailed++
			agent.Stats.Recalculate()
			if err := s.store.UpdateAgent(ctx, agent); err != nil {
				s.logger.Warn("free agent %s: %v", agentID, err)
			} else {
				s.bridge.Emit(domain.NewEvent(domain.EventAgentStatusChanged, task.ID, agent))
			}
		}
	}

	s.bridge.Emit(domain.NewEvent(domain.EventTaskFailed, task.ID, task))
	s.bridge.Emit(domain.NewEvent(domain.EventAlert, task.ID, domain.AlertPayload{
		Severity: domain.AlertWarning,
		Message:  "stuck task reclaimed: " + task.Title,
		TaskID:   task.ID,
		AgentID:  agentID,
	}))
	s.logger.Warn("task %s reclaimed: %s", task.ID, msg)
	return nil
}
