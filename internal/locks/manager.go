// Package locks coordinates exclusive file ownership between agents.
// Locks are persisted so they survive restarts, carry a TTL so a dead
// agent cannot pin a file forever, and are swept periodically.
package locks

import (
	"context"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

// Manager owns the file lock table.
type Manager struct {
	store  store.LockStore
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time
}

// NewManager creates a lock manager. ttl <= 0 falls back to the default.
func NewManager(st store.LockStore, ttl time.Duration, logger logging.Logger) *Manager {
	if ttl <= 0 {
		ttl = domain.DefaultLockTTL
	}
	return &Manager{
		store:  st,
		ttl:    ttl,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Build constructs the lock rows for a task without persisting them.
// Used by the assigner, which writes them inside the assignment
// transaction instead of through LockFiles.
func (m *Manager) Build(taskID, agentID string, paths []string) []domain.FileLock {
	now := m.now()
	expires := now.Add(m.ttl)
	out := make([]domain.FileLock, 0, len(paths))
	for _, path := range paths {
		exp := expires
		out = append(out, domain.FileLock{
			FilePath:  path,
			AgentID:   agentID,
			TaskID:    taskID,
			LockedAt:  now,
			ExpiresAt: &exp,
		})
	}
	return out
}

// LockFiles claims every path for the task. The whole batch fails with
// ResourceBusy when any path is held by another live task.
func (m *Manager) LockFiles(ctx context.Context, taskID, agentID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := m.store.UpsertLocks(ctx, m.Build(taskID, agentID, paths)); err != nil {
		return err
	}
	m.logger.Debug("locked %d files for task %s", len(paths), taskID)
	return nil
}

// ReleaseFileLocks drops every lock the task holds. Safe to call twice.
func (m *Manager) ReleaseFileLocks(ctx context.Context, taskID string) error {
	if err := m.store.DeleteLocksByTask(ctx, taskID); err != nil {
		return errors.Wrap(errors.KindInternal, err, "release locks for task %s", taskID)
	}
	m.logger.Debug("released file locks for task %s", taskID)
	return nil
}

// LockedFiles returns all live locks.
func (m *Manager) LockedFiles(ctx context.Context) ([]domain.FileLock, error) {
	return m.store.ActiveLocks(ctx, m.now())
}

// Conflicts returns the subset of paths held by a different live task.
func (m *Manager) Conflicts(ctx context.Context, taskID string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	active, err := m.store.ActiveLocks(ctx, m.now())
	if err != nil {
		return nil, err
	}
	held := make(map[string]string, len(active))
	for _, lock := range active {
		held[lock.FilePath] = lock.TaskID
	}
	var out []string
	for _, path := range paths {
		if holder, ok := held[path]; ok && holder != taskID {
			out = append(out, path)
		}
	}
	return out, nil
}

// Unlock removes one path unconditionally. Operator escape hatch.
func (m *Manager) Unlock(ctx context.Context, filePath string) error {
	return m.store.DeleteLock(ctx, filePath)
}

// Sweep deletes expired locks. Wired to the cron scheduler.
func (m *Manager) Sweep(ctx context.Context) {
	removed, err := m.store.DeleteExpiredLocks(ctx, m.now())
	if err != nil {
		m.logger.Warn("lock sweep failed: %v", err)
		return
	}
	if removed > 0 {
		m.logger.Info("lock sweep removed %d expired locks", removed)
	}
}
