package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
)

// MemoryStore implements Store with in-memory maps. It backs tests and
// single-node development runs without a database.
type MemoryStore struct {
	mu           sync.RWMutex
	tasks        map[string]*domain.Task
	agents       map[string]*domain.Agent
	locks        map[string]domain.FileLock // keyed by file path
	executions   map[string]*domain.TaskExecution
	logs         []*domain.ExecutionLog
	reviews      []*domain.CodeReview
	transitions  []domain.Transition
	transitionID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*domain.Task),
		agents:     make(map[string]*domain.Agent),
		locks:      make(map[string]domain.FileLock),
		executions: make(map[string]*domain.TaskExecution),
	}
}

// EnsureSchema is a no-op for the in-memory store.
func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

// --- tasks ---

func (s *MemoryStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = "task-" + uuid.New().String()
	}
	if _, exists := s.tasks[task.ID]; exists {
		return errors.E(errors.KindConflict, "task %s already exists", task.ID)
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = domain.StatusPending
	}
	if task.MaxIterations == 0 {
		task.MaxIterations = domain.DefaultMaxIterations
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, errors.E(errors.KindNotFound, "task %s not found", taskID)
	}
	return task.Clone(), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *domain.Task, opts ...UpdateOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := ApplyUpdateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[task.ID]
	if !ok {
		return errors.E(errors.KindNotFound, "task %s not found", task.ID)
	}
	task.UpdatedAt = time.Now()
	if existing.Status != task.Status {
		s.recordTransitionLocked(task.ID, existing.Status, task.Status, params.TransitionReason)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) recordTransitionLocked(taskID string, from, to domain.Status, reason string) {
	s.transitionID++
	s.transitions = append(s.transitions, domain.Transition{
		ID:         s.transitionID,
		TaskID:     taskID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		CreatedAt:  time.Now(),
	})
}

func (s *MemoryStore) DeleteTask(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return errors.E(errors.KindNotFound, "task %s not found", taskID)
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.AgentID != "" && task.AssignedAgentID != filter.AgentID {
			continue
		}
		if filter.TaskType != "" && task.TaskType != filter.TaskType {
			continue
		}
		if filter.MissionID != "" && task.MissionID != filter.MissionID {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) NextPendingTask(ctx context.Context, agentType domain.AgentType, exclude []string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.StatusPending {
			continue
		}
		if _, skip := excluded[task.ID]; skip {
			continue
		}
		if task.RequiredAgent != "" && task.RequiredAgent != agentType {
			continue
		}
		candidates = append(candidates, task)
	}
	if len(candidates) == 0 {
		return nil, errors.E(errors.KindNotFound, "no pending task for agent type %s", agentType)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0].Clone(), nil
}

func (s *MemoryStore) AssignTask(ctx context.Context, write AssignWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[write.Task.ID]
	if !ok {
		return errors.E(errors.KindNotFound, "task %s not found", write.Task.ID)
	}
	if existing.Status != domain.StatusPending && existing.Status != domain.StatusAssigned {
		return errors.E(errors.KindConflict, "task %s is %s, not pending", write.Task.ID, existing.Status)
	}
	if _, ok := s.agents[write.Agent.ID]; !ok {
		return errors.E(errors.KindNotFound, "agent %s not found", write.Agent.ID)
	}

	now := time.Now()
	for _, lock := range write.Locks {
		if held, exists := s.locks[lock.FilePath]; exists && held.TaskID != lock.TaskID && !held.Expired(now) {
			return errors.E(errors.KindResourceBusy, "file %s locked by task %s", lock.FilePath, held.TaskID)
		}
	}
	for _, lock := range write.Locks {
		s.locks[lock.FilePath] = lock
	}

	if existing.Status != write.Task.Status {
		s.recordTransitionLocked(write.Task.ID, existing.Status, write.Task.Status, "assigned to "+write.Agent.ID)
	}
	write.Task.UpdatedAt = now
	write.Agent.UpdatedAt = now
	s.tasks[write.Task.ID] = write.Task.Clone()
	s.agents[write.Agent.ID] = write.Agent.Clone()
	return nil
}

func (s *MemoryStore) Transitions(ctx context.Context, taskID string) ([]domain.Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transition
	for _, tr := range s.transitions {
		if tr.TaskID == taskID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkStaleActive(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		if task.Status != domain.StatusAssigned && task.Status != domain.StatusInProgress {
			continue
		}
		from := task.Status
		updated := task.Clone()
		updated.Status = domain.StatusAborted
		updated.Error = reason
		updated.ErrorCategory = domain.ErrorCategoryOther
		updated.AssignedAgentID = ""
		updated.AssignedAt = nil
		updated.UpdatedAt = time.Now()
		s.tasks[id] = updated
		s.recordTransitionLocked(id, from, domain.StatusAborted, reason)
	}
	return nil
}

// --- agents ---

func (s *MemoryStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.ID == "" {
		agent.ID = "agent-" + uuid.New().String()
	}
	if _, exists := s.agents[agent.ID]; exists {
		return errors.E(errors.KindConflict, "agent %s already exists", agent.ID)
	}
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = domain.AgentIdle
	}
	s.agents[agent.ID] = agent.Clone()
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, errors.E(errors.KindNotFound, "agent %s not found", agentID)
	}
	return agent.Clone(), nil
}

func (s *MemoryStore) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; !ok {
		return errors.E(errors.KindNotFound, "agent %s not found", agent.ID)
	}
	agent.UpdatedAt = time.Now()
	s.agents[agent.ID] = agent.Clone()
	return nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) IdleAgents(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Agent
	for _, agent := range s.agents {
		if agent.Status != domain.AgentIdle {
			continue
		}
		if agentType != "" && agent.Type != agentType {
			continue
		}
		out = append(out, agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- locks ---

func (s *MemoryStore) UpsertLocks(ctx context.Context, locks []domain.FileLock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, lock := range locks {
		if held, exists := s.locks[lock.FilePath]; exists && held.TaskID != lock.TaskID && !held.Expired(now) {
			return errors.E(errors.KindResourceBusy, "file %s locked by task %s", lock.FilePath, held.TaskID)
		}
	}
	for _, lock := range locks {
		s.locks[lock.FilePath] = lock
	}
	return nil
}

func (s *MemoryStore) DeleteLocksByTask(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, lock := range s.locks {
		if lock.TaskID == taskID {
			delete(s.locks, path)
		}
	}
	return nil
}

func (s *MemoryStore) ActiveLocks(ctx context.Context, now time.Time) ([]domain.FileLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FileLock
	for _, lock := range s.locks {
		if !lock.Expired(now) {
			out = append(out, lock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (s *MemoryStore) DeleteLock(ctx context.Context, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, filePath)
	return nil
}

func (s *MemoryStore) DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for path, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, path)
			removed++
		}
	}
	return removed, nil
}

// --- executions ---

func (s *MemoryStore) CreateExecution(ctx context.Context, exec *domain.TaskExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.ID == "" {
		exec.ID = "exec-" + uuid.New().String()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	dup := *exec
	s.executions[exec.ID] = &dup
	return nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *domain.TaskExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return errors.E(errors.KindNotFound, "execution %s not found", exec.ID)
	}
	dup := *exec
	s.executions[exec.ID] = &dup
	return nil
}

func (s *MemoryStore) ActiveExecution(ctx context.Context, taskID string) (*domain.TaskExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.TaskExecution
	for _, exec := range s.executions {
		if exec.TaskID != taskID || exec.Status != domain.ExecutionStarted {
			continue
		}
		if latest == nil || exec.Iteration > latest.Iteration {
			latest = exec
		}
	}
	if latest == nil {
		return nil, errors.E(errors.KindNotFound, "no active execution for task %s", taskID)
	}
	dup := *latest
	return &dup, nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, taskID string) ([]*domain.TaskExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.TaskExecution
	for _, exec := range s.executions {
		if exec.TaskID == taskID {
			dup := *exec
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}

func (s *MemoryStore) AppendExecutionLog(ctx context.Context, entry *domain.ExecutionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = "log-" + uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	dup := *entry
	s.logs = append(s.logs, &dup)
	return nil
}

func (s *MemoryStore) ExecutionLogs(ctx context.Context, taskID string) ([]*domain.ExecutionLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.ExecutionLog
	for _, entry := range s.logs {
		if entry.TaskID == taskID {
			dup := *entry
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

// --- reviews ---

func (s *MemoryStore) CreateReview(ctx context.Context, review *domain.CodeReview) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if review.ID == "" {
		review.ID = "review-" + uuid.New().String()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now()
	}
	dup := *review
	dup.Findings = append([]domain.Finding(nil), review.Findings...)
	s.reviews = append(s.reviews, &dup)
	return nil
}

func (s *MemoryStore) ListReviews(ctx context.Context, taskID string) ([]*domain.CodeReview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.CodeReview
	for _, review := range s.reviews {
		if review.TaskID == taskID {
			dup := *review
			dup.Findings = append([]domain.Finding(nil), review.Findings...)
			out = append(out, &dup)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
