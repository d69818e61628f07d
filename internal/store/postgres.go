package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("PostgresStore"),
	}
}

// EnsureSchema creates all engine tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.E(errors.KindInternal, "store not initialized")
	}

	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    mission_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    task_type TEXT NOT NULL DEFAULT 'code',
    priority INT NOT NULL DEFAULT 5,
    language TEXT NOT NULL DEFAULT '',
    max_iterations INT NOT NULL DEFAULT 3,
    current_iteration INT NOT NULL DEFAULT 0,
    locked_files JSONB NOT NULL DEFAULT '[]'::jsonb,
    validation_command TEXT NOT NULL DEFAULT '',
    complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
    complexity_source TEXT NOT NULL DEFAULT '',
    complexity_reasoning TEXT NOT NULL DEFAULT '',
    required_agent TEXT NOT NULL DEFAULT '',
    preferred_model TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    assigned_agent_id TEXT NOT NULL DEFAULT '',
    assigned_at TIMESTAMPTZ,
    error TEXT NOT NULL DEFAULT '',
    error_category TEXT NOT NULL DEFAULT '',
    result JSONB,
    needs_human_review BOOLEAN NOT NULL DEFAULT FALSE,
    review_context TEXT NOT NULL DEFAULT '',
    api_credits_used DOUBLE PRECISION NOT NULL DEFAULT 0,
    time_spent_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks (status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks (assigned_agent_id);

CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'idle',
    current_task_id TEXT NOT NULL DEFAULT '',
    stats JSONB NOT NULL DEFAULT '{}'::jsonb,
    config JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS file_locks (
    file_path TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    locked_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_file_locks_task ON file_locks (task_id);

CREATE TABLE IF NOT EXISTS task_executions (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    iteration INT NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'started',
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    metrics JSONB NOT NULL DEFAULT '{}'::jsonb,
    input JSONB,
    output JSONB,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_task_executions_task ON task_executions (task_id, iteration);

CREATE TABLE IF NOT EXISTS execution_logs (
    id TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL DEFAULT '',
    task_id TEXT NOT NULL,
    step_index INT NOT NULL DEFAULT 0,
    thought TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT '',
    input TEXT NOT NULL DEFAULT '',
    observation TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    is_loop BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_logs_task ON execution_logs (task_id, step_index);

CREATE TABLE IF NOT EXISTS code_reviews (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    reviewer_tier TEXT NOT NULL,
    quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    findings JSONB NOT NULL DEFAULT '[]'::jsonb,
    has_syntax_errors BOOLEAN NOT NULL DEFAULT FALSE,
    tokens_input INT NOT NULL DEFAULT 0,
    tokens_output INT NOT NULL DEFAULT 0,
    cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_code_reviews_task ON code_reviews (task_id);

CREATE TABLE IF NOT EXISTS task_transitions (
    id BIGSERIAL PRIMARY KEY,
    task_id TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_transitions_task ON task_transitions (task_id, id);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Ping verifies the pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.E(errors.KindInternal, "store not initialized")
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

const taskColumns = `id, mission_id, title, description, task_type, priority, language,
max_iterations, current_iteration, locked_files, validation_command,
complexity, complexity_source, complexity_reasoning, required_agent, preferred_model,
status, assigned_agent_id, assigned_at, error, error_category, result,
needs_human_review, review_context, api_credits_used, time_spent_ms,
created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t           domain.Task
		lockedFiles []byte
		result      []byte
	)
	err := row.Scan(
		&t.ID, &t.MissionID, &t.Title, &t.Description, &t.TaskType, &t.Priority, &t.Language,
		&t.MaxIterations, &t.CurrentIteration, &lockedFiles, &t.ValidationCommand,
		&t.Complexity, &t.ComplexitySource, &t.ComplexityReasoning, &t.RequiredAgent, &t.PreferredModel,
		&t.Status, &t.AssignedAgentID, &t.AssignedAt, &t.Error, &t.ErrorCategory, &result,
		&t.NeedsHumanReview, &t.ReviewContext, &t.APICreditsUsed, &t.TimeSpentMs,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(lockedFiles) > 0 {
		if err := json.Unmarshal(lockedFiles, &t.LockedFiles); err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "decode locked_files")
		}
	}
	if len(result) > 0 {
		t.Result = domain.TaskResult(result)
	}
	return &t, nil
}

func taskArgs(t *domain.Task) ([]any, error) {
	lockedFiles, err := json.Marshal(t.LockedFiles)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "encode locked_files")
	}
	var result any
	if len(t.Result) > 0 {
		result = []byte(t.Result)
	}
	return []any{
		t.ID, t.MissionID, t.Title, t.Description, t.TaskType, t.Priority, t.Language,
		t.MaxIterations, t.CurrentIteration, lockedFiles, t.ValidationCommand,
		t.Complexity, t.ComplexitySource, t.ComplexityReasoning, t.RequiredAgent, t.PreferredModel,
		t.Status, t.AssignedAgentID, t.AssignedAt, t.Error, t.ErrorCategory, result,
		t.NeedsHumanReview, t.ReviewContext, t.APICreditsUsed, t.TimeSpentMs,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	}, nil
}

const taskPlaceholders = `$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29`

const taskUpdateSet = `mission_id=$2, title=$3, description=$4, task_type=$5, priority=$6, language=$7,
max_iterations=$8, current_iteration=$9, locked_files=$10, validation_command=$11,
complexity=$12, complexity_source=$13, complexity_reasoning=$14, required_agent=$15, preferred_model=$16,
status=$17, assigned_agent_id=$18, assigned_at=$19, error=$20, error_category=$21, result=$22,
needs_human_review=$23, review_context=$24, api_credits_used=$25, time_spent_ms=$26,
created_at=$27, updated_at=$28, completed_at=$29`

func (s *PostgresStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = "task-" + uuid.New().String()
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
	args, err := taskArgs(task)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (`+taskPlaceholders+`)`, args...)
	return mapPgError(err, "create task")
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.E(errors.KindNotFound, "task %s not found", taskID)
		}
		return nil, mapPgError(err, "get task")
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *domain.Task, opts ...UpdateOption) error {
	params := ApplyUpdateOptions(opts)
	task.UpdatedAt = time.Now()
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var prior domain.Status
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, task.ID).Scan(&prior)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return errors.E(errors.KindNotFound, "task %s not found", task.ID)
		}
		if err != nil {
			return mapPgError(err, "lock task row")
		}
		if _, err := tx.Exec(ctx, `UPDATE tasks SET `+taskUpdateSet+` WHERE id=$1`, args...); err != nil {
			return mapPgError(err, "update task")
		}
		if prior != task.Status {
			if err := insertTransition(ctx, tx, task.ID, prior, task.Status, params.TransitionReason); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return mapPgError(err, "delete task")
	}
	if tag.RowsAffected() == 0 {
		return errors.E(errors.KindNotFound, "task %s not found", taskID)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ($1 = '' OR status = $1)
AND ($2 = '' OR assigned_agent_id = $2) AND ($3 = '' OR task_type = $3)
AND ($4 = '' OR mission_id = $4) ORDER BY created_at ASC`
	args := []any{string(filter.Status), filter.AgentID, string(filter.TaskType), filter.MissionID}
	if filter.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, filter.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "list tasks")
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, mapPgError(err, "scan task")
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *PostgresStore) NextPendingTask(ctx context.Context, agentType domain.AgentType, exclude []string) (*domain.Task, error) {
	if exclude == nil {
		exclude = []string{}
	}
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE status = 'pending' AND (required_agent = '' OR required_agent = $1)
AND NOT (id = ANY($2))
ORDER BY priority DESC, created_at ASC LIMIT 1`, string(agentType), exclude)
	task, err := scanTask(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.E(errors.KindNotFound, "no pending task for agent type %s", agentType)
		}
		return nil, mapPgError(err, "next pending task")
	}
	return task, nil
}

func (s *PostgresStore) AssignTask(ctx context.Context, write AssignWrite) error {
	now := time.Now()
	write.Task.UpdatedAt = now
	write.Agent.UpdatedAt = now
	taskUpdateArgs, err := taskArgs(write.Task)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var prior domain.Status
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, write.Task.ID).Scan(&prior)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return errors.E(errors.KindNotFound, "task %s not found", write.Task.ID)
		}
		if err != nil {
			return mapPgError(err, "lock task row")
		}
		if prior != domain.StatusPending && prior != domain.StatusAssigned {
			return errors.E(errors.KindConflict, "task %s is %s, not pending", write.Task.ID, prior)
		}

		for _, lock := range write.Locks {
			var holder string
			var expiresAt *time.Time
			err := tx.QueryRow(ctx, `SELECT task_id, expires_at FROM file_locks WHERE file_path = $1 FOR UPDATE`,
				lock.FilePath).Scan(&holder, &expiresAt)
			if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
				return mapPgError(err, "check lock")
			}
			if err == nil && holder != lock.TaskID {
				live := expiresAt == nil || expiresAt.After(now)
				if live {
					return errors.E(errors.KindResourceBusy, "file %s locked by task %s", lock.FilePath, holder)
				}
			}
			if _, err := tx.Exec(ctx, `INSERT INTO file_locks (file_path, agent_id, task_id, locked_at, expires_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (file_path) DO UPDATE SET agent_id = $2, task_id = $3, locked_at = $4, expires_at = $5`,
				lock.FilePath, lock.AgentID, lock.TaskID, lock.LockedAt, lock.ExpiresAt); err != nil {
				return mapPgError(err, "upsert lock")
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE tasks SET `+taskUpdateSet+` WHERE id=$1`, taskUpdateArgs...); err != nil {
			return mapPgError(err, "update task")
		}
		if err := updateAgentTx(ctx, tx, write.Agent); err != nil {
			return err
		}
		if prior != write.Task.Status {
			if err := insertTransition(ctx, tx, write.Task.ID, prior, write.Task.Status, "assigned to "+write.Agent.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Transitions(ctx context.Context, taskID string) ([]domain.Transition, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, task_id, from_status, to_status, reason, created_at
FROM task_transitions WHERE task_id = $1 ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, mapPgError(err, "list transitions")
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var tr domain.Transition
		if err := rows.Scan(&tr.ID, &tr.TaskID, &tr.FromStatus, &tr.ToStatus, &tr.Reason, &tr.CreatedAt); err != nil {
			return nil, mapPgError(err, "scan transition")
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkStaleActive(ctx context.Context, reason string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, status FROM tasks
WHERE status IN ('assigned', 'in_progress') FOR UPDATE`)
		if err != nil {
			return mapPgError(err, "select stale tasks")
		}
		type stale struct {
			id     string
			status domain.Status
		}
		var staleTasks []stale
		for rows.Next() {
			var st stale
			if err := rows.Scan(&st.id, &st.status); err != nil {
				rows.Close()
				return mapPgError(err, "scan stale task")
			}
			staleTasks = append(staleTasks, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapPgError(err, "iterate stale tasks")
		}

		for _, st := range staleTasks {
			if _, err := tx.Exec(ctx, `UPDATE tasks SET status = 'aborted', error = $2,
error_category = 'other', assigned_agent_id = '', assigned_at = NULL, updated_at = NOW()
WHERE id = $1`, st.id, reason); err != nil {
				return mapPgError(err, "abort stale task")
			}
			if err := insertTransition(ctx, tx, st.id, st.status, domain.StatusAborted, reason); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- agents ---

func agentArgs(a *domain.Agent) ([]any, error) {
	stats, err := json.Marshal(a.Stats)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "encode stats")
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "encode config")
	}
	return []any{a.ID, a.Name, a.Type, a.Status, a.CurrentTaskID, stats, cfg, a.CreatedAt, a.UpdatedAt}, nil
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var (
		a     domain.Agent
		stats []byte
		cfg   []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &a.CurrentTaskID, &stats, &cfg, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &a.Stats); err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "decode stats")
		}
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &a.Config); err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "decode config")
		}
	}
	return &a, nil
}

const agentColumns = `id, name, type, status, current_task_id, stats, config, created_at, updated_at`

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.ID == "" {
		agent.ID = "agent-" + uuid.New().String()
	}
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = domain.AgentIdle
	}
	args, err := agentArgs(agent)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO agents (`+agentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, args...)
	return mapPgError(err, "create agent")
}

func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	agent, err := scanAgent(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.E(errors.KindNotFound, "agent %s not found", agentID)
		}
		return nil, mapPgError(err, "get agent")
	}
	return agent, nil
}

func updateAgentTx(ctx context.Context, tx pgx.Tx, agent *domain.Agent) error {
	args, err := agentArgs(agent)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE agents SET name=$2, type=$3, status=$4, current_task_id=$5,
stats=$6, config=$7, created_at=$8, updated_at=$9 WHERE id=$1`, args...)
	if err != nil {
		return mapPgError(err, "update agent")
	}
	if tag.RowsAffected() == 0 {
		return errors.E(errors.KindNotFound, "agent %s not found", agent.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	agent.UpdatedAt = time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return updateAgentTx(ctx, tx, agent)
	})
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id ASC`)
	if err != nil {
		return nil, mapPgError(err, "list agents")
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, mapPgError(err, "scan agent")
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IdleAgents(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents
WHERE status = 'idle' AND ($1 = '' OR type = $1) ORDER BY id ASC`, string(agentType))
	if err != nil {
		return nil, mapPgError(err, "idle agents")
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, mapPgError(err, "scan agent")
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

// --- locks ---

func (s *PostgresStore) UpsertLocks(ctx context.Context, locks []domain.FileLock) error {
	if len(locks) == 0 {
		return nil
	}
	now := time.Now()
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, lock := range locks {
			var holder string
			var expiresAt *time.Time
			err := tx.QueryRow(ctx, `SELECT task_id, expires_at FROM file_locks WHERE file_path = $1 FOR UPDATE`,
				lock.FilePath).Scan(&holder, &expiresAt)
			if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
				return mapPgError(err, "check lock")
			}
			if err == nil && holder != lock.TaskID && (expiresAt == nil || expiresAt.After(now)) {
				return errors.E(errors.KindResourceBusy, "file %s locked by task %s", lock.FilePath, holder)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO file_locks (file_path, agent_id, task_id, locked_at, expires_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (file_path) DO UPDATE SET agent_id = $2, task_id = $3, locked_at = $4, expires_at = $5`,
				lock.FilePath, lock.AgentID, lock.TaskID, lock.LockedAt, lock.ExpiresAt); err != nil {
				return mapPgError(err, "upsert lock")
			}
		}
		return nil
	})
}

func (s *PostgresStore) DeleteLocksByTask(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM file_locks WHERE task_id = $1`, taskID)
	return mapPgError(err, "delete locks by task")
}

func (s *PostgresStore) ActiveLocks(ctx context.Context, now time.Time) ([]domain.FileLock, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_path, agent_id, task_id, locked_at, expires_at
FROM file_locks WHERE expires_at IS NULL OR expires_at > $1 ORDER BY file_path ASC`, now)
	if err != nil {
		return nil, mapPgError(err, "active locks")
	}
	defer rows.Close()

	var out []domain.FileLock
	for rows.Next() {
		var lock domain.FileLock
		if err := rows.Scan(&lock.FilePath, &lock.AgentID, &lock.TaskID, &lock.LockedAt, &lock.ExpiresAt); err != nil {
			return nil, mapPgError(err, "scan lock")
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteLock(ctx context.Context, filePath string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM file_locks WHERE file_path = $1`, filePath)
	return mapPgError(err, "delete lock")
}

func (s *PostgresStore) DeleteExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM file_locks WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, mapPgError(err, "delete expired locks")
	}
	return int(tag.RowsAffected()), nil
}

// --- executions ---

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *domain.TaskExecution) error {
	if exec.ID == "" {
		exec.ID = "exec-" + uuid.New().String()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	metrics, err := json.Marshal(exec.Metrics)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode metrics")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO task_executions
(id, task_id, agent_id, iteration, status, started_at, completed_at, metrics, input, output, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		exec.ID, exec.TaskID, exec.AgentID, exec.Iteration, exec.Status, exec.StartedAt,
		exec.CompletedAt, metrics, nullableRaw(exec.Input), nullableRaw(exec.Output), exec.Error)
	return mapPgError(err, "create execution")
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *domain.TaskExecution) error {
	metrics, err := json.Marshal(exec.Metrics)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode metrics")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE task_executions SET status=$2, completed_at=$3, metrics=$4,
input=$5, output=$6, error=$7 WHERE id=$1`,
		exec.ID, exec.Status, exec.CompletedAt, metrics, nullableRaw(exec.Input), nullableRaw(exec.Output), exec.Error)
	if err != nil {
		return mapPgError(err, "update execution")
	}
	if tag.RowsAffected() == 0 {
		return errors.E(errors.KindNotFound, "execution %s not found", exec.ID)
	}
	return nil
}

const executionColumns = `id, task_id, agent_id, iteration, status, started_at, completed_at, metrics, input, output, error`

func scanExecution(row rowScanner) (*domain.TaskExecution, error) {
	var (
		e       domain.TaskExecution
		metrics []byte
		input   []byte
		output  []byte
	)
	err := row.Scan(&e.ID, &e.TaskID, &e.AgentID, &e.Iteration, &e.Status, &e.StartedAt,
		&e.CompletedAt, &metrics, &input, &output, &e.Error)
	if err != nil {
		return nil, err
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &e.Metrics); err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "decode metrics")
		}
	}
	e.Input = json.RawMessage(input)
	e.Output = json.RawMessage(output)
	return &e, nil
}

func (s *PostgresStore) ActiveExecution(ctx context.Context, taskID string) (*domain.TaskExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM task_executions
WHERE task_id = $1 AND status = 'started' ORDER BY iteration DESC LIMIT 1`, taskID)
	exec, err := scanExecution(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.E(errors.KindNotFound, "no active execution for task %s", taskID)
		}
		return nil, mapPgError(err, "active execution")
	}
	return exec, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, taskID string) ([]*domain.TaskExecution, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+executionColumns+` FROM task_executions
WHERE task_id = $1 ORDER BY iteration ASC`, taskID)
	if err != nil {
		return nil, mapPgError(err, "list executions")
	}
	defer rows.Close()

	var out []*domain.TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, mapPgError(err, "scan execution")
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendExecutionLog(ctx context.Context, entry *domain.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = "log-" + uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO execution_logs
(id, execution_id, task_id, step_index, thought, action, input, observation, duration_ms, is_loop, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.ID, entry.ExecutionID, entry.TaskID, entry.StepIndex, entry.Thought, entry.Action,
		entry.Input, entry.Observation, entry.DurationMs, entry.IsLoop, entry.CreatedAt)
	return mapPgError(err, "append execution log")
}

func (s *PostgresStore) ExecutionLogs(ctx context.Context, taskID string) ([]*domain.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, execution_id, task_id, step_index, thought, action,
input, observation, duration_ms, is_loop, created_at
FROM execution_logs WHERE task_id = $1 ORDER BY step_index ASC`, taskID)
	if err != nil {
		return nil, mapPgError(err, "execution logs")
	}
	defer rows.Close()

	var out []*domain.ExecutionLog
	for rows.Next() {
		var entry domain.ExecutionLog
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.TaskID, &entry.StepIndex, &entry.Thought,
			&entry.Action, &entry.Input, &entry.Observation, &entry.DurationMs, &entry.IsLoop, &entry.CreatedAt); err != nil {
			return nil, mapPgError(err, "scan execution log")
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// --- reviews ---

func (s *PostgresStore) CreateReview(ctx context.Context, review *domain.CodeReview) error {
	if review.ID == "" {
		review.ID = "review-" + uuid.New().String()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now()
	}
	findings, err := json.Marshal(review.Findings)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode findings")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO code_reviews
(id, task_id, reviewer_tier, quality_score, findings, has_syntax_errors, tokens_input, tokens_output, cost_usd, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		review.ID, review.TaskID, review.ReviewerTier, review.QualityScore, findings,
		review.HasSyntaxErrors, review.TokensInput, review.TokensOutput, review.CostUSD, review.Status, review.CreatedAt)
	return mapPgError(err, "create review")
}

func (s *PostgresStore) ListReviews(ctx context.Context, taskID string) ([]*domain.CodeReview, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, task_id, reviewer_tier, quality_score, findings,
has_syntax_errors, tokens_input, tokens_output, cost_usd, status, created_at
FROM code_reviews WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, mapPgError(err, "list reviews")
	}
	defer rows.Close()

	var out []*domain.CodeReview
	for rows.Next() {
		var (
			review   domain.CodeReview
			findings []byte
		)
		if err := rows.Scan(&review.ID, &review.TaskID, &review.ReviewerTier, &review.QualityScore, &findings,
			&review.HasSyntaxErrors, &review.TokensInput, &review.TokensOutput, &review.CostUSD, &review.Status, &review.CreatedAt); err != nil {
			return nil, mapPgError(err, "scan review")
		}
		if len(findings) > 0 {
			if err := json.Unmarshal(findings, &review.Findings); err != nil {
				return nil, errors.Wrap(errors.KindInternal, err, "decode findings")
			}
		}
		out = append(out, &review)
	}
	return out, rows.Err()
}

// --- helpers ---

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if s == nil || s.pool == nil {
		return errors.E(errors.KindInternal, "store not initialized")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapPgError(err, "begin tx")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return mapPgError(tx.Commit(ctx), "commit tx")
}

func insertTransition(ctx context.Context, tx pgx.Tx, taskID string, from, to domain.Status, reason string) error {
	_, err := tx.Exec(ctx, `INSERT INTO task_transitions (task_id, from_status, to_status, reason, created_at)
VALUES ($1,$2,$3,$4,NOW())`, taskID, from, to, reason)
	return mapPgError(err, "insert transition")
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func mapPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.KindInternal, err, "%s", op)
}

var _ Store = (*PostgresStore)(nil)
