package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/locks"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/pool"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) HandleEvent(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	sweeper *Sweeper
	store   *store.MemoryStore
	locks   *locks.Manager
	pool    *pool.ResourcePool
	events  *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recorder{}
	bridge := events.NewBridge(nil, nil)
	bridge.Subscribe(rec)
	lm := locks.NewManager(st, time.Hour, nil)
	rp := pool.New(2, 3, nil)
	cfg := config.RecoveryConfig{Enabled: true, TaskTimeout: 10 * time.Minute, CheckInterval: time.Minute}
	return &fixture{
		sweeper: NewSweeper(st, lm, rp, bridge, cfg, nil),
		store:   st,
		locks:   lm,
		pool:    rp,
		events:  rec,
	}
}

func (f *fixture) runningTask(t *testing.T, id string, startedAgo time.Duration, paths ...string) *domain.Task {
	t.Helper()
	ctx := context.Background()
	at := time.Now().Add(-startedAgo)
	task := &domain.Task{
		ID:               id,
		Title:            "build parser",
		Status:           domain.StatusInProgress,
		AssignedAgentID:  "a1",
		AssignedAt:       &at,
		LockedFiles:      paths,
		CurrentIteration: 1,
	}
	if err := f.store.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if len(paths) > 0 {
		if err := f.locks.LockFiles(ctx, task.ID, "a1", paths); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.pool.Acquire(domain.ResourceOllama, task.ID); err != nil {
		t.Fatal(err)
	}
	f.store.CreateExecution(ctx, &domain.TaskExecution{
		TaskID: task.ID, AgentID: "a1", Iteration: 1, Status: domain.ExecutionStarted,
	})
	return task
}

func TestSweepReclaimsTimedOutTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if err := f.store.CreateAgent(ctx, &domain.Agent{ID: "a1", Type: domain.AgentCoder, Status: domain.AgentBusy, CurrentTaskID: "task-stuck"}); err != nil {
		t.Fatal(err)
	}
	f.runningTask(t, "task-stuck", 15*time.Minute, "src/parser.go")

	n, err := f.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	task, _ := f.store.GetTask(ctx, "task-stuck")
	if task.Status != domain.StatusAborted {
		t.Fatalf("status = %s, want aborted", task.Status)
	}
	if task.ErrorCategory != domain.ErrorCategoryTimeout {
		t.Errorf("error category = %s", task.ErrorCategory)
	}
	if task.Error != "Task timed out after 10 minutes" {
		t.Errorf("error = %q", task.Error)
	}
	if task.AssignedAgentID != "" {
		t.Error("agent binding not cleared")
	}

	agent, _ := f.store.GetAgent(ctx, "a1")
	if agent.Status != domain.AgentIdle || agent.Stats.TasksFailed != 1 {
		t.Errorf("agent = %s, tasksFailed = %d", agent.Status, agent.Stats.TasksFailed)
	}

	live, _ := f.locks.LockedFiles(ctx)
	if len(live) != 0 {
		t.Errorf("locks remain: %+v", live)
	}
	if f.pool.Status().Ollama.InUse != 0 {
		t.Error("resource slot not released")
	}

	execs, _ := f.store.ListExecutions(ctx, "task-stuck")
	if len(execs) != 1 || execs[0].Status != domain.ExecutionFailed {
		t.Errorf("execution rows = %+v", execs)
	}

	if f.events.ofType(domain.EventTaskFailed) != 1 || f.events.ofType(domain.EventAlert) != 1 {
		t.Error("task_failed + alert not emitted")
	}
}

func TestSweepLeavesFreshTasksAlone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.runningTask(t, "task-fresh", 5*time.Minute)

	n, err := f.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, want 0", n)
	}
	task, _ := f.store.GetTask(ctx, "task-fresh")
	if task.Status != domain.StatusInProgress {
		t.Errorf("status = %s", task.Status)
	}
}

func TestSweepIgnoresTerminalAndQueuedTasks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	for _, task := range []*domain.Task{
		{ID: "task-done", Title: "t", Status: domain.StatusCompleted, AssignedAt: &old},
		{ID: "task-q", Title: "t", Status: domain.StatusPending},
		{ID: "task-hold", Title: "t", Status: domain.StatusNeedsHuman, AssignedAt: &old},
	} {
		if err := f.store.CreateTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	n, err := f.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, want 0", n)
	}
	for _, id := range []string{"task-done", "task-q", "task-hold"} {
		task, _ := f.store.GetTask(ctx, id)
		if task.Status == domain.StatusAborted {
			t.Errorf("task %s was reclaimed", id)
		}
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.runningTask(t, "task-stuck", 20*time.Minute)

	if _, err := f.sweeper.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := f.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second sweep reclaimed %d", n)
	}
	if got := f.events.ofType(domain.EventTaskFailed); got != 1 {
		t.Errorf("task_failed emitted %d times", got)
	}
}
