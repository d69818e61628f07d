package review

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

type fakeReviewer struct {
	mu      sync.Mutex
	verdict *domain.CodeReview
	err     error
	calls   []domain.Tier
}

func (f *fakeReviewer) Review(ctx context.Context, task *domain.Task, tier domain.Tier) (*domain.CodeReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tier)
	if f.err != nil {
		return nil, f.err
	}
	v := *f.verdict
	v.TaskID = task.ID
	v.ReviewerTier = tier
	return &v, nil
}

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

func reviewCfg() config.ReviewConfig {
	return config.ReviewConfig{OllamaInterval: 5, OpusInterval: 10, QualityThreshold: 6, ComplexityFloor: 5}
}

func setup(t *testing.T, verdict *domain.CodeReview) (*Sampler, *store.MemoryStore, *fakeReviewer, *recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recorder{}
	bridge := events.NewBridge(nil, nil)
	bridge.Subscribe(rec)
	reviewer := &fakeReviewer{verdict: verdict}
	return NewSampler(st, bridge, reviewer, reviewCfg(), nil), st, reviewer, rec
}

func completedTask(t *testing.T, st *store.MemoryStore, id string, complexity float64) *domain.Task {
	t.Helper()
	now := time.Now()
	task := &domain.Task{
		ID:          id,
		Title:       "t",
		TaskType:    domain.TaskTypeCode,
		Status:      domain.StatusCompleted,
		Complexity:  complexity,
		Result:      domain.TaskResult(`{"success": true}`),
		CompletedAt: &now,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestEveryFifthLocalCompletionReviewed(t *testing.T) {
	s, st, reviewer, rec := setup(t, &domain.CodeReview{QualityScore: 9, Status: domain.ReviewApproved})

	for i := 0; i < 10; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 3)
		s.OnTaskCompleted(task, domain.TierOllama)
	}

	if len(reviewer.calls) != 2 {
		t.Fatalf("reviews = %d, want 2 of 10", len(reviewer.calls))
	}
	for _, tier := range reviewer.calls {
		if tier != domain.TierHaiku {
			t.Errorf("review tier = %s, want haiku", tier)
		}
	}
	if rec.ofType(domain.EventCodeReviewCompleted) != 2 {
		t.Error("code_review_completed not emitted per review")
	}

	reviews, _ := st.ListReviews(context.Background(), "task-e")
	if len(reviews) != 1 {
		t.Errorf("5th task has %d persisted reviews", len(reviews))
	}
}

func TestEveryTenthComplexCompletionGetsOpus(t *testing.T) {
	s, st, reviewer, _ := setup(t, &domain.CodeReview{QualityScore: 9})

	// Hosted-tier completions never touch the local counter; only the
	// complexity counter can fire, on the 10th qualifying completion.
	for i := 0; i < 10; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 7.5)
		s.OnTaskCompleted(task, domain.TierHaiku)
	}

	if len(reviewer.calls) != 1 || reviewer.calls[0] != domain.TierOpus {
		t.Fatalf("calls = %v, want one opus review", reviewer.calls)
	}
}

func TestLowComplexityHostedCompletionsNeverSampled(t *testing.T) {
	s, st, reviewer, _ := setup(t, &domain.CodeReview{QualityScore: 9})
	for i := 0; i < 20; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 3)
		s.OnTaskCompleted(task, domain.TierHaiku)
	}
	if len(reviewer.calls) != 0 {
		t.Errorf("reviews = %d, want 0", len(reviewer.calls))
	}
}

func TestReviewAndDebugTasksSkipped(t *testing.T) {
	s, st, reviewer, _ := setup(t, &domain.CodeReview{QualityScore: 9})
	for i := 0; i < 10; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 3)
		task.TaskType = domain.TaskTypeReview
		if i%2 == 0 {
			task.TaskType = domain.TaskTypeDebug
		}
		s.OnTaskCompleted(task, domain.TierOllama)
	}
	if len(reviewer.calls) != 0 {
		t.Errorf("reviews = %d, want 0 for review/debug tasks", len(reviewer.calls))
	}
}

func TestHaikuRejectionRequeuesOnStrongerModel(t *testing.T) {
	s, st, _, rec := setup(t, &domain.CodeReview{
		QualityScore: 3,
		Status:       domain.ReviewNeedsFixes,
		Findings: []domain.Finding{
			{Severity: domain.SeverityCritical, Description: "division by zero on empty input"},
		},
	})
	ctx := context.Background()

	var fifth *domain.Task
	for i := 0; i < 5; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 3)
		fifth = task
		s.OnTaskCompleted(task, domain.TierOllama)
	}

	got, _ := st.GetTask(ctx, fifth.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.PreferredModel != domain.TierHaiku {
		t.Errorf("preferred model = %s", got.PreferredModel)
	}
	if got.AssignedAgentID != "" || got.CurrentIteration != 0 {
		t.Errorf("assignment not cleared: %q iter %d", got.AssignedAgentID, got.CurrentIteration)
	}
	if got.ReviewContext == "" {
		t.Error("findings not carried into the requeued task")
	}
	if rec.ofType(domain.EventTaskUpdated) != 1 {
		t.Error("task_updated not emitted for the requeue")
	}

	// The first four completions stayed untouched.
	first, _ := st.GetTask(ctx, "task-a")
	if first.Status != domain.StatusCompleted {
		t.Errorf("unsampled task mutated: %s", first.Status)
	}
}

func TestOpusRejectionOfLocalWorkRequeues(t *testing.T) {
	s, st, reviewer, rec := setup(t, &domain.CodeReview{
		QualityScore: 3,
		Status:       domain.ReviewNeedsFixes,
		Findings: []domain.Finding{
			{Severity: domain.SeverityCritical, Description: "missing error handling"},
		},
	})
	ctx := context.Background()

	// Local-tier work above the complexity floor advances both counters;
	// the 10th completion lands on the opus sample.
	var tenth *domain.Task
	for i := 0; i < 10; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 7)
		tenth = task
		s.OnTaskCompleted(task, domain.TierOllama)
	}

	if last := reviewer.calls[len(reviewer.calls)-1]; last != domain.TierOpus {
		t.Fatalf("10th review tier = %s, want opus", last)
	}
	got, _ := st.GetTask(ctx, tenth.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending (local work requeues whoever reviewed it)", got.Status)
	}
	if got.PreferredModel != domain.TierHaiku {
		t.Errorf("preferred model = %s, want haiku", got.PreferredModel)
	}
	if got.NeedsHumanReview {
		t.Error("local work flagged for human review")
	}
	if rec.ofType(domain.EventTaskNeedsHuman) != 0 {
		t.Error("task_needs_human_review emitted for local work")
	}
}

func TestOpusRejectionFlagsForHuman(t *testing.T) {
	s, st, _, rec := setup(t, &domain.CodeReview{
		QualityScore:    2,
		Status:          domain.ReviewNeedsFixes,
		HasSyntaxErrors: true,
	})
	ctx := context.Background()

	var tenth *domain.Task
	for i := 0; i < 10; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 8)
		tenth = task
		s.OnTaskCompleted(task, domain.TierSonnet)
	}

	got, _ := st.GetTask(ctx, tenth.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !got.NeedsHumanReview {
		t.Error("needs_human_review not set")
	}
	if rec.ofType(domain.EventTaskNeedsHuman) != 1 {
		t.Error("task_needs_human_review not emitted")
	}
	if rec.ofType(domain.EventAlert) != 1 {
		t.Error("alert not emitted")
	}
}

func TestReviewerOutageLeavesTaskCompleted(t *testing.T) {
	s, st, reviewer, rec := setup(t, nil)
	reviewer.err = context.DeadlineExceeded

	var fifth *domain.Task
	for i := 0; i < 5; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 3)
		fifth = task
		s.OnTaskCompleted(task, domain.TierOllama)
	}

	got, _ := st.GetTask(context.Background(), fifth.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed despite reviewer outage", got.Status)
	}
	if rec.ofType(domain.EventCodeReviewCompleted) != 0 {
		t.Error("review event emitted for a failed review call")
	}
}

func TestResetClearsCounters(t *testing.T) {
	s, st, reviewer, _ := setup(t, &domain.CodeReview{QualityScore: 9})
	for i := 0; i < 4; i++ {
		task := completedTask(t, st, "task-"+string(rune('a'+i)), 3)
		s.OnTaskCompleted(task, domain.TierOllama)
	}
	s.Reset()
	task := completedTask(t, st, "task-z", 3)
	s.OnTaskCompleted(task, domain.TierOllama)

	if len(reviewer.calls) != 0 {
		t.Errorf("reviews = %d, counter survived reset", len(reviewer.calls))
	}
	ollama, complex := s.Counts()
	if ollama != 1 || complex != 0 {
		t.Errorf("counts = %d/%d", ollama, complex)
	}
}
