package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
)

func idleCoder(id string) *domain.Agent {
	return &domain.Agent{ID: id, Type: domain.AgentCoder, Status: domain.AgentIdle}
}

func TestHeuristicScore(t *testing.T) {
	tests := []struct {
		name string
		task domain.Task
		lo   float64
		hi   float64
	}{
		{
			name: "trivial create stays low",
			task: domain.Task{Title: "add", TaskType: domain.TaskTypeCode, Priority: 5,
				Description: "Create a simple function to add two numbers"},
			lo: 1, hi: 4,
		},
		{
			name: "architecture refactor scores high",
			task: domain.Task{Title: "rework", TaskType: domain.TaskTypeRefactor, Priority: 8,
				Description: "Refactor the architecture to integrate the async api across multi-file modules"},
			lo: 9, hi: 10,
		},
		{
			name: "numbered steps add up",
			task: domain.Task{Title: "plan", TaskType: domain.TaskTypeCode,
				Description: "step 1: parse. step 2: validate. step 3: store. step 4: emit."},
			lo: 3.5, hi: 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HeuristicScore(&tt.task)
			if got < tt.lo || got > tt.hi {
				t.Errorf("HeuristicScore = %.2f, want in [%.1f, %.1f]", got, tt.lo, tt.hi)
			}
		})
	}
}

func TestHeuristicScoreFailedAttemptsRaise(t *testing.T) {
	task := domain.Task{Title: "x", TaskType: domain.TaskTypeCode, Description: "do the thing"}
	fresh := HeuristicScore(&task)
	task.CurrentIteration = 2
	retried := HeuristicScore(&task)
	if retried <= fresh {
		t.Errorf("score after retries %.2f <= fresh %.2f", retried, fresh)
	}
}

func TestHeuristicScoreClamped(t *testing.T) {
	task := domain.Task{Title: "simple basic create", TaskType: domain.TaskTypeCode,
		Description: "create simple basic"}
	if got := HeuristicScore(&task); got < 1 {
		t.Errorf("score below floor: %.2f", got)
	}
	task = domain.Task{TaskType: domain.TaskTypeRefactor, Priority: 10, CurrentIteration: 5,
		Description: "refactor architecture design integrate complex multi-file test debug fix api database async"}
	if got := HeuristicScore(&task); got > 10 {
		t.Errorf("score above ceiling: %.2f", got)
	}
}

func TestRouteTaskIsPure(t *testing.T) {
	task := &domain.Task{ID: "t1", Title: "x", TaskType: domain.TaskTypeCode, Description: "fix the api"}
	agents := []*domain.Agent{idleCoder("a1"), idleCoder("a2")}
	c := HeuristicScore(task)

	first, err := RouteTask(task, agents, c, domain.ComplexityFromRouter)
	if err != nil {
		t.Fatal(err)
	}
	second, err := RouteTask(task, agents, c, domain.ComplexityFromRouter)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("RouteTask not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestRouteRequiredAgentOverride(t *testing.T) {
	task := &domain.Task{ID: "t1", Priority: 1, Description: "trivial", RequiredAgent: domain.AgentCTO}
	agents := []*domain.Agent{
		idleCoder("a1"),
		{ID: "boss", Type: domain.AgentCTO, Status: domain.AgentIdle},
	}
	d, err := RouteTask(task, agents, HeuristicScore(task), domain.ComplexityFromRouter)
	if err != nil {
		t.Fatal(err)
	}
	if d.AgentID != "boss" || d.AgentType != domain.AgentCTO {
		t.Errorf("agent = %s/%s, want boss/cto", d.AgentID, d.AgentType)
	}
	if d.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", d.Confidence)
	}
	if !strings.Contains(d.Reason, "explicitly requires") {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestRouteTierTable(t *testing.T) {
	tests := []struct {
		name       string
		complexity float64
		taskType   domain.TaskType
		wantTier   domain.Tier
		wantCtx    int
	}{
		{"low goes local", 3, domain.TaskTypeCode, domain.TierOllama, contextNormal},
		{"band 7-8 local large context", 7.5, domain.TaskTypeCode, domain.TierOllama, contextLarge},
		{"high code goes haiku", 9.5, domain.TaskTypeCode, domain.TierHaiku, 0},
		{"high review goes sonnet", 9.5, domain.TaskTypeReview, domain.TierSonnet, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantAgent := domain.AgentCoder
			if tt.wantTier != domain.TierOllama {
				wantAgent = domain.AgentQA
			}
			agents := []*domain.Agent{
				idleCoder("coder"),
				{ID: "qa", Type: domain.AgentQA, Status: domain.AgentIdle},
			}
			task := &domain.Task{ID: "t", TaskType: tt.taskType, Description: strings.Repeat("long prompt ", 1500)}
			d, err := RouteTask(task, agents, tt.complexity, domain.ComplexityFromRouter)
			if err != nil {
				t.Fatal(err)
			}
			if d.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", d.Tier, tt.wantTier)
			}
			if d.AgentType != wantAgent {
				t.Errorf("agent type = %s, want %s", d.AgentType, wantAgent)
			}
			if d.ContextWindow != tt.wantCtx {
				t.Errorf("context window = %d, want %d", d.ContextWindow, tt.wantCtx)
			}
			if d.EstimatedCost != tierCost[tt.wantTier] {
				t.Errorf("cost = %v", d.EstimatedCost)
			}
		})
	}
}

func TestRouteAllAgentsBusy(t *testing.T) {
	task := &domain.Task{ID: "t1", Description: "x"}
	busy := []*domain.Agent{{ID: "a1", Type: domain.AgentCoder, Status: domain.AgentBusy}}
	_, err := RouteTask(task, busy, 3, domain.ComplexityFromRouter)
	if !errors.IsResourceBusy(err) {
		t.Fatalf("err = %v, want ResourceBusy", err)
	}
	if !strings.Contains(err.Error(), "all agents busy") {
		t.Errorf("reason = %q", err.Error())
	}
}

func TestRouteFallsBackToCTO(t *testing.T) {
	task := &domain.Task{ID: "t1", Description: "x"}
	agents := []*domain.Agent{{ID: "boss", Type: domain.AgentCTO, Status: domain.AgentIdle}}
	d, err := RouteTask(task, agents, 3, domain.ComplexityFromRouter)
	if err != nil {
		t.Fatal(err)
	}
	if d.AgentID != "boss" || d.Tier != domain.TierOpus {
		t.Errorf("fallback = %s/%s, want boss/opus", d.AgentID, d.Tier)
	}
	if d.Confidence >= 0.8 {
		t.Errorf("fallback confidence = %v, want lowered", d.Confidence)
	}
}

type fixedOpinion struct {
	value float64
	err   error
	calls int
}

func (f *fixedOpinion) EstimateComplexity(ctx context.Context, task *domain.Task) (float64, error) {
	f.calls++
	return f.value, f.err
}

func dualConfig() config.RouterConfig {
	return config.RouterConfig{
		ComplexityThreshold: 7,
		DualEnabled:         true,
		DualBandLow:         4,
		DualBandHigh:        7,
		DualTimeout:         time.Second,
	}
}

func TestDualSecondOpinion(t *testing.T) {
	// Heuristic lands in the dual band; hosted says harder. Max wins.
	task := &domain.Task{ID: "t1", TaskType: domain.TaskTypeTest, Priority: 5,
		Description: "debug and fix the database layer"}
	heuristic := HeuristicScore(task)
	if heuristic < 4 || heuristic > 7 {
		t.Fatalf("fixture drifted out of dual band: %.2f", heuristic)
	}

	op := &fixedOpinion{value: 8.5}
	r := New(dualConfig(), op, nil)
	d, err := r.Route(context.Background(), task, []*domain.Agent{idleCoder("a1")})
	if err != nil {
		t.Fatal(err)
	}
	if d.Complexity != 8.5 {
		t.Errorf("complexity = %.2f, want hosted max 8.5", d.Complexity)
	}
	if d.Source != domain.ComplexityFromDual {
		t.Errorf("source = %s, want dual", d.Source)
	}

	// Hosted says easier: heuristic stands, source still dual.
	op2 := &fixedOpinion{value: 2}
	d2, err := New(dualConfig(), op2, nil).Route(context.Background(), task, []*domain.Agent{idleCoder("a1")})
	if err != nil {
		t.Fatal(err)
	}
	if d2.Complexity != heuristic {
		t.Errorf("complexity = %.2f, want heuristic %.2f", d2.Complexity, heuristic)
	}
}

func TestDualFailureFallsBack(t *testing.T) {
	task := &domain.Task{ID: "t1", TaskType: domain.TaskTypeTest, Priority: 5,
		Description: "debug and fix the database layer"}
	op := &fixedOpinion{err: errors.E(errors.KindAgentRPC, "hosted unavailable")}
	d, err := New(dualConfig(), op, nil).Route(context.Background(), task, []*domain.Agent{idleCoder("a1")})
	if err != nil {
		t.Fatalf("second-opinion failure must not fail the route: %v", err)
	}
	if d.Source != domain.ComplexityFromRouter {
		t.Errorf("source = %s, want router fallback", d.Source)
	}
}

func TestPreviewCaches(t *testing.T) {
	task := &domain.Task{ID: "t1", TaskType: domain.TaskTypeTest, Priority: 5,
		Description: "debug and fix the database layer", UpdatedAt: time.Now()}
	op := &fixedOpinion{value: 6}
	r := New(dualConfig(), op, nil)
	agents := []*domain.Agent{idleCoder("a1")}

	if _, err := r.Preview(context.Background(), task, agents); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Preview(context.Background(), task, agents); err != nil {
		t.Fatal(err)
	}
	if op.calls != 1 {
		t.Errorf("second-opinion calls = %d, want 1 (cached)", op.calls)
	}

	// A new revision misses the cache.
	task.UpdatedAt = task.UpdatedAt.Add(time.Second)
	if _, err := r.Preview(context.Background(), task, agents); err != nil {
		t.Fatal(err)
	}
	if op.calls != 2 {
		t.Errorf("calls after revision bump = %d, want 2", op.calls)
	}
}

func TestGetFixDecision(t *testing.T) {
	if d := GetFixDecision(1); d.Model != domain.TierHaiku || d.EscalateToHuman {
		t.Errorf("attempt 1 = %+v", d)
	}
	if d := GetFixDecision(2); d.Model != domain.TierHaiku || !d.EscalateToHuman {
		t.Errorf("attempt 2 = %+v", d)
	}
}
