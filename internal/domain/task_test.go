package domain

import (
	"testing"
	"time"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusAssigned, false},
		{StatusInProgress, false},
		{StatusNeedsHuman, false},
		{StatusCompleted, true},
		{StatusAborted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestStatusCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusAssigned},
		{StatusAssigned, StatusInProgress},
		{StatusAssigned, StatusPending},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusAborted},
		{StatusInProgress, StatusAssigned},
		{StatusInProgress, StatusNeedsHuman},
		{StatusNeedsHuman, StatusAssigned},
		{StatusNeedsHuman, StatusAborted},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusFailed},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransition(tt.to) {
			t.Errorf("CanTransition(%s -> %s) = false, want true", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusInProgress},
		{StatusPending, StatusCompleted},
		{StatusAborted, StatusPending},
		{StatusAborted, StatusAssigned},
		{StatusFailed, StatusAssigned},
		{StatusCompleted, StatusAssigned},
		{StatusNeedsHuman, StatusCompleted},
	}
	for _, tt := range denied {
		if tt.from.CanTransition(tt.to) {
			t.Errorf("CanTransition(%s -> %s) = true, want false", tt.from, tt.to)
		}
	}
}

func TestMonotonicityViolated(t *testing.T) {
	// Forward edges never violate.
	forward := []struct{ from, to Status }{
		{StatusPending, StatusAssigned},
		{StatusAssigned, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusAborted},
	}
	for _, tt := range forward {
		if MonotonicityViolated(tt.from, tt.to) {
			t.Errorf("MonotonicityViolated(%s -> %s) = true, want false", tt.from, tt.to)
		}
	}

	// Allowed reversals.
	if MonotonicityViolated(StatusInProgress, StatusAssigned) {
		t.Error("retry edge flagged as violation")
	}
	if MonotonicityViolated(StatusNeedsHuman, StatusAssigned) {
		t.Error("human resume edge flagged as violation")
	}

	// Genuine violations.
	if !MonotonicityViolated(StatusCompleted, StatusAssigned) {
		t.Error("completed -> assigned not flagged")
	}
	if !MonotonicityViolated(StatusInProgress, StatusPending) {
		t.Error("in_progress -> pending not flagged")
	}
}

func TestResourceForTier(t *testing.T) {
	if got := ResourceForTier(TierOllama); got != ResourceOllama {
		t.Errorf("ResourceForTier(ollama) = %s", got)
	}
	for _, tier := range []Tier{TierHaiku, TierSonnet, TierOpus} {
		if got := ResourceForTier(tier); got != ResourceClaude {
			t.Errorf("ResourceForTier(%s) = %s, want claude", tier, got)
		}
	}
}

func TestAgentTypeServesTier(t *testing.T) {
	tests := []struct {
		agent AgentType
		tier  Tier
		want  bool
	}{
		{AgentCoder, TierOllama, true},
		{AgentCoder, TierHaiku, false},
		{AgentQA, TierHaiku, true},
		{AgentQA, TierSonnet, true},
		{AgentQA, TierOllama, false},
		{AgentCTO, TierOpus, true},
		{AgentCTO, TierHaiku, false},
	}
	for _, tt := range tests {
		if got := tt.agent.ServesTier(tt.tier); got != tt.want {
			t.Errorf("%s.ServesTier(%s) = %v, want %v", tt.agent, tt.tier, got, tt.want)
		}
	}
}

func TestAgentStatsRecalculate(t *testing.T) {
	s := AgentStats{TasksCompleted: 3, TasksFailed: 1}
	s.Recalculate()
	if s.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", s.SuccessRate)
	}
	empty := AgentStats{}
	empty.Recalculate()
	if empty.SuccessRate != 0 {
		t.Errorf("empty SuccessRate = %v, want 0", empty.SuccessRate)
	}
}

func TestFileLockExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&FileLock{ExpiresAt: &future}).Expired(now) {
		t.Error("future lock reported expired")
	}
	if !(&FileLock{ExpiresAt: &past}).Expired(now) {
		t.Error("past lock not reported expired")
	}
	if (&FileLock{}).Expired(now) {
		t.Error("nil ExpiresAt should never expire")
	}
}

func TestTaskClone(t *testing.T) {
	at := time.Now()
	orig := &Task{
		ID:          "t1",
		LockedFiles: []string{"a.go"},
		AssignedAt:  &at,
	}
	dup := orig.Clone()
	dup.LockedFiles[0] = "b.go"
	*dup.AssignedAt = at.Add(time.Hour)
	if orig.LockedFiles[0] != "a.go" {
		t.Error("Clone shares LockedFiles slice")
	}
	if !orig.AssignedAt.Equal(at) {
		t.Error("Clone shares AssignedAt pointer")
	}
}

func TestReviewFailed(t *testing.T) {
	tests := []struct {
		name   string
		review CodeReview
		want   bool
	}{
		{"high score clean", CodeReview{QualityScore: 8}, false},
		{"low score", CodeReview{QualityScore: 4}, true},
		{"boundary score passes", CodeReview{QualityScore: 6}, false},
		{"syntax errors", CodeReview{QualityScore: 9, HasSyntaxErrors: true}, true},
		{"critical finding", CodeReview{QualityScore: 9, Findings: []Finding{{Severity: SeverityCritical}}}, true},
		{"non-critical findings", CodeReview{QualityScore: 9, Findings: []Finding{{Severity: SeverityHigh}, {Severity: SeverityLow}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.review.Failed(6); got != tt.want {
				t.Errorf("Failed(6) = %v, want %v", got, tt.want)
			}
		})
	}
}
