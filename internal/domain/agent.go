package domain

import "time"

// AgentType determines which execution tiers an agent can serve.
type AgentType string

const (
	// AgentCoder runs the local tier only.
	AgentCoder AgentType = "coder"
	// AgentQA runs the hosted tiers.
	AgentQA AgentType = "qa"
	// AgentCTO is the escalation actor; top tier, decomposition and
	// human-facing escalations.
	AgentCTO AgentType = "cto"
)

// AgentStatus is the availability state of an agent endpoint.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentStuck   AgentStatus = "stuck"
	AgentOffline AgentStatus = "offline"
)

// Occupied reports whether the agent currently owns a task.
func (s AgentStatus) Occupied() bool {
	return s == AgentBusy || s == AgentStuck
}

// AgentStats accumulates rolling execution statistics.
type AgentStats struct {
	TasksCompleted  int     `json:"tasks_completed"`
	TasksFailed     int     `json:"tasks_failed"`
	SuccessRate     float64 `json:"success_rate"`
	TotalAPICredits float64 `json:"total_api_credits"`
	TotalTimeMs     int64   `json:"total_time_ms"`
}

// Recalculate refreshes the success rate from the counters.
func (s *AgentStats) Recalculate() {
	total := s.TasksCompleted + s.TasksFailed
	if total == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.TasksCompleted) / float64(total)
}

// AgentConfig holds per-agent execution preferences.
type AgentConfig struct {
	PreferredModel   Tier `json:"preferred_model,omitempty"`
	AlwaysUseHosted  bool `json:"always_use_hosted,omitempty"`
	MaxContextTokens int  `json:"max_context_tokens,omitempty"`
}

// Agent is a long-lived executor endpoint.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Type          AgentType   `json:"type"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	Stats         AgentStats  `json:"stats"`
	Config        AgentConfig `json:"config"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ServesTier reports whether this agent type may execute on the tier.
func (t AgentType) ServesTier(tier Tier) bool {
	switch t {
	case AgentCoder:
		return tier == TierOllama
	case AgentQA:
		return tier == TierHaiku || tier == TierSonnet || tier == TierOpus
	case AgentCTO:
		return tier == TierOpus
	default:
		return false
	}
}

// Clone returns a copy safe to mutate independently.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	dup := *a
	return &dup
}
