// Package router scores tasks and proposes an execution tier and agent.
// It never mutates task state; the assigner is the sole writer.
package router

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// Decision is the router's proposal for one task.
type Decision struct {
	TaskID        string                  `json:"task_id"`
	AgentID       string                  `json:"agent_id"`
	AgentType     domain.AgentType        `json:"agent_type"`
	Tier          domain.Tier             `json:"model_tier"`
	Complexity    float64                 `json:"complexity"`
	Source        domain.ComplexitySource `json:"complexity_source"`
	EstimatedCost float64                 `json:"estimated_cost"`
	ContextWindow int                     `json:"context_window,omitempty"`
	Confidence    float64                 `json:"confidence"`
	Reason        string                  `json:"reason"`
}

// Contract-level cost per tier, USD.
var tierCost = map[domain.Tier]float64{
	domain.TierOllama: 0,
	domain.TierHaiku:  0.001,
	domain.TierSonnet: 0.005,
	domain.TierOpus:   0.02,
}

// SecondOpinion asks a hosted model for a numeric complexity estimate.
type SecondOpinion interface {
	EstimateComplexity(ctx context.Context, task *domain.Task) (float64, error)
}

// One transient-failure retry inside the dual-path deadline.
var opinionRetry = errors.RetryConfig{
	MaxAttempts:  1,
	BaseDelay:    200 * time.Millisecond,
	MaxDelay:     time.Second,
	JitterFactor: 0.25,
}

type cacheKey struct {
	taskID    string
	updatedAt int64
}

// Router routes tasks. Preview decisions are cached per task revision so
// repeated route previews do not redo the second-opinion call.
type Router struct {
	cfg     config.RouterConfig
	opinion SecondOpinion
	cache   *lru.Cache[cacheKey, Decision]
	logger  logging.Logger
}

// New creates a Router. opinion may be nil to disable the dual path.
func New(cfg config.RouterConfig, opinion SecondOpinion, logger logging.Logger) *Router {
	cache, _ := lru.New[cacheKey, Decision](256)
	return &Router{
		cfg:     cfg,
		opinion: opinion,
		cache:   cache,
		logger:  logging.OrNop(logger),
	}
}

// RouteTask is the pure routing core: a function of the task and the idle
// agent set only. Called twice with the same inputs it returns the same
// decision.
func RouteTask(task *domain.Task, idleAgents []*domain.Agent, complexity float64, source domain.ComplexitySource) (Decision, error) {
	if task.RequiredAgent != "" {
		agent := pickAgent(idleAgents, task.RequiredAgent)
		if agent == nil {
			agent = pickAgent(idleAgents, domain.AgentCTO)
		}
		if agent == nil {
			return Decision{}, errors.E(errors.KindResourceBusy, "all agents busy")
		}
		tier := tierForAgentType(agent.Type)
		return Decision{
			TaskID:        task.ID,
			AgentID:       agent.ID,
			AgentType:     agent.Type,
			Tier:          tier,
			Complexity:    complexity,
			Source:        source,
			EstimatedCost: tierCost[tier],
			ContextWindow: contextWindowFor(tier, complexity, task),
			Confidence:    1.0,
			Reason:        fmt.Sprintf("task explicitly requires %s agent", task.RequiredAgent),
		}, nil
	}

	tier, agentType := tierFor(complexity, task.TaskType)
	agent := pickAgent(idleAgents, agentType)
	confidence := 0.8
	reason := fmt.Sprintf("complexity %.1f routes to %s tier", complexity, tier)
	if agent == nil {
		agent = pickAgent(idleAgents, domain.AgentCTO)
		if agent == nil {
			return Decision{}, errors.E(errors.KindResourceBusy, "all agents busy")
		}
		tier = tierForAgentType(agent.Type)
		confidence = 0.5
		reason = fmt.Sprintf("no idle %s agent, escalated to cto", agentType)
	}

	return Decision{
		TaskID:        task.ID,
		AgentID:       agent.ID,
		AgentType:     agent.Type,
		Tier:          tier,
		Complexity:    complexity,
		Source:        source,
		EstimatedCost: tierCost[tier],
		ContextWindow: contextWindowFor(tier, complexity, task),
		Confidence:    confidence,
		Reason:        reason,
	}, nil
}

// Route scores the task, optionally consults the hosted second opinion,
// and produces a decision against the given idle agent set.
func (r *Router) Route(ctx context.Context, task *domain.Task, idleAgents []*domain.Agent) (Decision, error) {
	complexity := HeuristicScore(task)
	source := domain.ComplexityFromRouter

	if r.dualEligible(complexity) {
		opCtx, cancel := context.WithTimeout(ctx, r.cfg.DualTimeout)
		var hosted float64
		err := errors.Retry(opCtx, opinionRetry, r.logger, func(ctx context.Context) error {
			estimate, err := r.opinion.EstimateComplexity(ctx, task)
			if err != nil {
				return err
			}
			hosted = estimate
			return nil
		})
		cancel()
		if err != nil {
			// Second-opinion failure never fails the route.
			r.logger.Warn("second opinion failed for task %s: %v", task.ID, err)
		} else {
			if hosted > complexity {
				complexity = clamp(hosted, 1, 10)
			}
			source = domain.ComplexityFromDual
		}
	}

	return RouteTask(task, idleAgents, complexity, source)
}

// Preview returns a cached decision for the route preview endpoint,
// keyed by task revision.
func (r *Router) Preview(ctx context.Context, task *domain.Task, idleAgents []*domain.Agent) (Decision, error) {
	key := cacheKey{taskID: task.ID, updatedAt: task.UpdatedAt.UnixNano()}
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	decision, err := r.Route(ctx, task, idleAgents)
	if err != nil {
		return Decision{}, err
	}
	r.cache.Add(key, decision)
	return decision, nil
}

func (r *Router) dualEligible(complexity float64) bool {
	if !r.cfg.DualEnabled || r.opinion == nil {
		return false
	}
	return complexity >= r.cfg.DualBandLow && complexity <= r.cfg.DualBandHigh
}

// tierFor implements the routing table.
func tierFor(complexity float64, taskType domain.TaskType) (domain.Tier, domain.AgentType) {
	switch {
	case complexity < 7:
		return domain.TierOllama, domain.AgentCoder
	case complexity < 9:
		return domain.TierOllama, domain.AgentCoder
	case taskType == domain.TaskTypeReview:
		return domain.TierSonnet, domain.AgentQA
	default:
		return domain.TierHaiku, domain.AgentQA
	}
}

func tierForAgentType(agentType domain.AgentType) domain.Tier {
	switch agentType {
	case domain.AgentCoder:
		return domain.TierOllama
	case domain.AgentQA:
		return domain.TierHaiku
	case domain.AgentCTO:
		return domain.TierOpus
	default:
		return domain.TierOllama
	}
}

func pickAgent(idleAgents []*domain.Agent, agentType domain.AgentType) *domain.Agent {
	for _, agent := range idleAgents {
		if agent.Type == agentType && agent.Status == domain.AgentIdle {
			return agent
		}
	}
	return nil
}
