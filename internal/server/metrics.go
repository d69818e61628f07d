package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

// Reporting endpoints aggregate straight from the store. Volumes here
// are operator-dashboard sized; no pre-aggregation needed.

func (s *Server) metricsOverview(c *gin.Context) {
	ctx := c.Request.Context()
	tasks, err := s.deps.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		s.abortError(c, err)
		return
	}
	agents, err := s.deps.Store.ListAgents(ctx)
	if err != nil {
		s.abortError(c, err)
		return
	}
	activeLocks, err := s.deps.Locks.LockedFiles(ctx)
	if err != nil {
		s.abortError(c, err)
		return
	}

	tasksByStatus := map[domain.Status]int{}
	var totalCost float64
	var totalTimeMs int64
	for _, task := range tasks {
		tasksByStatus[task.Status]++
		totalCost += task.APICreditsUsed
		totalTimeMs += task.TimeSpentMs
	}
	agentsByStatus := map[domain.AgentStatus]int{}
	for _, agent := range agents {
		agentsByStatus[agent.Status]++
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks_total":      len(tasks),
		"tasks_by_status":  tasksByStatus,
		"agents_by_status": agentsByStatus,
		"active_locks":     len(activeLocks),
		"resources":        s.deps.Pool.Status(),
		"total_cost_usd":   totalCost,
		"total_time_ms":    totalTimeMs,
	})
}

func (s *Server) metricsTimeline(c *gin.Context) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 24*14 {
			hours = parsed
		}
	}

	tasks, err := s.deps.Store.ListTasks(c.Request.Context(), store.TaskFilter{})
	if err != nil {
		s.abortError(c, err)
		return
	}

	type bucket struct {
		Hour      string `json:"hour"`
		Completed int    `json:"completed"`
		Failed    int    `json:"failed"`
	}
	start := time.Now().Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	buckets := make([]bucket, hours)
	index := map[string]int{}
	for i := 0; i < hours; i++ {
		at := start.Add(time.Duration(i) * time.Hour)
		key := at.Format("2006-01-02T15:00")
		buckets[i] = bucket{Hour: key}
		index[key] = i
	}

	for _, task := range tasks {
		var at time.Time
		switch task.Status {
		case domain.StatusCompleted:
			if task.CompletedAt == nil {
				continue
			}
			at = *task.CompletedAt
		case domain.StatusAborted, domain.StatusFailed:
			at = task.UpdatedAt
		default:
			continue
		}
		i, ok := index[at.Truncate(time.Hour).Format("2006-01-02T15:00")]
		if !ok {
			continue
		}
		if task.Status == domain.StatusCompleted {
			buckets[i].Completed++
		} else {
			buckets[i].Failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{"timeline": buckets})
}

func (s *Server) metricsDistribution(c *gin.Context) {
	tasks, err := s.deps.Store.ListTasks(c.Request.Context(), store.TaskFilter{})
	if err != nil {
		s.abortError(c, err)
		return
	}
	byType := map[domain.TaskType]int{}
	byCategory := map[domain.ErrorCategory]int{}
	for _, task := range tasks {
		byType[task.TaskType]++
		if task.ErrorCategory != "" {
			byCategory[task.ErrorCategory]++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"by_task_type":      byType,
		"by_error_category": byCategory,
	})
}

func (s *Server) metricsSuccessRate(c *gin.Context) {
	tasks, err := s.deps.Store.ListTasks(c.Request.Context(), store.TaskFilter{})
	if err != nil {
		s.abortError(c, err)
		return
	}
	completed, failed := 0, 0
	for _, task := range tasks {
		switch task.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusAborted, domain.StatusFailed:
			failed++
		}
	}
	rate := 0.0
	if completed+failed > 0 {
		rate = float64(completed) / float64(completed+failed)
	}
	c.JSON(http.StatusOK, gin.H{
		"completed":    completed,
		"failed":       failed,
		"success_rate": rate,
	})
}

func (s *Server) metricsSuccessRateByAgent(c *gin.Context) {
	agents, err := s.deps.Store.ListAgents(c.Request.Context())
	if err != nil {
		s.abortError(c, err)
		return
	}
	type agentRate struct {
		AgentID     string  `json:"agent_id"`
		Name        string  `json:"name,omitempty"`
		Type        string  `json:"type"`
		Completed   int     `json:"completed"`
		Failed      int     `json:"failed"`
		SuccessRate float64 `json:"success_rate"`
		TotalTimeMs int64   `json:"total_time_ms"`
	}
	out := make([]agentRate, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agentRate{
			AgentID:     agent.ID,
			Name:        agent.Name,
			Type:        string(agent.Type),
			Completed:   agent.Stats.TasksCompleted,
			Failed:      agent.Stats.TasksFailed,
			SuccessRate: agent.Stats.SuccessRate,
			TotalTimeMs: agent.Stats.TotalTimeMs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (s *Server) metricsComplexity(c *gin.Context) {
	tasks, err := s.deps.Store.ListTasks(c.Request.Context(), store.TaskFilter{})
	if err != nil {
		s.abortError(c, err)
		return
	}
	// Ten buckets, complexity clamped to [1, 10].
	histogram := make([]int, 10)
	bySource := map[domain.ComplexitySource]int{}
	for _, task := range tasks {
		if task.Complexity <= 0 {
			continue
		}
		i := int(math.Min(math.Max(task.Complexity, 1), 10)) - 1
		histogram[i]++
		if task.ComplexitySource != "" {
			bySource[task.ComplexitySource]++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"histogram": histogram,
		"by_source": bySource,
	})
}
