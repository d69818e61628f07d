package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
)

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.deps.Store.ListAgents(c.Request.Context())
	if err != nil {
		s.abortError(c, err)
		return
	}
	if agents == nil {
		agents = []*domain.Agent{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

type createAgentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type" binding:"required"`
}

func (s *Server) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}
	agentType := domain.AgentType(req.Type)
	switch agentType {
	case domain.AgentCoder, domain.AgentQA, domain.AgentCTO:
	default:
		s.abortError(c, errors.E(errors.KindValidation, "unknown agent type %q", req.Type))
		return
	}

	agent := &domain.Agent{
		ID:     req.ID,
		Name:   req.Name,
		Type:   agentType,
		Status: domain.AgentIdle,
	}
	if err := s.deps.Store.CreateAgent(c.Request.Context(), agent); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.deps.Store.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type updateAgentRequest struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

func (s *Server) updateAgent(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}

	ctx := c.Request.Context()
	agent, err := s.deps.Store.GetAgent(ctx, c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Status != nil {
		to := domain.AgentStatus(*req.Status)
		switch to {
		case domain.AgentIdle, domain.AgentBusy, domain.AgentStuck, domain.AgentOffline:
		default:
			s.abortError(c, errors.E(errors.KindValidation, "unknown agent status %q", *req.Status))
			return
		}
		if to == domain.AgentIdle {
			agent.CurrentTaskID = ""
		}
		agent.Status = to
	}
	if err := s.deps.Store.UpdateAgent(ctx, agent); err != nil {
		s.abortError(c, err)
		return
	}
	s.deps.Bridge.Emit(domain.NewEvent(domain.EventAgentStatusChanged, agent.CurrentTaskID, agent))
	c.JSON(http.StatusOK, agent)
}

// resetAgents returns every agent to idle. Tasks are not touched; the
// stuck-task sweeper owns orphaned work.
func (s *Server) resetAgents(c *gin.Context) {
	ctx := c.Request.Context()
	agents, err := s.deps.Store.ListAgents(ctx)
	if err != nil {
		s.abortError(c, err)
		return
	}
	reset := 0
	for _, agent := range agents {
		if agent.Status == domain.AgentIdle && agent.CurrentTaskID == "" {
			continue
		}
		agent.Status = domain.AgentIdle
		agent.CurrentTaskID = ""
		if err := s.deps.Store.UpdateAgent(ctx, agent); err != nil {
			s.abortError(c, err)
			return
		}
		s.deps.Bridge.Emit(domain.NewEvent(domain.EventAgentStatusChanged, "", agent))
		reset++
	}
	if s.deps.Sampler != nil {
		s.deps.Sampler.Reset()
	}
	c.JSON(http.StatusOK, gin.H{"reset": reset})
}
