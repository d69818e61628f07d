package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
)

func (s *Server) queueSnapshot(c *gin.Context) {
	snapshot, err := s.deps.Assigner.Snapshot(c.Request.Context())
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type assignRequest struct {
	TaskID  string `json:"task_id" binding:"required"`
	AgentID string `json:"agent_id" binding:"required"`
}

func (s *Server) assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}
	task, err := s.deps.Assigner.AssignTask(c.Request.Context(), req.TaskID, req.AgentID)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type autoAssignRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

func (s *Server) autoAssign(c *gin.Context) {
	var req autoAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}
	task, err := s.deps.Assigner.AssignNextTask(c.Request.Context(), req.AgentID)
	if err != nil {
		s.abortError(c, err)
		return
	}
	if task == nil {
		c.JSON(http.StatusOK, gin.H{"assigned": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true, "task": task})
}

func (s *Server) smartAssign(c *gin.Context) {
	task, decision, err := s.deps.Assigner.SmartAssign(c.Request.Context())
	if err != nil {
		s.abortError(c, err)
		return
	}
	if task == nil {
		c.JSON(http.StatusOK, gin.H{"assigned": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true, "task": task, "decision": decision})
}

func (s *Server) parallelAssign(c *gin.Context) {
	task, decision, err := s.deps.Assigner.ParallelAssign(c.Request.Context())
	if err != nil {
		s.abortError(c, err)
		return
	}
	if task == nil {
		c.JSON(http.StatusOK, gin.H{"assigned": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assigned": true, "task": task, "decision": decision})
}

func (s *Server) routePreview(c *gin.Context) {
	ctx := c.Request.Context()
	task, err := s.deps.Store.GetTask(ctx, c.Param("taskId"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	idle, err := s.deps.Store.IdleAgents(ctx, "")
	if err != nil {
		s.abortError(c, err)
		return
	}
	decision, err := s.deps.Router.Preview(ctx, task, idle)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) listLocks(c *gin.Context) {
	locks, err := s.deps.Locks.LockedFiles(c.Request.Context())
	if err != nil {
		s.abortError(c, err)
		return
	}
	if locks == nil {
		locks = []domain.FileLock{}
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

// releaseLock is the emergency valve for a wedged path.
func (s *Server) releaseLock(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		s.abortError(c, errors.E(errors.KindValidation, "lock path required"))
		return
	}
	if err := s.deps.Locks.Unlock(c.Request.Context(), path); err != nil {
		s.abortError(c, err)
		return
	}
	s.logger.Warn("lock on %s released via api", path)
	c.JSON(http.StatusOK, gin.H{"released": path})
}

func (s *Server) resources(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Pool.Status())
}

func (s *Server) clearResources(c *gin.Context) {
	s.deps.Pool.Clear()
	if s.deps.Sampler != nil {
		s.deps.Sampler.Reset()
	}
	s.logger.Warn("resource pool cleared via api")
	c.JSON(http.StatusOK, s.deps.Pool.Status())
}
