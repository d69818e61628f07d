package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

type createTaskRequest struct {
	Title             string   `json:"title" binding:"required"`
	Description       string   `json:"description"`
	TaskType          string   `json:"task_type"`
	Priority          int      `json:"priority"`
	Language          string   `json:"language"`
	MissionID         string   `json:"mission_id"`
	MaxIterations     int      `json:"max_iterations"`
	LockedFiles       []string `json:"locked_files"`
	ValidationCommand string   `json:"validation_command"`
	RequiredAgent     string   `json:"required_agent"`
	PreferredModel    string   `json:"preferred_model"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}
	if req.Priority < 0 || req.Priority > 10 {
		s.abortError(c, errors.E(errors.KindValidation, "priority must be between 0 and 10"))
		return
	}

	task := &domain.Task{
		Title:             req.Title,
		Description:       req.Description,
		TaskType:          domain.TaskType(req.TaskType),
		Priority:          req.Priority,
		Language:          req.Language,
		MissionID:         req.MissionID,
		MaxIterations:     req.MaxIterations,
		LockedFiles:       req.LockedFiles,
		ValidationCommand: req.ValidationCommand,
		RequiredAgent:     domain.AgentType(req.RequiredAgent),
		PreferredModel:    domain.Tier(req.PreferredModel),
		Status:            domain.StatusPending,
	}
	if task.TaskType == "" {
		task.TaskType = domain.TaskTypeCode
	}
	if task.Priority == 0 {
		task.Priority = 5
	}

	if err := s.deps.Store.CreateTask(c.Request.Context(), task); err != nil {
		s.abortError(c, err)
		return
	}
	s.deps.Bridge.Emit(domain.NewEvent(domain.EventTaskCreated, task.ID, task))
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	filter := store.TaskFilter{
		Status:    domain.Status(c.Query("status")),
		AgentID:   c.Query("agent"),
		TaskType:  domain.TaskType(c.Query("type")),
		MissionID: c.Query("mission"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.abortError(c, errors.E(errors.KindValidation, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	tasks, err := s.deps.Store.ListTasks(c.Request.Context(), filter)
	if err != nil {
		s.abortError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.deps.Store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type updateTaskRequest struct {
	Title             *string   `json:"title"`
	Description       *string   `json:"description"`
	Priority          *int      `json:"priority"`
	MaxIterations     *int      `json:"max_iterations"`
	LockedFiles       *[]string `json:"locked_files"`
	ValidationCommand *string   `json:"validation_command"`
	PreferredModel    *string   `json:"preferred_model"`
	Status            *string   `json:"status"`
}

func (s *Server) updateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}

	ctx := c.Request.Context()
	task, err := s.deps.Store.GetTask(ctx, c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > 10 {
			s.abortError(c, errors.E(errors.KindValidation, "priority must be between 0 and 10"))
			return
		}
		task.Priority = *req.Priority
	}
	if req.MaxIterations != nil {
		task.MaxIterations = *req.MaxIterations
	}
	if req.LockedFiles != nil {
		task.LockedFiles = *req.LockedFiles
	}
	if req.ValidationCommand != nil {
		task.ValidationCommand = *req.ValidationCommand
	}
	if req.PreferredModel != nil {
		task.PreferredModel = domain.Tier(*req.PreferredModel)
	}
	if req.Status != nil {
		to := domain.Status(*req.Status)
		if !task.Status.CanTransition(to) {
			s.abortError(c, errors.E(errors.KindConflict, "cannot move task from %s to %s", task.Status, to))
			return
		}
		task.Status = to
	}

	if err := s.deps.Store.UpdateTask(ctx, task, store.WithTransitionReason("updated via api")); err != nil {
		s.abortError(c, err)
		return
	}
	s.deps.Bridge.Emit(domain.NewEvent(domain.EventTaskUpdated, task.ID, task))
	c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	task, err := s.deps.Store.GetTask(ctx, id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	if task.Status.Active() {
		s.abortError(c, errors.E(errors.KindConflict, "task %s is %s; release it before deleting", id, task.Status))
		return
	}
	if err := s.deps.Store.DeleteTask(ctx, id); err != nil {
		s.abortError(c, err)
		return
	}
	s.deps.Bridge.Emit(domain.NewEvent(domain.EventTaskDeleted, id, gin.H{"id": id}))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) taskTransitions(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := s.deps.Store.GetTask(ctx, id); err != nil {
		s.abortError(c, err)
		return
	}
	transitions, err := s.deps.Store.Transitions(ctx, id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	if transitions == nil {
		transitions = []domain.Transition{}
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

type completeTaskRequest struct {
	Result domain.TaskResult `json:"result" binding:"required"`
}

// completeTask is the callback surface for runtimes that report results
// asynchronously instead of through /execute.
func (s *Server) completeTask(c *gin.Context) {
	var req completeTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}
	if err := s.deps.Executor.HandleTaskCompletion(c.Request.Context(), c.Param("id"), req.Result); err != nil {
		s.abortError(c, err)
		return
	}
	task, err := s.deps.Store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type failTaskRequest struct {
	Error string `json:"error" binding:"required"`
}

func (s *Server) failTask(c *gin.Context) {
	var req failTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}
	if err := s.deps.Executor.HandleTaskFailure(c.Request.Context(), c.Param("id"), req.Error); err != nil {
		s.abortError(c, err)
		return
	}
	task, err := s.deps.Store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
