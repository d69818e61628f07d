package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

type executeRequest struct {
	TaskID        string `json:"task_id" binding:"required"`
	Tier          string `json:"tier"`
	ContextWindow int    `json:"context_window"`
}

// execute starts one agent-facing attempt for an assigned task. The
// attempt runs detached from the request; progress is observable through
// the task row and the event stream.
func (s *Server) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortValidation(c, err)
		return
	}

	task, err := s.deps.Store.GetTask(c.Request.Context(), req.TaskID)
	if err != nil {
		s.abortError(c, err)
		return
	}

	tier := domain.Tier(req.Tier)
	if tier == "" {
		tier = task.PreferredModel
	}
	if tier == "" {
		tier = domain.TierOllama
	}
	window := req.ContextWindow
	if window == 0 {
		window = 16384
		if task.Complexity >= 7 {
			window = 32768
		}
	}

	go func() {
		if err := s.deps.Executor.Execute(context.Background(), task.ID, tier, window); err != nil {
			s.logger.Warn("execute task %s: %v", task.ID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":        task.ID,
		"tier":           tier,
		"context_window": window,
		"started":        true,
	})
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	storeState := "ok"
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		storeState = err.Error()
	}

	body := gin.H{
		"status":    "ok",
		"store":     storeState,
		"resources": s.deps.Pool.Status(),
	}
	if s.deps.Hub != nil {
		body["ws_clients"] = s.deps.Hub.Count()
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// websocket upgrades the connection and replays recent events before
// streaming live ones.
func (s *Server) websocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}
	id := s.deps.Hub.Register(conn)
	s.logger.Debug("websocket client %s connected", id)

	// Reads are discarded; the socket is push-only. The read loop exists
	// to notice the peer going away.
	go func() {
		defer s.deps.Hub.Unregister(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
