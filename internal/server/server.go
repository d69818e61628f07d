// Package server exposes the engine over HTTP and WebSocket: task CRUD,
// queue operations, agent management, execution, metrics and health.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/executor"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/locks"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/pool"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/queue"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/router"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

// CounterReset is the admin hook for in-memory sampling counters.
type CounterReset interface {
	Reset()
}

// Deps bundles the server's collaborators.
type Deps struct {
	Store    store.Store
	Assigner *queue.Assigner
	Router   *router.Router
	Locks    *locks.Manager
	Pool     *pool.ResourcePool
	Executor *executor.Executor
	Sampler  CounterReset
	Hub      *events.Hub
	Bridge   *events.Bridge
	Logger   logging.Logger
}

// Server is the HTTP/WebSocket surface.
type Server struct {
	cfg      config.ServerConfig
	deps     Deps
	engine   *gin.Engine
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// New builds the server and its route table.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrNop(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	return s
}

// Handler returns the root handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), s.requestLog())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) == 1 && s.cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsCfg))

	engine.GET("/health", s.health)
	engine.GET("/ws", s.websocket)

	tasks := engine.Group("/tasks")
	{
		tasks.POST("", s.createTask)
		tasks.GET("", s.listTasks)
		tasks.GET("/:id", s.getTask)
		tasks.PATCH("/:id", s.updateTask)
		tasks.DELETE("/:id", s.deleteTask)
		tasks.GET("/:id/transitions", s.taskTransitions)
		tasks.POST("/:id/complete", s.completeTask)
		tasks.POST("/:id/fail", s.failTask)
	}

	q := engine.Group("/queue")
	{
		q.GET("", s.queueSnapshot)
		q.POST("/assign", s.assign)
		q.POST("/auto-assign", s.autoAssign)
		q.POST("/smart-assign", s.smartAssign)
		q.POST("/parallel-assign", s.parallelAssign)
		q.GET("/:taskId/route", s.routePreview)
		q.GET("/locks", s.listLocks)
		q.DELETE("/locks/*path", s.releaseLock)
		q.GET("/resources", s.resources)
		q.POST("/resources/clear", s.clearResources)
	}

	agents := engine.Group("/agents")
	{
		agents.GET("", s.listAgents)
		agents.POST("", s.createAgent)
		agents.GET("/:id", s.getAgent)
		agents.PATCH("/:id", s.updateAgent)
		agents.POST("/reset-all", s.resetAgents)
	}

	engine.POST("/execute", s.execute)

	metrics := engine.Group("/metrics")
	{
		metrics.GET("/overview", s.metricsOverview)
		metrics.GET("/timeline", s.metricsTimeline)
		metrics.GET("/distribution", s.metricsDistribution)
		metrics.GET("/success-rate", s.metricsSuccessRate)
		metrics.GET("/success-rate/by-agent", s.metricsSuccessRateByAgent)
		metrics.GET("/complexity-distribution", s.metricsComplexity)
	}

	return engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

// requestID echoes the caller's X-Request-ID or mints one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%s) rid=%s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started), c.GetString("request_id"))
	}
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string       `json:"error"`
	Details []fieldError `json:"details,omitempty"`
}

func (s *Server) abortError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) abortValidation(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
}
