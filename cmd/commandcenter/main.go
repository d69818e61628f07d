// Command commandcenter runs the orchestration engine: complexity
// routing, queueing, file locks, resource slots, execution with the
// retry ladder, stuck-task recovery, review sampling, and the
// HTTP/WebSocket surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/agentrpc"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/executor"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/locks"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/observability"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/pool"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/queue"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/recovery"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/review"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/router"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/server"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/workspace"
)

func main() {
	root := &cobra.Command{
		Use:           "commandcenter",
		Short:         "Orchestration engine for a fleet of code-producing agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "commandcenter: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	defer logging.Close()
	logger := logging.NewComponentLogger("Main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: postgres when DATABASE_URL is set, in-memory otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		st = store.NewPostgres(pgPool)
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Info("DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	// Work that was mid-flight when the previous process died cannot be
	// resumed; fail it so the queue stays truthful.
	if err := st.MarkStaleActive(ctx, "engine restarted"); err != nil {
		return fmt.Errorf("mark stale tasks: %w", err)
	}

	// Event bridge, optionally fanned out across processes via redis.
	var publisher events.Publisher
	if cfg.Bus.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Bus.RedisAddr,
			Password: cfg.Bus.RedisPassword,
			DB:       cfg.Bus.RedisDB,
		})
		defer client.Close()
		publisher = events.NewRedisPublisher(client, cfg.Bus.ChannelPrefix, cfg.Bus.PublishTimeout, logging.NewComponentLogger("RedisBus"))
		logger.Info("publishing events to redis at %s", cfg.Bus.RedisAddr)
	}
	bridge := events.NewBridge(publisher, logging.NewComponentLogger("EventBridge"))
	hub := events.NewHub(bridge, logging.NewComponentLogger("WSHub"))

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.Obs.MetricsEnabled,
		PrometheusPort: cfg.Obs.PrometheusPort,
	}, logging.NewComponentLogger("Metrics"))
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if metrics != nil {
		bridge.Subscribe(metrics)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics shutdown: %v", err)
			}
		}()
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Obs.TracingEnabled,
		Exporter:       cfg.Obs.TracingExporter,
		OTLPEndpoint:   cfg.Obs.OTLPEndpoint,
		ZipkinEndpoint: cfg.Obs.ZipkinEndpoint,
		SampleRate:     cfg.Obs.SampleRate,
		ServiceName:    cfg.Obs.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown: %v", err)
		}
	}()

	resourcePool := pool.New(cfg.Pool.OllamaSlots, cfg.Pool.ClaudeSlots, logging.NewComponentLogger("ResourcePool"))
	lockManager := locks.NewManager(st, cfg.Executor.LockTTL, logging.NewComponentLogger("FileLocks"))

	// Hosted gateway: execution on paid tiers, second opinions, reviews.
	var hosted *agentrpc.HostedClient
	if cfg.Runtime.HostedURL != "" {
		hosted = agentrpc.NewHostedClient(cfg.Runtime.HostedURL, cfg.Runtime.HostedAPIKey, cfg.Runtime.HostedTimeout, logging.NewComponentLogger("HostedRPC"))
	} else {
		logger.Warn("HOSTED_API_URL not set, paid tiers and code review disabled")
	}

	var opinion router.SecondOpinion
	if hosted != nil {
		opinion = hosted
	}
	complexityRouter := router.New(cfg.Router, opinion, logging.NewComponentLogger("Router"))

	local := agentrpc.NewHTTPRuntime(cfg.Runtime.LocalURL, cfg.Executor.AgentRPCTimeout, cfg.Retry.ValidationTimeout, logging.NewComponentLogger("LocalRPC"))
	var remote agentrpc.Runtime
	if cfg.Runtime.RemoteURL != "" {
		remote = agentrpc.NewHTTPRuntime(cfg.Runtime.RemoteURL, cfg.Executor.AgentRPCTimeout, cfg.Retry.ValidationTimeout, logging.NewComponentLogger("RemoteRPC"))
	}

	writer, err := workspace.NewWriter(cfg.WorkspaceDir, logging.NewComponentLogger("Workspace"))
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}

	var reviewer review.Reviewer
	if hosted != nil {
		reviewer = hosted
	}
	sampler := review.NewSampler(st, bridge, reviewer, cfg.Review, logging.NewComponentLogger("ReviewGate"))

	assigner := queue.New(st, lockManager, resourcePool, complexityRouter, bridge, logging.NewComponentLogger("TaskQueue"))

	var hostedRuntime agentrpc.Runtime
	if hosted != nil {
		hostedRuntime = hosted
	}
	exec := executor.New(executor.Deps{
		Store:     st,
		Locks:     lockManager,
		Pool:      resourcePool,
		Bridge:    bridge,
		Local:     local,
		Remote:    remote,
		Hosted:    hostedRuntime,
		Workspace: writer,
		Review:    sampler,
		Assigner:  assigner,
		Logger:    logging.NewComponentLogger("Executor"),
	}, cfg.Retry, cfg.Executor)

	sweeper := recovery.NewSweeper(st, lockManager, resourcePool, bridge, cfg.Recovery, logging.NewComponentLogger("Recovery"))

	// Expired file locks are garbage-collected on a schedule so crashed
	// holders cannot block paths forever.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 5m", func() { lockManager.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule lock sweep: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(cfg.Server, server.Deps{
		Store:    st,
		Assigner: assigner,
		Router:   complexityRouter,
		Locks:    lockManager,
		Pool:     resourcePool,
		Executor: exec,
		Sampler:  sampler,
		Hub:      hub,
		Bridge:   bridge,
		Logger:   logging.NewComponentLogger("HTTP"),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	group.Go(func() error {
		sweeper.Run(groupCtx)
		return nil
	})

	logger.Info("command center up on %s:%d", cfg.Server.Host, cfg.Server.Port)
	err = group.Wait()
	logger.Info("command center stopped")
	return err
}
