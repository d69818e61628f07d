// Package config loads engine configuration from the environment.
//
// Every tunable named in the external contract lives here; business logic
// never reads the environment directly and never hard-codes thresholds.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
)

// RetryConfig tunes the auto-retry ladder.
type RetryConfig struct {
	Enabled           bool
	MaxOllamaRetries  int
	MaxRemoteRetries  int
	MaxHaikuRetries   int
	MaxTotalRetries   int
	ValidationTimeout time.Duration
}

// RecoveryConfig tunes the stuck-task sweeper.
type RecoveryConfig struct {
	Enabled       bool
	TaskTimeout   time.Duration
	CheckInterval time.Duration
}

// ReviewConfig tunes the code review gate.
type ReviewConfig struct {
	OllamaInterval   int
	OpusInterval     int
	QualityThreshold int
	// Completions with complexity above this band feed the all-task counter.
	ComplexityFloor float64
}

// RouterConfig tunes complexity routing.
type RouterConfig struct {
	ComplexityThreshold float64
	// Second-opinion band: tasks with heuristic complexity inside
	// [DualBandLow, DualBandHigh] get a hosted estimate.
	DualEnabled  bool
	DualBandLow  float64
	DualBandHigh float64
	DualTimeout  time.Duration
}

// PoolConfig sets resource slot capacities.
type PoolConfig struct {
	OllamaSlots int
	ClaudeSlots int
}

// ExecutorConfig tunes executor-side behavior outside the ladder.
type ExecutorConfig struct {
	// Rest delay applied to an agent after a local-tier execution.
	CooldownMin time.Duration
	CooldownMax time.Duration
	// Local executions between context resets on the agent runtime.
	ContextResetInterval int
	LockTTL              time.Duration
	AgentRPCTimeout      time.Duration
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// BusConfig configures the cross-process pub/sub bus.
type BusConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ChannelPrefix  string
	PublishTimeout time.Duration
}

// RuntimeConfig locates the model runtimes.
type RuntimeConfig struct {
	LocalURL      string
	RemoteURL     string
	HostedURL     string
	HostedAPIKey  string
	HostedTimeout time.Duration
}

// ObservabilityConfig configures metrics and tracing exporters.
type ObservabilityConfig struct {
	MetricsEnabled  bool
	PrometheusPort  int
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	ZipkinEndpoint  string
	SampleRate      float64
	ServiceName     string
}

// Config is the root engine configuration.
type Config struct {
	DatabaseURL  string
	WorkspaceDir string
	LogLevel     string

	Retry    RetryConfig
	Recovery RecoveryConfig
	Review   ReviewConfig
	Router   RouterConfig
	Pool     PoolConfig
	Executor ExecutorConfig
	Server   ServerConfig
	Bus      BusConfig
	Obs      ObservabilityConfig
	Runtime  RuntimeConfig
}

// Load reads configuration from the environment with contract defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("AUTO_RETRY_ENABLED", true)
	v.SetDefault("AUTO_RETRY_MAX_OLLAMA_RETRIES", 1)
	v.SetDefault("AUTO_RETRY_MAX_REMOTE_RETRIES", 1)
	v.SetDefault("AUTO_RETRY_MAX_HAIKU_RETRIES", 1)
	v.SetDefault("AUTO_RETRY_MAX_TOTAL_RETRIES", 3)
	v.SetDefault("AUTO_RETRY_VALIDATION_TIMEOUT_MS", 15000)

	v.SetDefault("STUCK_TASK_TIMEOUT_MS", 600000)
	v.SetDefault("STUCK_TASK_CHECK_INTERVAL_MS", 60000)
	v.SetDefault("STUCK_TASK_RECOVERY_ENABLED", true)

	v.SetDefault("OLLAMA_REVIEW_INTERVAL", 5)
	v.SetDefault("OPUS_REVIEW_INTERVAL", 10)
	v.SetDefault("REVIEW_QUALITY_THRESHOLD", 6)
	v.SetDefault("REVIEW_COMPLEXITY_FLOOR", 5.0)

	v.SetDefault("OLLAMA_COMPLEXITY_THRESHOLD", 7)
	v.SetDefault("ROUTER_DUAL_ENABLED", true)
	v.SetDefault("ROUTER_DUAL_BAND_LOW", 4.0)
	v.SetDefault("ROUTER_DUAL_BAND_HIGH", 7.0)
	v.SetDefault("ROUTER_DUAL_TIMEOUT_MS", 10000)

	v.SetDefault("RESOURCE_POOL_OLLAMA_SLOTS", 1)
	v.SetDefault("RESOURCE_POOL_CLAUDE_SLOTS", 3)

	v.SetDefault("EXECUTOR_COOLDOWN_MIN_MS", 2000)
	v.SetDefault("EXECUTOR_COOLDOWN_MAX_MS", 5000)
	v.SetDefault("EXECUTOR_CONTEXT_RESET_INTERVAL", 3)
	v.SetDefault("FILE_LOCK_TTL_MS", 1800000)
	v.SetDefault("AGENT_RPC_TIMEOUT_MS", 1200000)

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 3001)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "*")
	v.SetDefault("SERVER_READ_TIMEOUT_MS", 30000)
	v.SetDefault("SERVER_WRITE_TIMEOUT_MS", 30000)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("BUS_CHANNEL_PREFIX", "commandcenter")
	v.SetDefault("BUS_PUBLISH_TIMEOUT_MS", 2000)

	v.SetDefault("LOCAL_RUNTIME_URL", "http://localhost:8001")
	v.SetDefault("REMOTE_RUNTIME_URL", "")
	v.SetDefault("HOSTED_API_URL", "")
	v.SetDefault("HOSTED_API_KEY", "")
	v.SetDefault("HOSTED_API_TIMEOUT_MS", 120000)

	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("PROMETHEUS_PORT", 9464)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "otlp")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("ZIPKIN_ENDPOINT", "")
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)
	v.SetDefault("SERVICE_NAME", "commandcenter")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("WORKSPACE_DIR", "./workspace")
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		DatabaseURL:  v.GetString("DATABASE_URL"),
		WorkspaceDir: v.GetString("WORKSPACE_DIR"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		Retry: RetryConfig{
			Enabled:           v.GetBool("AUTO_RETRY_ENABLED"),
			MaxOllamaRetries:  v.GetInt("AUTO_RETRY_MAX_OLLAMA_RETRIES"),
			MaxRemoteRetries:  v.GetInt("AUTO_RETRY_MAX_REMOTE_RETRIES"),
			MaxHaikuRetries:   v.GetInt("AUTO_RETRY_MAX_HAIKU_RETRIES"),
			MaxTotalRetries:   v.GetInt("AUTO_RETRY_MAX_TOTAL_RETRIES"),
			ValidationTimeout: time.Duration(v.GetInt("AUTO_RETRY_VALIDATION_TIMEOUT_MS")) * time.Millisecond,
		},
		Recovery: RecoveryConfig{
			Enabled:       v.GetBool("STUCK_TASK_RECOVERY_ENABLED"),
			TaskTimeout:   time.Duration(v.GetInt("STUCK_TASK_TIMEOUT_MS")) * time.Millisecond,
			CheckInterval: time.Duration(v.GetInt("STUCK_TASK_CHECK_INTERVAL_MS")) * time.Millisecond,
		},
		Review: ReviewConfig{
			OllamaInterval:   v.GetInt("OLLAMA_REVIEW_INTERVAL"),
			OpusInterval:     v.GetInt("OPUS_REVIEW_INTERVAL"),
			QualityThreshold: v.GetInt("REVIEW_QUALITY_THRESHOLD"),
			ComplexityFloor:  v.GetFloat64("REVIEW_COMPLEXITY_FLOOR"),
		},
		Router: RouterConfig{
			ComplexityThreshold: v.GetFloat64("OLLAMA_COMPLEXITY_THRESHOLD"),
			DualEnabled:         v.GetBool("ROUTER_DUAL_ENABLED"),
			DualBandLow:         v.GetFloat64("ROUTER_DUAL_BAND_LOW"),
			DualBandHigh:        v.GetFloat64("ROUTER_DUAL_BAND_HIGH"),
			DualTimeout:         time.Duration(v.GetInt("ROUTER_DUAL_TIMEOUT_MS")) * time.Millisecond,
		},
		Pool: PoolConfig{
			OllamaSlots: v.GetInt("RESOURCE_POOL_OLLAMA_SLOTS"),
			ClaudeSlots: v.GetInt("RESOURCE_POOL_CLAUDE_SLOTS"),
		},
		Executor: ExecutorConfig{
			CooldownMin:          time.Duration(v.GetInt("EXECUTOR_COOLDOWN_MIN_MS")) * time.Millisecond,
			CooldownMax:          time.Duration(v.GetInt("EXECUTOR_COOLDOWN_MAX_MS")) * time.Millisecond,
			ContextResetInterval: v.GetInt("EXECUTOR_CONTEXT_RESET_INTERVAL"),
			LockTTL:              time.Duration(v.GetInt("FILE_LOCK_TTL_MS")) * time.Millisecond,
			AgentRPCTimeout:      time.Duration(v.GetInt("AGENT_RPC_TIMEOUT_MS")) * time.Millisecond,
		},
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			AllowedOrigins: splitOrigins(v.GetString("SERVER_ALLOWED_ORIGINS")),
			ReadTimeout:    time.Duration(v.GetInt("SERVER_READ_TIMEOUT_MS")) * time.Millisecond,
			WriteTimeout:   time.Duration(v.GetInt("SERVER_WRITE_TIMEOUT_MS")) * time.Millisecond,
		},
		Bus: BusConfig{
			RedisAddr:      v.GetString("REDIS_ADDR"),
			RedisPassword:  v.GetString("REDIS_PASSWORD"),
			RedisDB:        v.GetInt("REDIS_DB"),
			ChannelPrefix:  v.GetString("BUS_CHANNEL_PREFIX"),
			PublishTimeout: time.Duration(v.GetInt("BUS_PUBLISH_TIMEOUT_MS")) * time.Millisecond,
		},
		Obs: ObservabilityConfig{
			MetricsEnabled:  v.GetBool("METRICS_ENABLED"),
			PrometheusPort:  v.GetInt("PROMETHEUS_PORT"),
			TracingEnabled:  v.GetBool("TRACING_ENABLED"),
			TracingExporter: v.GetString("TRACING_EXPORTER"),
			OTLPEndpoint:    v.GetString("OTLP_ENDPOINT"),
			ZipkinEndpoint:  v.GetString("ZIPKIN_ENDPOINT"),
			SampleRate:      v.GetFloat64("TRACING_SAMPLE_RATE"),
			ServiceName:     v.GetString("SERVICE_NAME"),
		},
		Runtime: RuntimeConfig{
			LocalURL:      v.GetString("LOCAL_RUNTIME_URL"),
			RemoteURL:     v.GetString("REMOTE_RUNTIME_URL"),
			HostedURL:     v.GetString("HOSTED_API_URL"),
			HostedAPIKey:  v.GetString("HOSTED_API_KEY"),
			HostedTimeout: time.Duration(v.GetInt("HOSTED_API_TIMEOUT_MS")) * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxTotalRetries < 0 {
		return errors.E(errors.KindValidation, "AUTO_RETRY_MAX_TOTAL_RETRIES must be >= 0")
	}
	if c.Pool.OllamaSlots < 1 || c.Pool.ClaudeSlots < 1 {
		return errors.E(errors.KindValidation, "resource pool slot counts must be >= 1")
	}
	if c.Recovery.TaskTimeout <= 0 || c.Recovery.CheckInterval <= 0 {
		return errors.E(errors.KindValidation, "stuck-task timeout and interval must be positive")
	}
	if c.Review.OllamaInterval < 1 || c.Review.OpusInterval < 1 {
		return errors.E(errors.KindValidation, "review intervals must be >= 1")
	}
	if c.Router.DualBandLow > c.Router.DualBandHigh {
		return errors.E(errors.KindValidation, "router dual band low exceeds high")
	}
	if c.Executor.CooldownMin > c.Executor.CooldownMax {
		return errors.E(errors.KindValidation, "cooldown min exceeds max")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.E(errors.KindValidation, "server port out of range")
	}
	return nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
