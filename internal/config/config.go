package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/db"
	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/tracing"
)

// EnvPrefix prefixes every environment override, e.g. AURA_REDIS_URL.
const EnvPrefix = "AURA"

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	APIPrefix   string `mapstructure:"api_prefix"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type OrchestratorConfig struct {
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	PlanTimeout       time.Duration `mapstructure:"plan_timeout"`
	MaxAgentsParallel int           `mapstructure:"max_agents_parallel"`
}

type AgentsConfig struct {
	CatalogPath string            `mapstructure:"catalog_path"`
	Models      map[string]string `mapstructure:"models"`
}

type StreamingConfig struct {
	Backend           string        `mapstructure:"backend"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
}

type NotifierConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

type AuthConfig struct {
	SecretKey         string        `mapstructure:"secret_key"`
	Algorithm         string        `mapstructure:"algorithm"`
	AccessTokenExpire time.Duration `mapstructure:"access_token_expire"`
}

// Enabled reports whether bearer auth is enforced.
func (a AuthConfig) Enabled() bool { return a.SecretKey != "" }

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// Config is the full service configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     db.Config          `mapstructure:"database"`
	LLM          llm.Config         `mapstructure:"llm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Streaming    StreamingConfig    `mapstructure:"streaming"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
	Auth         AuthConfig         `mapstructure:"auth"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Streaming.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("streaming.backend must be redis or memory, got %q", c.Streaming.Backend)
	}
	if c.Orchestrator.MaxAgentsParallel < 1 {
		return fmt.Errorf("orchestrator.max_agents_parallel must be at least 1")
	}
	if c.Streaming.HeartbeatInterval <= 0 {
		return fmt.Errorf("streaming.heartbeat_interval must be positive")
	}
	if c.Auth.Enabled() && c.Auth.Algorithm != "HS256" {
		return fmt.Errorf("auth.algorithm %q is not supported", c.Auth.Algorithm)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "AURA Chain")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.api_prefix", "/api/v1")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("database.retention", 0)
	v.SetDefault("database.prune_schedule", "0 3 * * *")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.default_model", "llama-3.3-70b-versatile")

	v.SetDefault("orchestrator.model", "llama-3.3-70b-versatile")
	v.SetDefault("orchestrator.temperature", 0.2)
	v.SetDefault("orchestrator.max_tokens", 1000)
	v.SetDefault("orchestrator.plan_timeout", 0)
	v.SetDefault("orchestrator.max_agents_parallel", 3)

	v.SetDefault("agents.catalog_path", "")
	v.SetDefault("agents.models", map[string]string{})

	v.SetDefault("streaming.backend", "redis")
	v.SetDefault("streaming.heartbeat_interval", 15*time.Second)
	v.SetDefault("streaming.buffer_size", 64)

	v.SetDefault("notifier.discord_webhook_url", "")

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.access_token_expire", 30*time.Minute)

	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "aurachain-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// legacyEnv maps keys to the plain environment names used by existing
// deployments. AURA_-prefixed names take precedence.
var legacyEnv = map[string]string{
	"redis.url":                        "REDIS_URL",
	"llm.api_key":                      "GROQ_API_KEY",
	"notifier.discord_webhook_url":     "DISCORD_WEBHOOK_URL",
	"orchestrator.max_agents_parallel": "MAX_AGENTS_PARALLEL",
	"llm.timeout":                      "API_TIMEOUT",
	"database.url":                     "DATABASE_URL",
	"auth.secret_key":                  "SECRET_KEY",
	"logging.level":                    "LOG_LEVEL",
}

// Loader reads configuration and publishes reloads.
type Loader struct {
	v      *viper.Viper
	logger *zap.Logger

	mu       sync.Mutex
	handlers []func(*Config)
	watching bool
}

// NewLoader prepares a loader. path may be empty, in which case AURA_CONFIG
// or ./config.yaml is used when present and defaults plus environment
// otherwise.
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv("AURA_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Info("No config file found, using defaults and environment")
	}
	return &Loader{v: v, logger: logger}, nil
}

// Load builds and validates a Config from the current sources.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	err := l.v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Orchestrator.PlanTimeout <= 0 {
		cfg.Orchestrator.PlanTimeout = cfg.LLM.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "".
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded Config whenever the config file changes.
// Invalid reloads are logged and skipped. Without a config file Watch is a
// no-op.
func (l *Loader) Watch(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, fn)
	if l.watching || l.v.ConfigFileUsed() == "" {
		return
	}
	l.watching = true
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.reload(e)
	})
	l.v.WatchConfig()
	l.logger.Info("Watching config file", zap.String("path", l.v.ConfigFileUsed()))
}

func (l *Loader) reload(e fsnotify.Event) {
	cfg, err := l.Load()
	if err != nil {
		l.logger.Warn("Ignoring invalid config reload", zap.String("file", e.Name), zap.Error(err))
		return
	}
	l.logger.Info("Config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	l.mu.Lock()
	handlers := append([]func(*Config){}, l.handlers...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(cfg)
	}
}

// Load reads configuration from path (or the default locations).
func Load(path string, logger *zap.Logger) (*Config, error) {
	l, err := NewLoader(path, logger)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// secondsToDurationHook accepts bare numbers for durations and reads them as
// seconds, so API_TIMEOUT=60 means one minute.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}
