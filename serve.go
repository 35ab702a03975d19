package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/auth"
	"github.com/aurachain/orchestrator/internal/config"
	"github.com/aurachain/orchestrator/internal/db"
	"github.com/aurachain/orchestrator/internal/health"
	"github.com/aurachain/orchestrator/internal/httpapi"
	"github.com/aurachain/orchestrator/internal/session"
	"github.com/aurachain/orchestrator/internal/streaming"
	"github.com/aurachain/orchestrator/internal/tracing"
	"github.com/aurachain/orchestrator/internal/workflows"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	loader, cfg, logger, level, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting orchestrator",
		zap.String("version", version),
		zap.String("config_file", loader.ConfigFile()),
		zap.String("streaming_backend", cfg.Streaming.Backend))

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Redis (v9) backs the event stream and uploaded datasets.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	var broker streaming.Broker
	switch cfg.Streaming.Backend {
	case "memory":
		broker = streaming.NewMemoryBroker(cfg.Streaming.BufferSize)
	default:
		broker = streaming.NewRedisBroker(redisClient, cfg.Streaming.BufferSize, logger.Named("broker"))
	}
	defer broker.Close()
	events := streaming.NewManager(broker, logger.Named("events"))

	sessions, err := session.Connect(ctx, cfg.Redis.URL, cfg.Redis.TTL, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessions.Close()

	var (
		dbClient *db.Client
		runStore *db.RunStore
		recorder workflows.RunRecorder
		reader   httpapi.RunReader
	)
	if cfg.Database.URL != "" {
		dbClient, err = db.Open(ctx, cfg.Database, logger.Named("db"))
		if err != nil {
			return err
		}
		defer dbClient.Close()
		runStore = db.NewRunStore(dbClient, logger.Named("runs"))
		if err := runStore.Migrate(ctx); err != nil {
			return err
		}
		recorder, reader = runStore, runStore

		if cfg.Database.Retention > 0 {
			janitor, err := db.NewJanitor(runStore, cfg.Database.Retention, cfg.Database.PruneSchedule, logger.Named("retention"))
			if err != nil {
				return fmt.Errorf("database.prune_schedule: %w", err)
			}
			janitor.Start()
			defer janitor.Stop()
		}
	} else {
		logger.Info("Run history disabled (database.url not set)")
	}

	llmClient := newLLMClient(cfg, logger)
	registry, err := newRegistry(cfg, llmClient, events, logger)
	if err != nil {
		return err
	}
	plans := newPlanner(cfg, llmClient, registry, logger)
	runner := agents.NewRunner(events, logger.Named("runner"))
	executor := workflows.NewExecutor(registry, runner, events, sessions, recorder,
		cfg.Orchestrator.MaxAgentsParallel, logger.Named("executor"))

	healthMgr := health.NewManager(logger.Named("health"))
	_ = healthMgr.RegisterChecker(health.NewRedisHealthChecker(redisClient, sessions.RedisWrapper().IsCircuitBreakerOpen, true))
	_ = healthMgr.RegisterChecker(health.NewLLMHealthChecker(cfg.LLM.APIKey, cfg.Orchestrator.Model, nil))
	if dbClient != nil {
		_ = healthMgr.RegisterChecker(health.NewDatabaseHealthChecker(dbClient, false))
	}

	var authMW *auth.Middleware
	if cfg.Auth.Enabled() {
		authMW = auth.NewMiddleware(auth.NewJWTManager(cfg.Auth.SecretKey, cfg.Auth.AccessTokenExpire), logger.Named("auth"))
		logger.Info("Bearer auth enabled")
	}

	streams := httpapi.NewStreamingHandler(events, cfg.Streaming.HeartbeatInterval, logger.Named("stream"))
	router := httpapi.NewRouter(httpapi.Options{
		APIPrefix:   cfg.App.APIPrefix,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, httpapi.Handlers{
		Query: httpapi.NewQueryHandler(plans, sessions, executor, httpapi.NewDatasetLoader(redisClient),
			httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst), logger.Named("query")),
		Streaming: streams,
		Catalog:   httpapi.NewCatalogHandler(registry, reader, logger.Named("catalog")),
		Health:    health.NewHTTPHandler(healthMgr, logger.Named("health")),
		Auth:      authMW,
	}, logger)

	loader.Watch(func(next *config.Config) {
		executor.SetMaxParallel(next.Orchestrator.MaxAgentsParallel)
		if err := level.UnmarshalText([]byte(next.Logging.Level)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", next.Logging.Level))
		}
		logger.Info("Runtime settings reloaded",
			zap.Int("max_agents_parallel", executor.MaxParallel()),
			zap.String("log_level", level.String()))
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	server.RegisterOnShutdown(streams.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", server.Addr),
			zap.String("api_prefix", cfg.App.APIPrefix))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down orchestrator service")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := executor.Wait(shutdownCtx); err != nil {
		logger.Warn("Background workflows still running at shutdown", zap.Error(err))
	}
	logger.Info("Orchestrator stopped")
	return nil
}
