package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/circuitbreaker"
	"github.com/aurachain/orchestrator/internal/config"
	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/planner"
	"github.com/aurachain/orchestrator/internal/streaming"
)

var (
	version = "dev"
	cfgFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aurachain",
		Short:         "AURA Chain orchestration service",
		Long:          `Plans supply-chain queries with an LLM, runs the planned agents in the background and streams their progress to observers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: $AURA_CONFIG or ./config.yaml)")

	root.AddCommand(newServeCmd(), newPlanCmd(), newTokenCmd())
	return root
}

// bootstrap loads configuration and builds the service logger.
func bootstrap() (*config.Loader, *config.Config, *zap.Logger, zap.AtomicLevel, error) {
	boot, err := zap.NewProduction()
	if err != nil {
		return nil, nil, nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	loader, err := config.NewLoader(cfgFile, boot)
	if err != nil {
		return nil, nil, nil, zap.AtomicLevel{}, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, zap.AtomicLevel{}, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, level, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, zap.AtomicLevel{}, err
	}
	logger = logger.With(zap.String("service", cfg.App.Name), zap.String("env", cfg.App.Environment))
	return loader, cfg, logger, level, nil
}

// newLogger builds a zap logger whose level can be changed at runtime.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, level, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, level, nil
}

// newLLMClient returns the provider client, or a client that fails every
// call when no API key is configured so the service can still start.
func newLLMClient(cfg *config.Config, logger *zap.Logger) llm.Client {
	client, err := llm.NewOpenAIClient(cfg.LLM, nil, logger.Named("llm"))
	if err != nil {
		logger.Warn("LLM client unavailable; planning and agents will fail", zap.Error(err))
		return llm.Func(func(context.Context, llm.GenerateRequest) (llm.GenerateResponse, error) {
			return llm.GenerateResponse{}, err
		})
	}
	return client
}

// newRegistry builds the agent registry from the catalog and model overrides.
func newRegistry(cfg *config.Config, client llm.Client, events *streaming.Manager, logger *zap.Logger) (*agents.Registry, error) {
	catalog, err := agents.LoadCatalog(cfg.Agents.CatalogPath)
	if err != nil {
		return nil, err
	}
	catalog = catalog.WithModels(cfg.Agents.Models)

	var webhook agents.WebhookSender
	if url := cfg.Notifier.DiscordWebhookURL; url != "" {
		httpClient := circuitbreaker.NewHTTPClient("discord", "webhook", circuitbreaker.GetHTTPConfig(), logger)
		hook, err := agents.NewDiscordWebhook(url, httpClient)
		if err != nil {
			logger.Warn("Discord webhook disabled, notifications go to the log", zap.Error(err))
		} else {
			webhook = hook
		}
	}

	return agents.NewDefaultRegistry(agents.Dependencies{
		LLM:     client,
		Events:  events,
		Webhook: webhook,
		Catalog: catalog,
		Logger:  logger.Named("agents"),
	})
}

func newPlanner(cfg *config.Config, client llm.Client, registry *agents.Registry, logger *zap.Logger) *planner.Planner {
	return planner.New(client, registry, planner.Config{
		Model:       cfg.Orchestrator.Model,
		Temperature: cfg.Orchestrator.Temperature,
		MaxTokens:   cfg.Orchestrator.MaxTokens,
		Timeout:     cfg.Orchestrator.PlanTimeout,
	}, logger.Named("planner"))
}
