package agents

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/streaming"
)

// Dependencies are the collaborators of the built-in agents.
type Dependencies struct {
	LLM     llm.Client
	Events  *streaming.Manager
	Webhook WebhookSender
	Catalog Catalog
	Logger  *zap.Logger
}

// NewDefaultRegistry registers OrderManager, Notifier and a PromptAgent for
// every other catalog entry.
func NewDefaultRegistry(deps Dependencies) (*Registry, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("agents: llm client is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if len(deps.Catalog.Agents) == 0 {
		deps.Catalog = DefaultCatalog()
	}

	reg := NewRegistry()
	for _, entry := range deps.Catalog.Agents {
		var agent Agent
		switch entry.Name {
		case OrderManagerName:
			agent = NewOrderManager(entry, deps.LLM, deps.Events)
		case NotifierName:
			agent = NewNotifier(entry, deps.LLM, deps.Webhook, deps.Logger.Named("notifier"))
		default:
			agent = NewPromptAgent(entry, deps.LLM, deps.Events)
		}
		info := Info{Name: entry.Name, Description: entry.Description, Model: entry.Model}
		if err := reg.Register(info, agent); err != nil {
			return nil, err
		}
	}
	deps.Logger.Info("Agent registry ready", zap.Strings("agents", reg.Names()))
	return reg, nil
}
