package agents

import (
	"context"
	"fmt"

	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/streaming"
)

// OrderManager drafts a purchase order processing plan.
type OrderManager struct {
	entry  CatalogEntry
	client llm.Client
	events *streaming.Manager
}

// NewOrderManager creates the order drafting agent.
func NewOrderManager(entry CatalogEntry, client llm.Client, events *streaming.Manager) *OrderManager {
	return &OrderManager{entry: entry, client: client, events: events}
}

// Process implements Agent.
func (o *OrderManager) Process(ctx context.Context, req Request) (Response, error) {
	o.events.PublishWorkerProgress(ctx, req.SessionID, OrderManagerName, 30, "Drafting purchase order...", nil)

	prompt := fmt.Sprintf("Process this order request and create a plan:\n\n%s\n\nParameters: %s\n\nProvide a detailed order processing plan.",
		req.Query, compactJSON(nonNil(req.Parameters)))

	resp, err := o.client.Generate(ctx, llm.GenerateRequest{
		Model:       o.entry.Model,
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   o.entry.MaxTokens,
	})
	if err != nil {
		return NewFailure(OrderManagerName, err.Error()), nil
	}

	o.events.PublishWorkerProgress(ctx, req.SessionID, OrderManagerName, 90, "Order plan ready for approval", nil)

	plan := resp.Text
	if plan == "" {
		plan = "Order processing plan"
	}
	return NewSuccess(OrderManagerName, map[string]any{
		"plan": plan,
		"order_details": map[string]any{
			"request":    req.Query,
			"parameters": nonNil(req.Parameters),
		},
	}), nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
