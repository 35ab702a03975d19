package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/streaming"
	"github.com/aurachain/orchestrator/internal/util"
)

const (
	maxDatasetPreview  = 5
	maxUpstreamPreview = 2000
)

// PromptAgent is a catalog-driven analytical agent: one LLM call shaped by
// the entry's system prompt.
type PromptAgent struct {
	entry  CatalogEntry
	client llm.Client
	events *streaming.Manager
}

// NewPromptAgent creates an agent for entry.
func NewPromptAgent(entry CatalogEntry, client llm.Client, events *streaming.Manager) *PromptAgent {
	return &PromptAgent{entry: entry, client: client, events: events}
}

// Process implements Agent.
func (a *PromptAgent) Process(ctx context.Context, req Request) (Response, error) {
	a.events.PublishWorkerProgress(ctx, req.SessionID, a.entry.Name, 10, "Analyzing request...", nil)

	system := a.entry.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are %s, a specialized AI agent.", a.entry.Name)
	}
	resp, err := a.client.Generate(ctx, llm.GenerateRequest{
		Model:       a.entry.Model,
		System:      system,
		Prompt:      buildAnalysisPrompt(req),
		Temperature: a.entry.Temperature,
		MaxTokens:   a.entry.MaxTokens,
	})
	if err != nil {
		return Response{}, err
	}

	return NewSuccess(a.entry.Name, map[string]any{
		"analysis": resp.Text,
		"model":    resp.Model,
	}), nil
}

func buildAnalysisPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n", req.Query)
	if task, ok := req.Context[TaskContextKey].(string); ok && task != "" && task != req.Query {
		fmt.Fprintf(&b, "\nYour task: %s\n", task)
	}

	if len(req.Parameters) > 0 {
		fmt.Fprintf(&b, "\nParameters: %s\n", compactJSON(req.Parameters))
	}

	if records, ok := req.Context["dataset"].([]any); ok && len(records) > 0 {
		n := len(records)
		if n > maxDatasetPreview {
			n = maxDatasetPreview
		}
		fmt.Fprintf(&b, "\nDataset: %d records. First %d:\n%s\n", len(records), n, compactJSON(records[:n]))
	}

	keys := make([]string, 0)
	for k := range req.Context {
		if strings.HasSuffix(k, "_output") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\nResult of %s:\n%s\n", strings.TrimSuffix(k, "_output"),
			util.TruncateString(compactJSON(req.Context[k]), maxUpstreamPreview, false))
	}

	if summary, ok := req.Context["history_summary"].(string); ok && summary != "" {
		fmt.Fprintf(&b, "\nConversation so far:\n%s\n", summary)
	}
	return b.String()
}

func compactJSON(v any) string {
	b, err := json.Marshal(util.Sanitize(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
