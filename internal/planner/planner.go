package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/llm"
	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/tracing"
)

const systemPrompt = `You are the AURA Chain orchestrator. You decide which specialist agents must run, and in which order, to answer a supply chain request.

Available agents:
%s
Rules:
- Use only the agent names listed above.
- List agents in execution order. Later agents can read the results of earlier ones.
- Set "independent": true only on consecutive agents that do not need each other's output.
- Notifier must come after OrderManager.
- Put agent-specific options (for example the Notifier "type": info, warning, alert or success) in "parameters".

Respond with JSON only, no prose:
{"reasoning": "...", "agents": [{"agent": "Name", "task": "...", "parameters": {}, "independent": false}]}`

// Config tunes the planning call.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Planner turns a request into a validated Plan using an LLM as the
// planning oracle.
type Planner struct {
	client   llm.Client
	registry *agents.Registry
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Planner validating against registry.
func New(client llm.Client, registry *agents.Registry, cfg Config, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	return &Planner{client: client, registry: registry, cfg: cfg, logger: logger, now: time.Now}
}

type rawPlan struct {
	Reasoning string `json:"reasoning"`
	Agents    []struct {
		Agent       string         `json:"agent"`
		Task        string         `json:"task"`
		Parameters  map[string]any `json:"parameters"`
		Independent bool           `json:"independent"`
	} `json:"agents"`
}

// CreatePlan asks the oracle for a plan and validates it. Any failure is a
// *PlanningError and no plan is returned.
func (p *Planner) CreatePlan(ctx context.Context, req agents.Request) (*Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "planner.create_plan",
		attribute.String("session.id", req.SessionID))
	start := time.Now()

	plan, err := p.createPlan(ctx, req)

	metrics.PlanDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "other"
		if pe, ok := err.(*PlanningError); ok {
			reason = pe.Reason()
		}
		metrics.PlansFailed.WithLabelValues(reason).Inc()
		p.logger.Warn("Planning failed", zap.String("reason", reason), zap.Error(err))
		tracing.EndSpan(span, err)
		return nil, err
	}

	metrics.PlansCreated.Inc()
	metrics.PlanSteps.Observe(float64(len(plan.Assignments)))
	span.SetAttributes(attribute.StringSlice("plan.agents", plan.AgentNames()))
	tracing.EndSpan(span, nil)
	p.logger.Info("Plan created",
		zap.String("plan_id", plan.ID),
		zap.Strings("agents", plan.AgentNames()),
		zap.Int("stages", len(plan.Stages())))
	return plan, nil
}

func (p *Planner) createPlan(ctx context.Context, req agents.Request) (*Plan, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.Generate(callCtx, llm.GenerateRequest{
		Model:       p.cfg.Model,
		System:      p.systemPrompt(),
		Prompt:      userPrompt(req),
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return nil, &PlanningError{Kind: ErrOracle, Err: err}
	}

	raw, ok := extractJSONObject(resp.Text)
	if !ok {
		return nil, &PlanningError{Kind: ErrMalformedPlan, Err: fmt.Errorf("no JSON object in model output")}
	}
	var decoded rawPlan
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, &PlanningError{Kind: ErrMalformedPlan, Err: err}
	}
	if len(decoded.Agents) == 0 {
		return nil, &PlanningError{Kind: ErrEmptyPlan}
	}

	plan := &Plan{
		ID:          uuid.NewString(),
		Reasoning:   strings.TrimSpace(decoded.Reasoning),
		Assignments: make([]Assignment, 0, len(decoded.Agents)),
		CreatedAt:   p.now().UTC(),
	}
	for _, a := range decoded.Agents {
		name, known := p.registry.Canonical(a.Agent)
		if !known {
			return nil, &PlanningError{Kind: ErrUnknownAgent, Agent: a.Agent}
		}
		task := strings.TrimSpace(a.Task)
		if task == "" {
			task = req.Query
		}
		plan.Assignments = append(plan.Assignments, Assignment{
			Agent:       name,
			Task:        task,
			Parameters:  a.Parameters,
			Independent: a.Independent,
		})
	}
	return plan, nil
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	for _, info := range p.registry.Describe() {
		fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
	}
	return fmt.Sprintf(systemPrompt, b.String())
}

func userPrompt(req agents.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", req.Query)
	if len(req.Parameters) > 0 {
		if params, err := json.Marshal(req.Parameters); err == nil {
			fmt.Fprintf(&b, "Parameters: %s\n", params)
		}
	}
	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		fmt.Fprintf(&b, "Available context: %s\n", strings.Join(keys, ", "))
	}
	if summary, ok := req.Context["history_summary"].(string); ok && summary != "" {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n", summary)
	}
	return b.String()
}

// extractJSONObject finds the first balanced JSON object in model output,
// tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		body := text[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		if obj, ok := scanObject(body); ok {
			return obj, true
		}
	}
	return scanObject(text)
}

func scanObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		depth, inString, escaped := 0, false, false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if gjson.Valid(candidate) {
						return candidate, true
					}
					i = len(text)
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}
