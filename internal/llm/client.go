package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/circuitbreaker"
	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/tracing"
)

// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

var (
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("llm: API key not configured")
	// ErrEmptyCompletion is returned when the provider sends no choices.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// GenerateRequest is one single-turn completion call.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// GenerateResponse carries the completion text.
type GenerateResponse struct {
	Text  string
	Model string
}

// Client produces text completions.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return f(ctx, req)
}

// Config holds provider settings.
type Config struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	DefaultModel string        `mapstructure:"default_model"`
}

// OpenAIClient talks to any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIClient builds a client. httpClient may be nil, in which case a
// circuit-breaker guarded client is created. Retries are disabled.
func NewOpenAIClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if httpClient == nil {
		httpClient = circuitbreaker.NewHTTPClient("llm", "llm-api", circuitbreaker.GetLLMConfig(), logger)
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	)
	return &OpenAIClient{client: client, cfg: cfg, logger: logger}, nil
}

// Generate sends a system + user message pair and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	ctx, span := tracing.StartSpan(ctx, "llm.generate",
		attribute.String("llm.model", model),
		attribute.Int("llm.max_tokens", maxTokens))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordLLMMetrics(model, "error", elapsed)
		tracing.EndSpan(span, err)
		c.logger.Warn("LLM call failed", zap.String("model", model), zap.Error(err))
		return GenerateResponse{}, fmt.Errorf("llm generate (%s): %w", model, err)
	}
	if len(completion.Choices) == 0 {
		metrics.RecordLLMMetrics(model, "empty", elapsed)
		tracing.EndSpan(span, ErrEmptyCompletion)
		return GenerateResponse{}, ErrEmptyCompletion
	}

	metrics.RecordLLMMetrics(model, "ok", elapsed)
	tracing.EndSpan(span, nil)
	c.logger.Debug("LLM call completed",
		zap.String("model", completion.Model),
		zap.Int64("completion_tokens", completion.Usage.CompletionTokens),
		zap.Float64("seconds", elapsed))

	respModel := completion.Model
	if respModel == "" {
		respModel = model
	}
	return GenerateResponse{
		Text:  strings.TrimSpace(completion.Choices[0].Message.Content),
		Model: respModel,
	}, nil
}
