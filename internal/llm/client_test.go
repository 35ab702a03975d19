package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, status int, body string, seen *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestOpenAIClientGenerate(t *testing.T) {
	var seen chatRequest
	srv := completionServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "llama-3.1-8b-instant",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "  Order drafted.  "}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
	}`, &seen)
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/openai/v1", Timeout: 5 * time.Second}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:       "llama-3.1-8b-instant",
		System:      "You manage purchase orders.",
		Prompt:      "restock widgets",
		Temperature: 0.3,
		MaxTokens:   150,
	})
	require.NoError(t, err)
	assert.Equal(t, "Order drafted.", resp.Text)
	assert.Equal(t, "llama-3.1-8b-instant", resp.Model)

	assert.Equal(t, "llama-3.1-8b-instant", seen.Model)
	assert.InDelta(t, 0.3, seen.Temperature, 1e-9)
	assert.Equal(t, 150, seen.MaxTokens)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "user", seen.Messages[1].Role)
	assert.Equal(t, "restock widgets", seen.Messages[1].Content)
}

func TestOpenAIClientDefaults(t *testing.T) {
	var seen chatRequest
	srv := completionServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`, &seen)
	defer srv.Close()

	c, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: srv.URL, DefaultModel: "llama-3.3-70b-versatile"}, srv.Client(), nil)
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "llama-3.3-70b-versatile", resp.Model)
	assert.Equal(t, 4000, seen.MaxTokens)
	require.Len(t, seen.Messages, 1)
}

func TestOpenAIClientErrors(t *testing.T) {
	_, err := NewOpenAIClient(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	srv := completionServer(t, http.StatusTooManyRequests, `{"error":{"message":"rate limited","type":"rate_limit"}}`, nil)
	defer srv.Close()
	c, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: srv.URL}, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "x"})
	assert.Error(t, err)

	empty := completionServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil)
	defer empty.Close()
	c, err = NewOpenAIClient(Config{APIKey: "test-key", BaseURL: empty.URL}, empty.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "x"})
	assert.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestFuncAdapter(t *testing.T) {
	var c Client = Func(func(_ context.Context, req GenerateRequest) (GenerateResponse, error) {
		return GenerateResponse{Text: strings.ToUpper(req.Prompt)}, nil
	})
	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", resp.Text)
}
