package agents

import (
	"errors"
	"time"
)

// UnknownError is reported when a worker fails without saying why.
const UnknownError = "Unknown error"

var (
	// ErrMissingError flags a failed response with no error message.
	ErrMissingError = errors.New("failed response must carry an error")
	// ErrUnexpectedError flags a successful response carrying an error message.
	ErrUnexpectedError = errors.New("successful response must not carry an error")
)

// Request is the immutable input of one agent invocation. It is shared
// read-only across a plan; use the With* helpers to derive per-step copies.
type Request struct {
	Query      string         `json:"query"`
	Context    map[string]any `json:"context"`
	SessionID  string         `json:"session_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Parameters map[string]any `json:"parameters"`
}

// WithContext returns a copy of r whose context has extra merged on top.
// r itself is left untouched.
func (r Request) WithContext(extra map[string]any) Request {
	r.Context = mergeMaps(r.Context, extra)
	return r
}

// WithParameters returns a copy of r whose parameters have overrides merged on top.
func (r Request) WithParameters(overrides map[string]any) Request {
	r.Parameters = mergeMaps(r.Parameters, overrides)
	return r
}

// ContextValue returns the context entry for key.
func (r Request) ContextValue(key string) (any, bool) {
	v, ok := r.Context[key]
	return v, ok
}

// StringParam returns a string parameter or def when absent or not a string.
func (r Request) StringParam(key, def string) string {
	if v, ok := r.Parameters[key].(string); ok && v != "" {
		return v
	}
	return def
}

func mergeMaps(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Response is the result of one agent invocation.
type Response struct {
	AgentName string         `json:"agent_name"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewSuccess builds a successful response.
func NewSuccess(agent string, data map[string]any) Response {
	return Response{
		AgentName: agent,
		Success:   true,
		Data:      data,
		Metadata:  map[string]any{},
		Timestamp: time.Now().UTC(),
	}
}

// NewFailure builds a failed response. An empty message becomes UnknownError.
func NewFailure(agent, message string) Response {
	if message == "" {
		message = UnknownError
	}
	return Response{
		AgentName: agent,
		Success:   false,
		Error:     message,
		Metadata:  map[string]any{},
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks that Error is set exactly when Success is false.
func (r Response) Validate() error {
	switch {
	case !r.Success && r.Error == "":
		return ErrMissingError
	case r.Success && r.Error != "":
		return ErrUnexpectedError
	}
	return nil
}

// normalize enforces the success/error pairing on a response produced by
// domain code. A response that reports success alongside an error message
// is treated as a failure.
func (r Response) normalize(agent string) Response {
	if r.AgentName == "" {
		r.AgentName = agent
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	if r.Success && r.Error != "" {
		r.Success = false
	}
	if !r.Success && r.Error == "" {
		r.Error = UnknownError
	}
	if !r.Success {
		r.Data = nil
	}
	return r
}

// Summary renders the result or error for transcripts.
func (r Response) Summary() any {
	if r.Success {
		return r.Data
	}
	return r.Error
}
