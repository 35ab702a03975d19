package agents

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/streaming"
	"github.com/aurachain/orchestrator/internal/tracing"
	"github.com/aurachain/orchestrator/internal/util"
)

// Activity names written by the ActivityLogger.
const (
	ActivityRequestReceived    = "request_received"
	ActivityExecutionStarted   = "execution_started"
	ActivityExecutionCompleted = "execution_completed"
	ActivityExecutionFailed    = "execution_failed"
)

// ActivityLogger writes one structured line per agent lifecycle step.
type ActivityLogger struct {
	logger *zap.Logger
}

// NewActivityLogger wraps logger.
func NewActivityLogger(logger *zap.Logger) *ActivityLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityLogger{logger: logger.Named("agent_activity")}
}

// Log records activity for agent.
func (a *ActivityLogger) Log(agent, activity string, details map[string]any) {
	a.logger.Info("Agent activity",
		zap.String("agent", agent),
		zap.String("activity", activity),
		zap.Any("details", details))
}

// Runner is the failure boundary around every agent: it logs, publishes
// lifecycle events, sanitizes payloads and converts errors and panics into
// failed responses. It never returns an error.
type Runner struct {
	events   *streaming.Manager
	activity *ActivityLogger
	logger   *zap.Logger
}

// NewRunner creates a Runner publishing to events (may be nil).
func NewRunner(events *streaming.Manager, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		events:   events,
		activity: NewActivityLogger(logger),
		logger:   logger,
	}
}

// Run invokes agent under name with req.
//
// Ordering: request_received and execution_started are logged before
// worker_started is published; execution_completed (or execution_failed) is
// logged after the raw result and before sanitization. With a session id
// exactly one of worker_completed / worker_failed is published.
func (r *Runner) Run(ctx context.Context, name string, agent Agent, req Request) Response {
	ctx, span := tracing.StartSpan(ctx, "agent.run",
		attribute.String("agent.name", name),
		attribute.String("session.id", req.SessionID))
	start := time.Now()

	r.activity.Log(name, ActivityRequestReceived, map[string]any{
		"query": util.TruncateString(req.Query, 100, false),
	})
	r.activity.Log(name, ActivityExecutionStarted, map[string]any{
		"session_id": req.SessionID,
		"parameters": len(req.Parameters),
	})

	if req.SessionID != "" {
		r.events.PublishWorkerStarted(ctx, req.SessionID, name, req.Query)
	}

	raw, err := r.invoke(ctx, name, agent, req)
	var resp Response
	if err != nil {
		resp = NewFailure(name, err.Error())
		r.activity.Log(name, ActivityExecutionFailed, map[string]any{"error": resp.Error})
	} else {
		resp = raw.normalize(name)
		r.activity.Log(name, ActivityExecutionCompleted, map[string]any{"success": resp.Success})
	}

	resp.Data = util.SanitizeMap(resp.Data)
	resp.Metadata = util.SanitizeMap(resp.Metadata)

	if req.SessionID != "" {
		if resp.Success {
			result := resp.Data
			if result == nil {
				result = map[string]any{}
			}
			r.events.PublishWorkerCompleted(ctx, req.SessionID, name, result)
		} else {
			r.events.PublishWorkerFailed(ctx, req.SessionID, name, resp.Error)
		}
	}

	elapsed := time.Since(start)
	metrics.RecordAgentMetrics(name, resp.Success, float64(elapsed.Milliseconds()))
	span.SetAttributes(attribute.Bool("agent.success", resp.Success))
	if !resp.Success {
		tracing.EndSpan(span, fmt.Errorf("%s", resp.Error))
	} else {
		tracing.EndSpan(span, nil)
	}
	return resp
}

// invoke calls Process, converting a panic into an error.
func (r *Runner) invoke(ctx context.Context, name string, agent Agent, req Request) (resp Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.AgentPanics.WithLabelValues(name).Inc()
			r.logger.Error("Agent panicked",
				zap.String("agent", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%v", rec)
		}
	}()
	if agent == nil {
		return Response{}, fmt.Errorf("agent %s is not available", name)
	}
	resp, err = agent.Process(ctx, req)
	if err != nil {
		r.logger.Error("Agent failed", zap.String("agent", name), zap.Error(err))
	}
	return resp, err
}
