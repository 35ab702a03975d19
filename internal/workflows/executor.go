package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/db"
	"github.com/aurachain/orchestrator/internal/metrics"
	"github.com/aurachain/orchestrator/internal/planner"
	"github.com/aurachain/orchestrator/internal/streaming"
	"github.com/aurachain/orchestrator/internal/tracing"
)

// DefaultMaxParallel bounds concurrently running agents within a stage.
const DefaultMaxParallel = 3

// Executor runs plans in the background.
type Executor struct {
	registry *agents.Registry
	runner   *agents.Runner
	events   *streaming.Manager
	sessions TranscriptAppender
	runs     RunRecorder
	logger   *zap.Logger

	maxParallel atomic.Int32
	inflight    sync.WaitGroup
}

// NewExecutor wires an Executor. sessions and runs may be nil.
func NewExecutor(registry *agents.Registry, runner *agents.Runner, events *streaming.Manager,
	sessions TranscriptAppender, runs RunRecorder, maxParallel int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		registry: registry,
		runner:   runner,
		events:   events,
		sessions: sessions,
		runs:     runs,
		logger:   logger,
	}
	e.SetMaxParallel(maxParallel)
	return e
}

// SetMaxParallel changes the in-flight agent bound for subsequent stages.
func (e *Executor) SetMaxParallel(n int) {
	if n <= 0 {
		n = DefaultMaxParallel
	}
	e.maxParallel.Store(int32(n))
}

// MaxParallel returns the current in-flight agent bound.
func (e *Executor) MaxParallel() int {
	return int(e.maxParallel.Load())
}

// Launch runs the plan on a detached goroutine and returns immediately. The
// run uses its own context so that the caller's request ending does not
// cancel it.
func (e *Executor) Launch(plan *planner.Plan, req agents.Request, runID string) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if _, err := e.ExecuteWorkflow(context.Background(), plan, req, runID); err != nil {
			e.logger.Error("Background workflow failed",
				zap.String("run_id", runID),
				zap.String("session_id", req.SessionID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every launched run has finished or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteWorkflow runs plan against req.
//
// workflow_started is published first. Agents run stage by stage in plan
// order; failures of individual agents are part of the result and the run
// still ends with workflow_completed. Only a failure of the loop itself
// (a panic, or the transcript append) publishes workflow_failed and returns
// an *ExecutorError.
func (e *Executor) ExecuteWorkflow(ctx context.Context, plan *planner.Plan, req agents.Request, runID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.execute",
		attribute.String("workflow.run_id", runID),
		attribute.String("session.id", req.SessionID))
	start := time.Now()
	metrics.WorkflowsStarted.Inc()
	metrics.WorkflowsInFlight.Inc()
	defer metrics.WorkflowsInFlight.Dec()

	logger := e.logger.With(zap.String("run_id", runID), zap.String("session_id", req.SessionID))
	logger.Info("Workflow started", zap.Strings("agents", plan.AgentNames()))

	planBody := plan.Map()
	e.record(ctx, logger, "started", func() error {
		return e.runs.RecordStarted(ctx, db.WorkflowRun{
			ID:        runID,
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Query:     req.Query,
			Plan:      planBody,
		})
	})
	e.events.PublishWorkflowStarted(ctx, req.SessionID, runID, planBody)

	result, err := e.run(ctx, plan, req, runID)
	if err != nil {
		execErr := &ExecutorError{RunID: runID, Err: err}
		logger.Error("Workflow aborted", zap.Error(err))
		e.events.PublishWorkflowFailed(ctx, req.SessionID, runID, err.Error())
		e.record(ctx, logger, "failed", func() error {
			return e.runs.RecordFailed(ctx, runID, err.Error())
		})
		metrics.RecordWorkflowMetrics(StatusFailed, time.Since(start).Seconds())
		tracing.EndSpan(span, execErr)
		result.Status = StatusFailed
		return result, execErr
	}

	summary := map[string]any{
		"status":     StatusCompleted,
		"request_id": runID,
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
	}
	e.events.PublishWorkflowCompleted(ctx, req.SessionID, summary)
	e.record(ctx, logger, "completed", func() error {
		return e.runs.RecordCompleted(ctx, runID, summary, result.Succeeded, result.Failed)
	})

	metrics.RecordWorkflowMetrics(StatusCompleted, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("workflow.succeeded", result.Succeeded),
		attribute.Int("workflow.failed", result.Failed))
	tracing.EndSpan(span, nil)
	logger.Info("Workflow completed",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)))
	result.Status = StatusCompleted
	return result, nil
}

// run executes the stages and appends the transcript. A panic anywhere in
// the loop is returned as an error.
func (e *Executor) run(ctx context.Context, plan *planner.Plan, req agents.Request, runID string) (result *Result, err error) {
	result = &Result{RunID: runID}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Workflow panicked",
				zap.String("run_id", runID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	outputs := make(map[string]any)
	for _, stage := range plan.Stages() {
		responses, err := e.runStage(ctx, stage, req, outputs)
		if err != nil {
			return result, err
		}
		for _, resp := range responses {
			result.Responses = append(result.Responses, resp)
			if resp.Success {
				result.Succeeded++
				outputs[agents.OutputKey(resp.AgentName)] = resp.Data
			} else {
				result.Failed++
			}
		}
	}

	result.Transcript = Transcript(result.Responses)
	if req.SessionID != "" && e.sessions != nil {
		if err := e.sessions.AddMessage(ctx, req.SessionID, "assistant", result.Transcript); err != nil {
			return result, fmt.Errorf("append transcript: %w", err)
		}
	}
	return result, nil
}

// runStage runs one stage. Every step sees only outputs of earlier stages.
// Responses come back in plan order.
func (e *Executor) runStage(ctx context.Context, stage []planner.Assignment, req agents.Request, outputs map[string]any) ([]agents.Response, error) {
	if len(stage) == 1 {
		return []agents.Response{e.runStep(ctx, stage[0], req, outputs)}, nil
	}

	responses := make([]agents.Response, len(stage))
	var g errgroup.Group
	g.SetLimit(e.MaxParallel())
	for i, assignment := range stage {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic in stage step %s: %v", assignment.Agent, rec)
				}
			}()
			responses[i] = e.runStep(ctx, assignment, req, outputs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

func (e *Executor) runStep(ctx context.Context, a planner.Assignment, req agents.Request, outputs map[string]any) agents.Response {
	name, agent, ok := e.registry.Lookup(a.Agent)
	if !ok {
		name = a.Agent
	}
	step := req.WithContext(outputs).WithContext(map[string]any{agents.TaskContextKey: a.Task})
	step = step.WithParameters(a.Parameters)
	return e.runner.Run(ctx, name, agent, step)
}

func (e *Executor) record(ctx context.Context, logger *zap.Logger, what string, fn func() error) {
	if e.runs == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("Failed to record workflow run", zap.String("phase", what), zap.Error(err))
	}
}

// Transcript renders responses as "Agent: result-or-error" lines.
func Transcript(responses []agents.Response) string {
	lines := make([]string, 0, len(responses))
	for _, resp := range responses {
		var text string
		if resp.Success {
			data := resp.Data
			if data == nil {
				data = map[string]any{}
			}
			b, err := json.Marshal(data)
			if err != nil {
				text = fmt.Sprintf("%v", data)
			} else {
				text = string(b)
			}
		} else {
			text = resp.Error
		}
		lines = append(lines, resp.AgentName+": "+text)
	}
	return strings.Join(lines, "\n")
}
