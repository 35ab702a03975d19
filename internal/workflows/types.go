package workflows

import (
	"context"
	"fmt"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/db"
)

// Workflow statuses reported in Result.Status.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TranscriptAppender is the part of the session store the executor writes to.
type TranscriptAppender interface {
	AddMessage(ctx context.Context, sessionID, role, content string) error
}

// RunRecorder persists run history. Errors are logged and never fail a run.
type RunRecorder interface {
	RecordStarted(ctx context.Context, run db.WorkflowRun) error
	RecordCompleted(ctx context.Context, runID string, summary map[string]any, succeeded, failed int) error
	RecordFailed(ctx context.Context, runID, errMsg string) error
}

// Result summarizes one workflow run.
type Result struct {
	RunID      string
	Status     string
	Responses  []agents.Response
	Transcript string
	Succeeded  int
	Failed     int
}

// ExecutorError is a failure of the orchestration loop itself, as opposed to
// a failure of one agent.
type ExecutorError struct {
	RunID string
	Err   error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("workflow %s: %v", e.RunID, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }
