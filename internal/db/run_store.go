package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("workflow run not found")

const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
    id            VARCHAR(64) PRIMARY KEY,
    session_id    VARCHAR(128) NOT NULL DEFAULT '',
    user_id       VARCHAR(128) NOT NULL DEFAULT '',
    query         TEXT NOT NULL DEFAULT '',
    status        VARCHAR(16) NOT NULL,
    plan          TEXT,
    summary       TEXT,
    error_message TEXT,
    succeeded     INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    started_at    TIMESTAMP NOT NULL,
    completed_at  TIMESTAMP,
    duration_ms   BIGINT
)`

const indexSchema = `CREATE INDEX IF NOT EXISTS idx_workflow_runs_session ON workflow_runs (session_id, started_at)`

const runColumns = `id, session_id, user_id, query, status, plan, summary, error_message, succeeded, failed, started_at, completed_at, duration_ms`

// RunStore persists workflow run history.
type RunStore struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRunStore creates a store on client.
func NewRunStore(client *Client, logger *zap.Logger) *RunStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStore{client: client, logger: logger, now: time.Now}
}

// Migrate creates the workflow_runs table if needed.
func (s *RunStore) Migrate(ctx context.Context) error {
	return s.client.guard(ctx, func() error {
		for _, stmt := range []string{schema, indexSchema} {
			if _, err := s.client.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate workflow_runs: %w", err)
			}
		}
		return nil
	})
}

// RecordStarted inserts a running row.
func (s *RunStore) RecordStarted(ctx context.Context, run WorkflowRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	query := s.client.db.Rebind(`INSERT INTO workflow_runs
        (id, session_id, user_id, query, status, plan, started_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	return s.client.guard(ctx, func() error {
		_, err := s.client.db.ExecContext(ctx, query,
			run.ID, run.SessionID, run.UserID, run.Query, run.Status, run.Plan, run.StartedAt)
		if err != nil {
			return fmt.Errorf("insert workflow run %s: %w", run.ID, err)
		}
		return nil
	})
}

// RecordCompleted marks a run completed with its summary and outcome counts.
func (s *RunStore) RecordCompleted(ctx context.Context, runID string, summary map[string]any, succeeded, failed int) error {
	return s.finish(ctx, runID, RunStatusCompleted, JSONB(summary), nil, succeeded, failed)
}

// RecordFailed marks a run failed.
func (s *RunStore) RecordFailed(ctx context.Context, runID, errMsg string) error {
	return s.finish(ctx, runID, RunStatusFailed, nil, &errMsg, 0, 0)
}

func (s *RunStore) finish(ctx context.Context, runID, status string, summary JSONB, errMsg *string, succeeded, failed int) error {
	return s.client.guard(ctx, func() error {
		var startedAt time.Time
		err := s.client.db.GetContext(ctx, &startedAt,
			s.client.db.Rebind(`SELECT started_at FROM workflow_runs WHERE id = ?`), runID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return fmt.Errorf("load workflow run %s: %w", runID, err)
		}

		completedAt := s.now().UTC()
		duration := completedAt.Sub(startedAt).Milliseconds()
		_, err = s.client.db.ExecContext(ctx, s.client.db.Rebind(`UPDATE workflow_runs
            SET status = ?, summary = ?, error_message = ?, succeeded = ?, failed = ?, completed_at = ?, duration_ms = ?
            WHERE id = ?`),
			status, summary, errMsg, succeeded, failed, completedAt, duration, runID)
		if err != nil {
			return fmt.Errorf("update workflow run %s: %w", runID, err)
		}
		return nil
	})
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*WorkflowRun, error) {
	var run WorkflowRun
	err := s.client.guard(ctx, func() error {
		err := s.client.db.GetContext(ctx, &run,
			s.client.db.Rebind(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`), runID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get workflow run %s: %w", runID, err)
	}
	if run.ID == "" {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

// ListRuns returns the most recent runs of a session, newest first.
func (s *RunStore) ListRuns(ctx context.Context, sessionID string, limit int) ([]WorkflowRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs := []WorkflowRun{}
	err := s.client.guard(ctx, func() error {
		return s.client.db.SelectContext(ctx, &runs, s.client.db.Rebind(
			`SELECT `+runColumns+` FROM workflow_runs WHERE session_id = ? ORDER BY started_at DESC LIMIT ?`),
			sessionID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	return runs, nil
}

// PruneBefore deletes finished runs that started before cutoff and returns
// how many rows were removed. Running rows are kept.
func (s *RunStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.client.guard(ctx, func() error {
		res, err := s.client.db.ExecContext(ctx, s.client.db.Rebind(
			`DELETE FROM workflow_runs WHERE started_at < ? AND status <> ?`),
			cutoff.UTC(), RunStatusRunning)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune workflow runs: %w", err)
	}
	return removed, nil
}
