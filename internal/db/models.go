package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a JSON object column. Postgres stores it as jsonb, SQLite as text.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(raw, j)
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// WorkflowRun is one background execution of a plan.
type WorkflowRun struct {
	ID          string     `db:"id" json:"run_id"`
	SessionID   string     `db:"session_id" json:"session_id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Query       string     `db:"query" json:"query"`
	Status      string     `db:"status" json:"status"`
	Plan        JSONB      `db:"plan" json:"plan"`
	Summary     JSONB      `db:"summary" json:"summary,omitempty"`
	Error       *string    `db:"error_message" json:"error,omitempty"`
	Succeeded   int        `db:"succeeded" json:"succeeded"`
	Failed      int        `db:"failed" json:"failed"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs  *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
}
