package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestJanitorPrunesFinishedRuns(t *testing.T) {
	ctx := context.Background()
	client, err := Open(ctx, Config{URL: "sqlite://:memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	store := NewRunStore(client, zaptest.NewLogger(t))
	require.NoError(t, store.Migrate(ctx))

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	store.now = func() time.Time { return old.Add(time.Second) }
	require.NoError(t, store.RecordStarted(ctx, WorkflowRun{ID: "old-done", SessionID: "s", StartedAt: old}))
	require.NoError(t, store.RecordCompleted(ctx, "old-done", nil, 1, 0))
	require.NoError(t, store.RecordStarted(ctx, WorkflowRun{ID: "old-running", SessionID: "s", StartedAt: old}))
	require.NoError(t, store.RecordStarted(ctx, WorkflowRun{ID: "fresh", SessionID: "s", StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.RecordFailed(ctx, "fresh", "boom"))

	store.now = func() time.Time { return now }
	janitor, err := NewJanitor(store, 24*time.Hour, "0 3 * * *", zaptest.NewLogger(t))
	require.NoError(t, err)

	removed, err := janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.GetRun(ctx, "old-done")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = store.GetRun(ctx, "old-running")
	assert.NoError(t, err)
	_, err = store.GetRun(ctx, "fresh")
	assert.NoError(t, err)

	janitor.Start()
	janitor.Stop()
}

func TestNewJanitorValidation(t *testing.T) {
	store := NewRunStore(nil, nil)

	_, err := NewJanitor(store, 0, "0 3 * * *", nil)
	assert.Error(t, err)

	_, err = NewJanitor(store, time.Hour, "every day", nil)
	assert.ErrorIs(t, err, ErrInvalidCronExpression)

	_, err = NewJanitor(store, time.Hour, "*/5 * * * * *", nil)
	assert.ErrorIs(t, err, ErrInvalidCronExpression, "seconds field is not accepted")
}
