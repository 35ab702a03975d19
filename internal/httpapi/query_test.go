package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aurachain/orchestrator/internal/agents"
	"github.com/aurachain/orchestrator/internal/auth"
	"github.com/aurachain/orchestrator/internal/db"
	"github.com/aurachain/orchestrator/internal/health"
	"github.com/aurachain/orchestrator/internal/planner"
	"github.com/aurachain/orchestrator/internal/session"
)

type fakePlanner struct {
	mu   sync.Mutex
	got  []agents.Request
	plan *planner.Plan
	err  error
}

func (f *fakePlanner) CreatePlan(_ context.Context, req agents.Request) (*planner.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, req)
	return f.plan, f.err
}

type sessionMessage struct{ sessionID, role, content string }

type fakeSessions struct {
	mu        sync.Mutex
	created   []string
	messages  []sessionMessage
	memory    map[string]any
	addErr    error
	createErr error
}

func (f *fakeSessions) CreateSession(_ context.Context, userID, sessionID string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, userID)
	return &session.Session{ID: "sess-new", UserID: userID}, nil
}

func (f *fakeSessions) AddMessage(_ context.Context, sessionID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.messages = append(f.messages, sessionMessage{sessionID, role, content})
	return nil
}

func (f *fakeSessions) BuildContext(_ context.Context, sessionID, userID, _ string) map[string]any {
	out := map[string]any{"session_id": sessionID, "user_id": userID}
	for k, v := range f.memory {
		out[k] = v
	}
	return out
}

type launch struct {
	plan  *planner.Plan
	req   agents.Request
	runID string
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launch
}

func (f *fakeLauncher) Launch(plan *planner.Plan, req agents.Request, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, launch{plan, req, runID})
}

type queryFixture struct {
	planner  *fakePlanner
	sessions *fakeSessions
	launcher *fakeLauncher
	mr       *miniredis.Miniredis
	handler  http.Handler
}

func newQueryFixture(t *testing.T, limiter *RateLimiter, authMW *auth.Middleware) *queryFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &queryFixture{
		planner: &fakePlanner{plan: &planner.Plan{
			ID:        "plan-1",
			Reasoning: "harvest then notify",
			Assignments: []planner.Assignment{
				{Agent: agents.DataHarvesterName, Task: "collect"},
				{Agent: agents.NotifierName, Task: "tell"},
			},
			CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
		sessions: &fakeSessions{memory: map[string]any{"history_summary": "user: hi", "region": "memory"}},
		launcher: &fakeLauncher{},
		mr:       mr,
	}
	logger := zaptest.NewLogger(t)
	q := NewQueryHandler(f.planner, f.sessions, f.launcher, NewDatasetLoader(client), limiter, logger)
	hm := health.NewManager(logger)
	f.handler = NewRouter(Options{APIPrefix: prefix, CORSOrigins: []string{"https://app.example"}}, Handlers{
		Query:  q,
		Health: health.NewHTTPHandler(hm, logger),
		Auth:   authMW,
	}, logger)
	return f
}

func (f *queryFixture) post(t *testing.T, body any, header http.Header) (*httptest.ResponseRecorder, QueryResponse) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, prefix+"/orchestrator/query", bytes.NewReader(b))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var resp QueryResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestQueryPlansAndLaunches(t *testing.T) {
	f := newQueryFixture(t, nil, nil)
	f.mr.Set("dataset:d1", `[{"sku":"A","qty":3},{"sku":"B","qty":5}]`)

	rec, resp := f.post(t, map[string]any{
		"query":      "forecast demand",
		"user_id":    "u1",
		"context":    map[string]any{"dataset_id": "d1", "region": "request"},
		"parameters": map[string]any{"horizon": 7},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, StatusExecuting, resp.Status)
	assert.Equal(t, "sess-new", resp.SessionID)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "plan-1", resp.OrchestrationPlan["plan_id"])
	assert.Len(t, resp.OrchestrationPlan["agents"], 2)
	assert.Equal(t, executingMessage, resp.Message)

	assert.Equal(t, []string{"u1"}, f.sessions.created)
	assert.Equal(t, []sessionMessage{{"sess-new", session.RoleUser, "forecast demand"}}, f.sessions.messages)

	require.Len(t, f.launcher.launches, 1)
	l := f.launcher.launches[0]
	assert.Equal(t, resp.RequestID, l.runID)
	assert.Equal(t, "plan-1", l.plan.ID)
	assert.Equal(t, "sess-new", l.req.SessionID)
	assert.Equal(t, "u1", l.req.UserID)
	assert.Equal(t, "request", l.req.Context["region"], "request context wins over memory")
	assert.Equal(t, "user: hi", l.req.Context["history_summary"])
	assert.Equal(t, float64(7), l.req.Parameters["horizon"])

	records, ok := l.req.Context["dataset"].([]any)
	require.True(t, ok)
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].(map[string]any)["sku"])

	require.Len(t, f.planner.got, 1)
	assert.Equal(t, l.req.Context, f.planner.got[0].Context)
}

func TestQueryKeepsExistingSessionAndDataset(t *testing.T) {
	f := newQueryFixture(t, nil, nil)
	f.mr.Set("dataset:d1", `[{"sku":"A"}]`)

	rec, resp := f.post(t, map[string]any{
		"query":      "status",
		"user_id":    "u1",
		"session_id": "existing",
		"context":    map[string]any{"dataset_id": "d1", "dataset": []any{"inline"}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "existing", resp.SessionID)
	assert.Empty(t, f.sessions.created)
	assert.Equal(t, []any{"inline"}, f.launcher.launches[0].req.Context["dataset"])
}

func TestQueryMissingDatasetProceeds(t *testing.T) {
	f := newQueryFixture(t, nil, nil)
	rec, resp := f.post(t, map[string]any{
		"query":   "status",
		"user_id": "u1",
		"context": map[string]any{"dataset_id": "missing"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusExecuting, resp.Status)
	_, has := f.launcher.launches[0].req.Context["dataset"]
	assert.False(t, has)
}

func TestQueryPlanningFailure(t *testing.T) {
	f := newQueryFixture(t, nil, nil)
	f.planner.err = &planner.PlanningError{Kind: planner.ErrUnknownAgent, Agent: "Teleporter"}

	rec, resp := f.post(t, map[string]any{"query": "beam me up", "user_id": "u1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Message, "Planning failed: ")
	assert.Contains(t, resp.Message, "Teleporter")
	assert.Empty(t, resp.OrchestrationPlan)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, f.launcher.launches)
	assert.Empty(t, f.sessions.messages)
}

func TestQueryValidationAndErrors(t *testing.T) {
	f := newQueryFixture(t, nil, nil)

	rec, _ := f.post(t, map[string]any{"user_id": "u1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.post(t, map[string]any{"query": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, prefix+"/orchestrator/query", bytes.NewBufferString("{"))
	bad := httptest.NewRecorder()
	f.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	f.sessions.addErr = errors.New("redis down")
	rec, _ = f.post(t, map[string]any{"query": "x", "user_id": "u1"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.launcher.launches)

	f.sessions.createErr = errors.New("redis down")
	rec, _ = f.post(t, map[string]any{"query": "x", "user_id": "u1"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQueryRateLimited(t *testing.T) {
	f := newQueryFixture(t, NewRateLimiter(1, 1), nil)

	rec, _ := f.post(t, map[string]any{"query": "x", "user_id": "u1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.post(t, map[string]any{"query": "x", "user_id": "u1"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec, _ = f.post(t, map[string]any{"query": "x", "user_id": "u2"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryRequiresTokenWhenAuthEnabled(t *testing.T) {
	jm := auth.NewJWTManager("secret", time.Hour)
	f := newQueryFixture(t, nil, auth.NewMiddleware(jm, nil))

	rec, _ := f.post(t, map[string]any{"query": "x", "user_id": "u1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := jm.GenerateToken("token-user")
	require.NoError(t, err)
	rec, _ = f.post(t, map[string]any{"query": "x", "user_id": "spoofed"},
		http.Header{"Authorization": {"Bearer " + tok.AccessToken}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "token-user", f.launcher.launches[0].req.UserID)

	live := httptest.NewRecorder()
	f.handler.ServeHTTP(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, live.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newQueryFixture(t, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, prefix+"/orchestrator/query", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDatasetLoader(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	loader := NewDatasetLoader(client)
	ctx := context.Background()

	_, err := loader.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	mr.Set("dataset:obj", `{"sku":"A"}`)
	_, err = loader.Load(ctx, "obj")
	assert.Error(t, err)

	mr.Set("dataset:bad", `[{"sku":`)
	_, err = loader.Load(ctx, "bad")
	assert.Error(t, err)

	mr.Set("dataset:ok", `[{"sku":"A","date":"2025-01-01"}]`)
	records, err := loader.Load(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"sku": "A", "date": "2025-01-01"}}, records)
}

func TestRateLimiter(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("x"))

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("x"))
	}

	rl := NewRateLimiter(60, 2)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

type fakeRuns struct {
	runs map[string]db.WorkflowRun
	err  error
}

func (f fakeRuns) GetRun(_ context.Context, runID string) (*db.WorkflowRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	run, ok := f.runs[runID]
	if !ok {
		return nil, db.ErrRunNotFound
	}
	return &run, nil
}

func (f fakeRuns) ListRuns(_ context.Context, sessionID string, limit int) ([]db.WorkflowRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []db.WorkflowRun
	for _, r := range f.runs {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestCatalogRoutes(t *testing.T) {
	registry := agents.NewRegistry()
	noop := agents.Func(func(context.Context, agents.Request) (agents.Response, error) {
		return agents.NewSuccess("x", nil), nil
	})
	require.NoError(t, registry.Register(agents.Info{Name: agents.OrderManagerName, Description: "drafts orders"}, noop))
	require.NoError(t, registry.Register(agents.Info{Name: agents.DataHarvesterName, Description: "collects data"}, noop))

	runs := fakeRuns{runs: map[string]db.WorkflowRun{
		"r1": {ID: "r1", SessionID: "s1", Status: db.RunStatusCompleted},
	}}
	logger := zaptest.NewLogger(t)
	h := NewRouter(Options{APIPrefix: prefix}, Handlers{
		Catalog: NewCatalogHandler(registry, runs, logger),
	}, logger)

	get := func(path string) (*httptest.ResponseRecorder, map[string]any) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		return rec, body
	}

	rec, body := get(prefix + "/agents")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
	list := body["agents"].([]any)
	assert.Equal(t, agents.DataHarvesterName, list[0].(map[string]any)["name"])

	rec, body = get(prefix + "/runs/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", body["run_id"])

	rec, _ = get(prefix + "/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(prefix + "/sessions/s1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 1)

	rec, body = get(prefix + "/sessions/none/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["runs"])

	rec, _ = get(prefix + "/sessions/s1/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
