package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aurachain/orchestrator/internal/circuitbreaker"
	"github.com/aurachain/orchestrator/internal/db"
)

type stubChecker struct {
	name     string
	status   CheckStatus
	critical bool
	delay    time.Duration
}

func (s stubChecker) Name() string           { return s.name }
func (s stubChecker) IsCritical() bool       { return s.critical }
func (s stubChecker) Timeout() time.Duration { return 50 * time.Millisecond }

func (s stubChecker) Check(ctx context.Context) CheckResult {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
		}
	}
	return CheckResult{Status: s.status}
}

func TestManagerAggregation(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		status   CheckStatus
		ready    bool
	}{
		{"no checkers", nil, StatusUnknown, true},
		{"all healthy", []Checker{
			stubChecker{name: "a", status: StatusHealthy, critical: true},
			stubChecker{name: "b", status: StatusHealthy},
		}, StatusHealthy, true},
		{"non-critical failure degrades", []Checker{
			stubChecker{name: "a", status: StatusHealthy, critical: true},
			stubChecker{name: "llm", status: StatusUnhealthy},
		}, StatusDegraded, true},
		{"critical failure is not ready", []Checker{
			stubChecker{name: "redis", status: StatusUnhealthy, critical: true},
			stubChecker{name: "b", status: StatusHealthy},
		}, StatusUnhealthy, false},
		{"critical timeout", []Checker{
			stubChecker{name: "slow", status: StatusHealthy, critical: true, delay: time.Second},
		}, StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}
			detailed := m.GetDetailedHealth(context.Background())
			assert.Equal(t, tt.status, detailed.Overall.Status)
			assert.Equal(t, tt.ready, detailed.Overall.Ready)
			assert.Equal(t, len(tt.checkers), detailed.Summary.Total)
			assert.Equal(t, tt.ready, m.IsReady(context.Background()))
		})
	}
}

func TestManagerRejectsDuplicateChecker(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(stubChecker{name: "redis"}))
	assert.Error(t, m.RegisterChecker(stubChecker{name: "redis"}))
	assert.Error(t, m.RegisterChecker(stubChecker{name: ""}))
	assert.Equal(t, []string{"redis"}, m.Names())
}

func TestManagerCachedResults(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(stubChecker{name: "a", status: StatusDegraded}))
	assert.Empty(t, m.GetCachedHealth().Components)

	m.GetDetailedHealth(context.Background())
	cached := m.GetCachedHealth()
	require.Contains(t, cached.Components, "a")
	assert.Equal(t, StatusDegraded, cached.Overall.Status)
	assert.Equal(t, 1, cached.Summary.Degraded)
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewRedisHealthChecker(client, nil, true)
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	open := NewRedisHealthChecker(client, func() bool { return true }, true)
	res := open.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "open", res.Details["circuit_breaker"])

	mr.Close()
	res = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestDatabaseHealthChecker(t *testing.T) {
	dbx, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	client := db.NewClient(dbx, zaptest.NewLogger(t))

	checker := NewDatabaseHealthChecker(client, false)
	res := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.Details, "open_connections")

	require.NoError(t, client.Close())
	res = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestLLMHealthChecker(t *testing.T) {
	states := func(s circuitbreaker.State) func() map[string]circuitbreaker.State {
		return func() map[string]circuitbreaker.State {
			return map[string]circuitbreaker.State{"llm-api:llm": s}
		}
	}

	res := NewLLMHealthChecker("", "llama", states(circuitbreaker.StateClosed)).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)

	res = NewLLMHealthChecker("key", "llama", states(circuitbreaker.StateClosed)).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "closed", res.Details["circuit_breaker"])

	res = NewLLMHealthChecker("key", "llama", states(circuitbreaker.StateOpen)).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)

	assert.False(t, NewLLMHealthChecker("key", "llama", nil).IsCritical())
}

func TestHTTPHandler(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(stubChecker{name: "redis", status: StatusUnhealthy, critical: true}))
	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])

	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code)

	rec = get("/health/detailed")
	var detailed map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detailed))
	components := detailed["components"].(map[string]interface{})
	assert.Equal(t, "unhealthy", components["redis"].(map[string]interface{})["status"])

	rec = get("/health/detailed?cached=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	post := httptest.NewRecorder()
	mux.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}
