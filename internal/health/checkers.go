package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aurachain/orchestrator/internal/circuitbreaker"
	"github.com/aurachain/orchestrator/internal/db"
)

// RedisHealthChecker checks the Redis server backing streams and datasets.
type RedisHealthChecker struct {
	client      redis.UniversalClient
	breakerOpen func() bool
	critical    bool
	timeout     time.Duration
}

// NewRedisHealthChecker creates a new Redis health checker. breakerOpen may be
// nil; when set it reports the session store's circuit breaker.
func NewRedisHealthChecker(client redis.UniversalClient, breakerOpen func() bool, critical bool) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:      client,
		breakerOpen: breakerOpen,
		critical:    critical,
		timeout:     3 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return r.critical }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

// Check performs the Redis health check
func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	details := map[string]interface{}{}

	if r.breakerOpen != nil && r.breakerOpen() {
		details["circuit_breaker"] = "open"
		return CheckResult{
			Status:  StatusDegraded,
			Message: "Session store circuit breaker is open",
			Details: details,
		}
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "Redis ping failed",
			Error:   err.Error(),
			Details: details,
		}
	}

	latency := time.Since(start)
	details["ping_latency_ms"] = latency.Milliseconds()

	if latency > 100*time.Millisecond {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("Redis responding slowly (%v)", latency),
			Details: details,
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "Redis is healthy",
		Details: details,
	}
}

// DatabaseHealthChecker checks the run store database.
type DatabaseHealthChecker struct {
	client   *db.Client
	critical bool
	timeout  time.Duration
}

// NewDatabaseHealthChecker creates a new database health checker
func NewDatabaseHealthChecker(client *db.Client, critical bool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		client:   client,
		critical: critical,
		timeout:  5 * time.Second,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return d.critical }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

// Check performs the database health check
func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	details := map[string]interface{}{}

	if d.client.IsCircuitBreakerOpen() {
		details["circuit_breaker"] = "open"
		return CheckResult{
			Status:  StatusDegraded,
			Message: "Database circuit breaker is open",
			Details: details,
		}
	}

	start := time.Now()
	if err := d.client.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "Database ping failed",
			Error:   err.Error(),
			Details: details,
		}
	}
	latency := time.Since(start)
	details["ping_latency_ms"] = latency.Milliseconds()

	stats := d.client.DB().Stats()
	details["open_connections"] = stats.OpenConnections
	details["in_use"] = stats.InUse
	details["idle"] = stats.Idle

	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "Database connection pool exhausted",
			Details: details,
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "Database is healthy",
		Details: details,
	}
}

// LLMHealthChecker reports whether the planning oracle is usable without
// spending a completion on it.
type LLMHealthChecker struct {
	configured bool
	model      string
	states     func() map[string]circuitbreaker.State
	timeout    time.Duration
}

// NewLLMHealthChecker creates a checker for the LLM provider. states may be
// nil, in which case the global breaker registry is consulted.
func NewLLMHealthChecker(apiKey, model string, states func() map[string]circuitbreaker.State) *LLMHealthChecker {
	if states == nil {
		states = circuitbreaker.GlobalMetricsCollector.States
	}
	return &LLMHealthChecker{
		configured: apiKey != "",
		model:      model,
		states:     states,
		timeout:    time.Second,
	}
}

func (l *LLMHealthChecker) Name() string           { return "llm" }
func (l *LLMHealthChecker) IsCritical() bool       { return false }
func (l *LLMHealthChecker) Timeout() time.Duration { return l.timeout }

// Check performs the LLM health check
func (l *LLMHealthChecker) Check(ctx context.Context) CheckResult {
	details := map[string]interface{}{"model": l.model}

	if !l.configured {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "LLM API key not configured",
			Details: details,
		}
	}

	if state, ok := l.states()["llm-api:llm"]; ok {
		details["circuit_breaker"] = state.String()
		if state == circuitbreaker.StateOpen {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "LLM circuit breaker is open",
				Details: details,
			}
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "LLM provider configured",
		Details: details,
	}
}
