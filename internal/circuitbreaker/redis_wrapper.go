package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards the session store's Redis client with a circuit breaker.
// A missing key (redis.Nil) is a normal answer, not a failure.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker("redis", GetRedisConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)
	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

func (rw *RedisWrapper) guard(ctx context.Context, cmd redis.Cmder, call func() redis.Cmder) {
	var result redis.Cmder
	err := rw.cb.Execute(ctx, func() error {
		result = call()
		if errors.Is(result.Err(), redis.Nil) {
			return nil
		}
		return result.Err()
	})
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), err == nil)
	if result == nil {
		cmd.SetErr(err)
	}
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	rw.guard(ctx, cmd, func() redis.Cmder {
		cmd = rw.client.Ping(ctx)
		return cmd
	})
	return cmd
}

// Get wraps Redis Get with circuit breaker
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	rw.guard(ctx, cmd, func() redis.Cmder {
		cmd = rw.client.Get(ctx, key)
		return cmd
	})
	return cmd
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	rw.guard(ctx, cmd, func() redis.Cmder {
		cmd = rw.client.Set(ctx, key, value, expiration)
		return cmd
	})
	return cmd
}

// Expire wraps Redis Expire with circuit breaker
func (rw *RedisWrapper) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	rw.guard(ctx, cmd, func() redis.Cmder {
		cmd = rw.client.Expire(ctx, key, expiration)
		return cmd
	})
	return cmd
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	rw.guard(ctx, cmd, func() redis.Cmder {
		cmd = rw.client.Del(ctx, keys...)
		return cmd
	})
	return cmd
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
