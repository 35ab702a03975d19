package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, config Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", config, zaptest.NewLogger(t))
	cb.now = clock.now
	cb.mutex.Lock()
	cb.toNewGeneration(clock.now())
	cb.mutex.Unlock()
	return cb, clock
}

func TestCircuitBreakerStates(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 0

	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.State())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", cb.State())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("test error") }); err == nil {
			t.Error("Expected error, got nil")
		}
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", cb.State())
	}

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}

	clock.advance(150 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got %s", cb.State())
	}

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Timeout = time.Second

	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	clock.advance(2 * time.Second)
	_ = cb.Execute(ctx, func() error { return errors.New("still down") })

	if cb.State() != StateOpen {
		t.Errorf("Expected half-open failure to reopen breaker, got %s", cb.State())
	}
}

func TestCircuitBreakerMaxRequests(t *testing.T) {
	config := DefaultConfig()
	config.MaxRequests = 2
	config.SuccessThreshold = 5

	cb, _ := newTestBreaker(t, config)
	ctx := context.Background()

	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.generation++
	cb.counts = Counts{}
	cb.mutex.Unlock()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("Expected too many requests error, got %v", err)
	}
}

func TestCircuitBreakerIgnoresCallerCancellation(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1

	cb, _ := newTestBreaker(t, config)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context error to pass through, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Cancelled call must not open the breaker, got %s", cb.State())
	}
	if counts := cb.Counts(); counts.Requests != 0 || counts.TotalFailures != 0 {
		t.Errorf("Expected cancelled call to be released, got %+v", counts)
	}
}

func TestCircuitBreakerCounts(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("error") })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	if counts.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", counts.Requests)
	}
	if counts.TotalSuccesses != 2 {
		t.Errorf("Expected 2 successes, got %d", counts.TotalSuccesses)
	}
	if counts.TotalFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", counts.TotalFailures)
	}
}

func TestStateChangeCallback(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 2

	var callbackCalled bool
	var fromState, toState State
	config.OnStateChange = func(name string, from State, to State) {
		callbackCalled = true
		fromState = from
		toState = to
	}

	cb, _ := newTestBreaker(t, config)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("error") })
	}

	if !callbackCalled {
		t.Error("Expected state change callback to be called")
	}
	if fromState != StateClosed || toState != StateOpen {
		t.Errorf("Expected transition from closed to open, got %s to %s", fromState, toState)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CB_LLM_FAILURE_THRESHOLD", "9")
	t.Setenv("CB_LLM_TIMEOUT", "3s")
	t.Setenv("CB_LLM_MAX_REQUESTS", "not-a-number")

	cfg := GetLLMConfig()
	if cfg.FailureThreshold != 9 {
		t.Errorf("Expected failure threshold 9, got %d", cfg.FailureThreshold)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Expected timeout 3s, got %s", cfg.Timeout)
	}
	if cfg.MaxRequests != 2 {
		t.Errorf("Expected default max requests on bad input, got %d", cfg.MaxRequests)
	}
}
