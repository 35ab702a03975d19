package circuitbreaker

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/tracing"
)

// Transport is an http.RoundTripper guarded by a circuit breaker. 5xx
// responses count as failures for breaker purposes but are still returned to
// the caller; 4xx do not trip the breaker.
type Transport struct {
	base    http.RoundTripper
	cb      *CircuitBreaker
	name    string
	service string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, name, service string, cfg CircuitBreakerConfig, logger *zap.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	cb := NewCircuitBreaker(name, cfg.ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &Transport{base: base, cb: cb, name: name, service: service}
}

// NewHTTPClient returns an http.Client using a breaker-guarded transport.
func NewHTTPClient(name, service string, cfg CircuitBreakerConfig, logger *zap.Logger) *http.Client {
	return &http.Client{Transport: NewTransport(nil, name, service, cfg, logger)}
}

// RoundTrip implements http.RoundTripper. An active span on the request
// context is propagated as a traceparent header.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("traceparent") == "" {
		if tp := tracing.W3CTraceparent(req.Context()); tp != "" {
			req = req.Clone(req.Context())
			req.Header.Set("traceparent", tp)
		}
	}
	var resp *http.Response
	err := t.cb.Execute(req.Context(), func() error {
		var rtErr error
		resp, rtErr = t.base.RoundTrip(req)
		if rtErr != nil {
			return rtErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})
	GlobalMetricsCollector.RecordRequest(t.name, t.service, t.cb.State(), err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	return resp, nil
}

// State exposes the breaker state.
func (t *Transport) State() State { return t.cb.State() }

// httpStatusError marks 5xx responses for breaker accounting
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
