package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func TestTransportPassesThroughResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient("webhook-ok", "transport-test", testTransportConfig(), zaptest.NewLogger(t))

	resp, err := client.Get(srv.URL + "/ok")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	for i := 0; i < 5; i++ {
		resp, err = client.Get(srv.URL + "/missing")
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, client.Transport.(*Transport).State())
}

func TestTransportOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testTransportConfig()
	client := NewHTTPClient("webhook-5xx", "transport-test", cfg, zaptest.NewLogger(t))

	for i := 0; i < int(cfg.FailureThreshold); i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err, "5xx responses are returned, not converted to errors")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitBreakerOpen))
}

func testTransportConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 2,
		SuccessThreshold: 1,
	}
}

func TestTransportPropagatesTraceparent(t *testing.T) {
	got := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient("webhook-trace", "transport-test", testTransportConfig(), zaptest.NewLogger(t))

	traceID, _ := oteltrace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := oteltrace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := oteltrace.ContextWithSpanContext(context.Background(), oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.FlagsSampled,
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", <-got)
	assert.Empty(t, req.Header.Get("traceparent"), "caller request is not mutated")

	resp, err = client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, <-got)
}
