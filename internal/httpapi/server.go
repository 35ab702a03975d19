package httpapi

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aurachain/orchestrator/internal/auth"
	"github.com/aurachain/orchestrator/internal/health"
	"github.com/aurachain/orchestrator/internal/tracing"
)

// Options shapes the public HTTP surface.
type Options struct {
	APIPrefix   string
	CORSOrigins []string
}

// Handlers are the route groups served by the router. Nil groups are skipped.
type Handlers struct {
	Query     *QueryHandler
	Streaming *StreamingHandler
	Catalog   *CatalogHandler
	Health    *health.HTTPHandler
	Auth      *auth.Middleware
}

// NewRouter assembles the service mux. API routes live under the prefix and
// sit behind auth; health and metrics do not.
func NewRouter(opts Options, h Handlers, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.TrimRight(opts.APIPrefix, "/")

	api := http.NewServeMux()
	if h.Query != nil {
		h.Query.RegisterRoutes(api, prefix)
	}
	if h.Streaming != nil {
		h.Streaming.RegisterRoutes(api, prefix)
	}
	if h.Catalog != nil {
		h.Catalog.RegisterRoutes(api, prefix)
	}

	root := http.NewServeMux()
	if h.Health != nil {
		h.Health.RegisterRoutes(root)
	}
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle(prefix+"/", h.Auth.HTTPMiddleware(api))

	var handler http.Handler = root
	handler = corsMiddleware(opts.CORSOrigins, handler)
	handler = tracingMiddleware(logger, handler)
	return handler
}

// tracingMiddleware opens a span per request and echoes its trace id.
func tracingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path))
		defer span.End()

		if sc := span.SpanContext(); sc.IsValid() {
			w.Header().Set("X-Trace-ID", sc.TraceID().String())
		}
		logger.Debug("Request received",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows the configured origins ("*" for any) and answers
// preflight requests.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	_, anyOrigin := allowed["*"]

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || anyOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
