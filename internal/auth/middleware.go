package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for user information
	UserContextKey ContextKey = "user"
)

// Middleware enforces bearer auth. A nil JWT manager disables it.
type Middleware struct {
	jwtManager *JWTManager
	logger     *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(jwtManager *JWTManager, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwtManager: jwtManager, logger: logger}
}

// Enabled reports whether requests are authenticated.
func (m *Middleware) Enabled() bool { return m != nil && m.jwtManager != nil }

// HTTPMiddleware rejects requests without a valid bearer token. Stream
// routes also accept ?token= because EventSource cannot set headers.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.tokenFromRequest(r)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		userCtx, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			m.logger.Debug("Rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			writeUnauthorized(w, "Invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) tokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return ExtractBearerToken(header)
	}
	if strings.Contains(r.URL.Path, "/stream/") {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
	}
	return "", ErrMissingToken
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserContext extracts user context from context
func GetUserContext(ctx context.Context) (*UserContext, bool) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	return userCtx, ok && userCtx != nil
}
