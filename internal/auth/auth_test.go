package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.GenerateToken("user-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 3600, tok.ExpiresIn)

	uc, err := m.ValidateAccessToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uc.UserID)
	assert.True(t, uc.HasScope(ScopeQueriesWrite))
	assert.NotEmpty(t, uc.TokenID)

	_, err = m.GenerateToken("")
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Minute)
	tok, err := m.GenerateToken("user-1", ScopeStreamsRead)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := NewJWTManager("other", time.Minute).ValidateAccessToken(tok.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewJWTManager("secret", time.Minute)
		late.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err := late.ValidateAccessToken(tok.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.ValidateAccessToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = ExtractBearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc", "abc"} {
		_, err := ExtractBearerToken(h)
		assert.Error(t, err, h)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.GenerateToken("user-7")
	require.NoError(t, err)

	var seen *UserContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewMiddleware(m, zaptest.NewLogger(t)).HTTPMiddleware(next)

	tests := []struct {
		name   string
		path   string
		header string
		code   int
	}{
		{"header", "/api/v1/orchestrator/query", "Bearer " + tok.AccessToken, http.StatusNoContent},
		{"missing", "/api/v1/orchestrator/query", "", http.StatusUnauthorized},
		{"bad token", "/api/v1/orchestrator/query", "Bearer nope", http.StatusUnauthorized},
		{"query param on stream", "/api/v1/sse/stream/s1?token=" + tok.AccessToken, "", http.StatusNoContent},
		{"query param elsewhere", "/api/v1/orchestrator/query?token=" + tok.AccessToken, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "user-7", seen.UserID)
			} else {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	var mw *Middleware
	assert.False(t, mw.Enabled())

	called := false
	h := NewMiddleware(nil, nil).HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := GetUserContext(r.Context())
		assert.False(t, ok)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
