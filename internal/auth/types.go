package auth

import (
	"errors"
	"time"

	"github.com/samber/lo"
)

// Scopes granted to orchestrator tokens.
const (
	ScopeQueriesWrite = "queries:write"
	ScopeStreamsRead  = "streams:read"
	ScopeRunsRead     = "runs:read"
)

// DefaultScopes is what minted tokens carry when none are requested.
var DefaultScopes = []string{ScopeQueriesWrite, ScopeStreamsRead, ScopeRunsRead}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// UserContext represents the authenticated caller of a request
type UserContext struct {
	UserID    string    `json:"user_id"`
	Scopes    []string  `json:"scopes"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	return lo.Contains(u.Scopes, scope)
}

// TokenResponse is what the token command prints.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}
