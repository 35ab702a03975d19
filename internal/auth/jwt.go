package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "aurachain"

// JWTManager mints and validates HS256 access tokens.
type JWTManager struct {
	signingKey        []byte
	accessTokenExpiry time.Duration
	issuer            string
	now               func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(signingKey string, accessExpiry time.Duration) *JWTManager {
	if accessExpiry <= 0 {
		accessExpiry = 30 * time.Minute
	}
	return &JWTManager{
		signingKey:        []byte(signingKey),
		accessTokenExpiry: accessExpiry,
		issuer:            issuer,
		now:               time.Now,
	}
}

// CustomClaims represents the custom JWT claims
type CustomClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// GenerateToken mints an access token for userID.
func (j *JWTManager) GenerateToken(userID string, scopes ...string) (*TokenResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	now := j.now()
	expiresAt := now.Add(j.accessTokenExpiry)

	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Scopes: scopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(j.accessTokenExpiry.Seconds()),
		ExpiresAt:   expiresAt.UTC(),
	}, nil
}

// ValidateAccessToken validates and parses a JWT access token
func (j *JWTManager) ValidateAccessToken(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	uc := &UserContext{
		UserID:  claims.Subject,
		Scopes:  claims.Scopes,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		uc.ExpiresAt = claims.ExpiresAt.Time
	}
	return uc, nil
}

// ExtractBearerToken extracts the token from Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return strings.TrimSpace(authHeader[len(prefix):]), nil
}
