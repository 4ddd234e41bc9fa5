package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes
const (
	ScopeRead    = "read"
	ScopeCommand = "command"
)

var ErrInsufficientScope = errors.New("controller: token lacks required scope")

// TokenService issues and validates operator bearer tokens
type TokenService struct {
	secretKey   []byte
	issuer      string
	tokenExpiry time.Duration
}

// TokenClaims represents the claims in an operator token
type TokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

func (c *TokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func NewTokenService(config AuthConfig) *TokenService {
	return &TokenService{
		secretKey:   []byte(config.SecretKey),
		issuer:      config.Issuer,
		tokenExpiry: time.Duration(config.ExpiryHours) * time.Hour,
	}
}

// IssueToken creates a signed token for operator with the given scopes
func (t *TokenService) IssueToken(operator string, scopes ...string) (string, error) {
	if operator == "" {
		return "", fmt.Errorf("operator name is required")
	}
	now := time.Now()
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.tokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secretKey)
}

// ValidateToken validates a token and returns its claims
func (t *TokenService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secretKey, nil
	}, jwt.WithIssuer(t.issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

type claimsKey struct{}

// RequireScope rejects requests without a valid bearer token carrying scope
func (t *TokenService) RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			sendError(w, http.StatusUnauthorized, "bearer token required")
			return
		}

		claims, err := t.ValidateToken(tokenString)
		if err != nil {
			sendError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if !claims.HasScope(scope) {
			sendError(w, http.StatusForbidden, ErrInsufficientScope.Error())
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the validated claims of the request, if any
func ClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*TokenClaims)
	return claims, ok
}
