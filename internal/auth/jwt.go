// Package auth provides the authentication primitives consumed by the request
// middleware: JWT verification for sessions issued by the platform's identity
// service, and API key generation/validation for non-interactive clients.
//
// This service never issues login sessions itself — identity and tenant
// selection are external collaborators. It verifies their tokens with the
// shared secret and trusts the tenant/user claims they carry.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RolePlatformAdmin marks a token as cross-tenant administrative: holders may
// verify the global chain and pass an explicit tenant_id to the analytic
// endpoints.
const RolePlatformAdmin = "platform_admin"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the token payload issued by the identity service.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id,omitempty"` // empty before tenant selection
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ValidateJWTSecret checks that CLG_JWT_SECRET is configured. In production a
// missing secret is a startup failure; in dev mode a random secret is
// generated with a warning (sessions then do not survive restarts). Call once
// at startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("CLG_JWT_SECRET")
		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("CLG_JWT_SECRET not set; using auto-generated development secret")
				return
			}
			jwtSecretErr = errors.New("CLG_JWT_SECRET is required in production; generate one with: openssl rand -hex 32")
			return
		}
		if len(secret) < 32 {
			slog.Warn("CLG_JWT_SECRET is shorter than the recommended 32 characters")
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// ValidateJWT parses and verifies a token string, returning its claims.
func ValidateJWT(tokenString string) (*Claims, error) {
	if err := ValidateJWTSecret(); err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// CreateJWT signs a token for the given identity. Used by tests and by local
// development tooling; production tokens come from the identity service.
func CreateJWT(userID, email, tenantID, role string, ttl time.Duration) (string, error) {
	if err := ValidateJWTSecret(); err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Email:    email,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
