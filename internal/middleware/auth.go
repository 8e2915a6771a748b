// Package middleware provides Gin HTTP middleware for authentication,
// rate limiting, security headers, metrics, and request audit capture.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any DB
// work. Auth populates the caller identity; audit capture runs after auth so
// recorded events carry the actor.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/auth"
	"github.com/chainlog/chainlog/internal/db/models"
	"github.com/chainlog/chainlog/internal/db/repositories"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID        = "user_id"
	ContextActorEmail    = "actor_email"
	ContextTenantID      = "tenant_id"
	ContextAuthMethod    = "auth_method"
	ContextPlatformAdmin = "platform_admin"
	ContextAPIKeyID      = "api_key_id"
)

// AuthMiddleware validates the caller credential: a JWT issued by the identity
// service, or an API key. JWT is tried first because it is stateless — API key
// validation always costs a DB round-trip plus bcrypt comparisons.
func AuthMiddleware(apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		if claims, err := auth.ValidateJWT(token); err == nil {
			c.Set(ContextUserID, claims.UserID)
			c.Set(ContextActorEmail, claims.Email)
			c.Set(ContextAuthMethod, "jwt")
			if claims.TenantID != "" {
				c.Set(ContextTenantID, claims.TenantID)
			}
			if claims.Role == auth.RolePlatformAdmin {
				c.Set(ContextPlatformAdmin, true)
			}
			c.Next()
			return
		}

		// The display prefix narrows the candidate set via an indexed lookup so
		// bcrypt runs against a handful of rows, not the whole table.
		apiKey, err := authenticateAPIKey(c.Request.Context(), token, apiKeyRepo)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}
		if apiKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if apiKey.Expired(time.Now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key expired"})
			return
		}

		// Last-used tracking is best-effort and deliberately asynchronous so it
		// never adds a DB write to the request path.
		keyID := apiKey.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiKeyRepo.TouchLastUsed(ctx, keyID); err != nil {
				slog.Debug("api key last-used update failed", "key_id", keyID, "error", err)
			}
		}()

		c.Set(ContextAPIKeyID, apiKey.ID)
		c.Set(ContextAuthMethod, "api_key")
		if apiKey.TenantID != nil {
			c.Set(ContextTenantID, *apiKey.TenantID)
		} else {
			// A key without a tenant binding is platform-wide.
			c.Set(ContextPlatformAdmin, true)
		}
		c.Next()
	}
}

// RequirePlatformAdmin gates cross-tenant operations such as chain
// verification and archival. It must run after AuthMiddleware.
func RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextPlatformAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Platform administrator access required"})
			return
		}
		c.Next()
	}
}

// ResolveTenant returns the tenant the request is scoped to. Tenant-bound
// callers always get their own tenant; platform admins may select any tenant
// with the tenant_id query parameter, or omit it for a cross-tenant view.
func ResolveTenant(c *gin.Context) (tenantID *string, ok bool) {
	if c.GetBool(ContextPlatformAdmin) {
		if q := c.Query("tenant_id"); q != "" {
			return &q, true
		}
		return nil, true
	}
	if v, exists := c.Get(ContextTenantID); exists {
		if id, isStr := v.(string); isStr && id != "" {
			return &id, true
		}
	}
	return nil, false
}

func authenticateAPIKey(ctx context.Context, providedKey string, apiKeyRepo *repositories.APIKeyRepository) (*models.APIKey, error) {
	keys, err := apiKeyRepo.FindByDisplayPrefix(ctx, auth.DisplayPrefix(providedKey))
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if auth.ValidateAPIKey(providedKey, key.KeyHash) {
			return key, nil
		}
	}
	return nil, nil
}
