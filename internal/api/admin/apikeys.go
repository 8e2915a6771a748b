// apikeys.go implements management of API keys for non-interactive clients
// (CLI tooling, SIEM pollers). The raw key is returned exactly once, at
// creation; only its bcrypt hash is stored.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/auth"
	"github.com/chainlog/chainlog/internal/db/models"
	"github.com/chainlog/chainlog/internal/db/repositories"
	"github.com/chainlog/chainlog/internal/middleware"
)

// apiKeyPrefix distinguishes this service's keys in credential scanners.
const apiKeyPrefix = "clg"

// APIKeysHandler handles API key management requests.
type APIKeysHandler struct {
	repo     *repositories.APIKeyRepository
	recorder *audit.Recorder
}

// NewAPIKeysHandler creates an APIKeysHandler.
func NewAPIKeysHandler(repo *repositories.APIKeyRepository, recorder *audit.Recorder) *APIKeysHandler {
	return &APIKeysHandler{repo: repo, recorder: recorder}
}

type createAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
	// TenantID scopes the key. Platform administrators may set any tenant or
	// leave it empty for a platform-wide key; tenant-bound callers always get
	// a key bound to their own tenant.
	TenantID  *string    `json:"tenant_id"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type createAPIKeyResponse struct {
	models.APIKey
	// Key is the full credential, returned only in this response.
	Key string `json:"key"`
}

// @Summary      Create an API key
// @Description  Creates a bearer key for non-interactive access. The full key appears only in this response; store it securely.
// @Tags         APIKeys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        request  body  createAPIKeyRequest  true  "Key attributes"
// @Success      201  {object}  createAPIKeyResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Tenant scope not permitted"
// @Router       /api/v1/admin/apikeys [post]
func (h *APIKeysHandler) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at is in the past"})
		return
	}

	tenantID := req.TenantID
	if !c.GetBool(middleware.ContextPlatformAdmin) {
		own := c.GetString(middleware.ContextTenantID)
		if own == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "No tenant context"})
			return
		}
		if tenantID != nil && *tenantID != own {
			c.JSON(http.StatusForbidden, gin.H{"error": "Cannot create a key for another tenant"})
			return
		}
		tenantID = &own
	}

	fullKey, hash, displayPrefix, err := auth.GenerateAPIKey(apiKeyPrefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate key"})
		return
	}

	key := &models.APIKey{
		Name:          req.Name,
		KeyHash:       hash,
		DisplayPrefix: displayPrefix,
		TenantID:      tenantID,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := h.repo.CreateAPIKey(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store key"})
		return
	}

	h.recordKeyEvent(c, audit.ActionAPIKeyCreate, key)
	c.JSON(http.StatusCreated, createAPIKeyResponse{APIKey: *key, Key: fullKey})
}

// @Summary      List API keys
// @Description  Lists key metadata (never the keys themselves) for the caller's tenant scope.
// @Tags         APIKeys
// @Security     Bearer
// @Produce      json
// @Success      200  {array}  models.APIKey
// @Router       /api/v1/admin/apikeys [get]
func (h *APIKeysHandler) ListAPIKeys(c *gin.Context) {
	tenantID, ok := middleware.ResolveTenant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No tenant context"})
		return
	}

	keys, err := h.repo.ListAPIKeys(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, keys)
}

// @Summary      Revoke an API key
// @Description  Deletes a key immediately. In-flight requests already authenticated with it complete; new requests fail.
// @Tags         APIKeys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Key id"
// @Success      204  "Revoked"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/admin/apikeys/{id} [delete]
func (h *APIKeysHandler) DeleteAPIKey(c *gin.Context) {
	id := c.Param("id")

	deleted, err := h.repo.DeleteAPIKey(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke key"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}

	h.recordKeyEvent(c, audit.ActionAPIKeyRevoke, &models.APIKey{ID: id})
	c.Status(http.StatusNoContent)
}

func (h *APIKeysHandler) recordKeyEvent(c *gin.Context, action string, key *models.APIKey) {
	entityType := "api_key"
	ev := audit.Event{
		Action:     action,
		EntityType: &entityType,
		EntityID:   &key.ID,
	}
	applyCallerIdentity(c, &ev)
	if key.TenantID != nil {
		ev.TenantID = key.TenantID
	}
	if _, err := h.recorder.Append(c.Request.Context(), ev); err != nil {
		// The key operation already committed; a 500 now would misreport it.
		slog.Error("api key audit append failed", "action", action, "key_id", key.ID, "error", err)
	}
	c.Set(middleware.ContextAuditRecorded, true)
}
