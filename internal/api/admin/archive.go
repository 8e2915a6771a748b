// archive.go implements the retention endpoint: archiving a report snapshot
// or CSV export to the configured backend.
package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/archive"
	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/middleware"
)

// ArchiveHandler handles archival requests.
type ArchiveHandler struct {
	archiver *archive.Archiver
	recorder *audit.Recorder
}

// NewArchiveHandler creates an ArchiveHandler. archiver may be nil when no
// archive backend is configured; requests then fail with 503.
func NewArchiveHandler(archiver *archive.Archiver, recorder *audit.Recorder) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, recorder: recorder}
}

type archiveRequest struct {
	// Kind selects the artifact: "report" or "export".
	Kind string `json:"kind" binding:"required"`
	// Days is the trailing window for report archives (default 30).
	Days int `json:"days"`
	// Export filters, used when kind is "export".
	From       *string `json:"from"`
	To         *string `json:"to"`
	Action     *string `json:"action"`
	ActorEmail *string `json:"actor_email"`
}

type archiveResponse struct {
	archive.PutResult
	Truncated bool `json:"truncated,omitempty"`
}

// @Summary      Archive an audit artifact
// @Description  Renders a compliance report snapshot or CSV export for one tenant and writes it to the archive backend with a SHA-256 checksum. The archival itself is recorded as an audit event.
// @Tags         Archive
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        tenant_id  query  string          false  "Tenant (platform administrators only)"
// @Param        request    body   archiveRequest  true   "Artifact selection"
// @Success      201  {object}  archiveResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      503  {object}  map[string]interface{}  "No archive backend configured"
// @Router       /api/v1/audit/archive [post]
func (h *ArchiveHandler) Archive(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Archival is not configured"})
		return
	}

	tenantID, ok := middleware.ResolveTenant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No tenant context"})
		return
	}
	if tenantID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required for archival"})
		return
	}

	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	days := req.Days
	if days == 0 {
		days = defaultWindowDays
	}
	if days < 1 || days > maxWindowDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days (1-365)"})
		return
	}

	var (
		result    *archive.PutResult
		truncated bool
		err       error
	)
	switch req.Kind {
	case "report":
		result, err = h.archiver.ArchiveReport(c.Request.Context(), *tenantID, days)
	case "export":
		filters, ferr := exportFiltersFromRequest(&req)
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": ferr.Error()})
			return
		}
		result, truncated, err = h.archiver.ArchiveExport(c.Request.Context(), *tenantID, filters, exportRowCap)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be 'report' or 'export'"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Archival failed"})
		return
	}

	ev := audit.Event{
		Action: audit.ActionArchiveCreate,
		Details: map[string]interface{}{
			"kind":     req.Kind,
			"path":     result.Path,
			"size":     result.Size,
			"checksum": result.Checksum,
		},
	}
	applyCallerIdentity(c, &ev)
	ev.TenantID = tenantID
	if _, err := h.recorder.Append(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record archival"})
		return
	}
	c.Set(middleware.ContextAuditRecorded, true)

	c.JSON(http.StatusCreated, archiveResponse{PutResult: *result, Truncated: truncated})
}

// exportFiltersFromRequest parses the export filter fields of an archive
// request.
func exportFiltersFromRequest(req *archiveRequest) (audit.ExportFilters, error) {
	var filters audit.ExportFilters
	if req.From != nil {
		t, err := time.Parse(time.RFC3339, *req.From)
		if err != nil {
			return filters, fmt.Errorf("invalid from: must be RFC 3339")
		}
		filters.From = &t
	}
	if req.To != nil {
		t, err := time.Parse(time.RFC3339, *req.To)
		if err != nil {
			return filters, fmt.Errorf("invalid to: must be RFC 3339")
		}
		filters.To = &t
	}
	if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
		return filters, fmt.Errorf("to is before from")
	}
	filters.Action = req.Action
	filters.ActorEmail = req.ActorEmail
	return filters, nil
}
