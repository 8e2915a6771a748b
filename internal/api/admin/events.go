// Package admin implements the versioned administrative API handlers for the
// audit trail: event listing and append, chain verification, aggregated
// statistics, compliance reporting, CSV export, and archival.
package admin

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/db/models"
	"github.com/chainlog/chainlog/internal/db/repositories"
	"github.com/chainlog/chainlog/internal/middleware"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// exportRowCap bounds a single export so one request cannot drag the
	// whole table through the connection. Truncation is flagged, never silent.
	exportRowCap = 10000
)

// EventsHandler handles event listing, retrieval, append, and export.
type EventsHandler struct {
	repo     *repositories.EventRepository
	recorder *audit.Recorder
	exporter *audit.Exporter
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(repo *repositories.EventRepository, recorder *audit.Recorder, exporter *audit.Exporter) *EventsHandler {
	return &EventsHandler{repo: repo, recorder: recorder, exporter: exporter}
}

// eventListResponse is the paginated listing envelope.
type eventListResponse struct {
	Logs  []*models.AuditEvent `json:"logs"`
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// @Summary      List audit events
// @Description  Returns a filtered, paginated page of audit events, newest first. Tenant-bound callers see only their own tenant; platform administrators may pass tenant_id or omit it for a cross-tenant view.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        page         query  int     false  "Page number (1-based)"
// @Param        limit        query  int     false  "Page size (max 200)"
// @Param        action       query  string  false  "Exact action code"
// @Param        actor_email  query  string  false  "Exact actor email"
// @Param        start_date   query  string  false  "RFC 3339 lower bound (inclusive)"
// @Param        end_date     query  string  false  "RFC 3339 upper bound (exclusive)"
// @Success      200  {object}  eventListResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid parameters"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/audit/events [get]
func (h *EventsHandler) ListEvents(c *gin.Context) {
	tenantID, ok := middleware.ResolveTenant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No tenant context"})
		return
	}

	page, limit, ok := parsePagination(c)
	if !ok {
		return
	}

	filters := repositories.EventFilters{TenantID: tenantID}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("actor_email"); v != "" {
		filters.ActorEmail = &v
	}
	var parseErr bool
	filters.StartDate, parseErr = parseTimeQuery(c, "start_date")
	if parseErr {
		return
	}
	filters.EndDate, parseErr = parseTimeQuery(c, "end_date")
	if parseErr {
		return
	}
	if filters.StartDate != nil && filters.EndDate != nil && filters.EndDate.Before(*filters.StartDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date is before start_date"})
		return
	}

	events, total, err := h.repo.ListEvents(c.Request.Context(), filters, limit, (page-1)*limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit events"})
		return
	}

	c.JSON(http.StatusOK, eventListResponse{Logs: events, Total: total, Page: page, Limit: limit})
}

// @Summary      Get a single audit event
// @Description  Returns one event by chain id. Tenant-bound callers receive 404 for events outside their tenant.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "Chain id"
// @Success      200  {object}  models.AuditEvent
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/audit/events/{id} [get]
func (h *EventsHandler) GetEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event id"})
		return
	}

	rec, err := h.repo.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit event"})
		return
	}
	if rec == nil || !tenantCanSee(c, rec) {
		// Cross-tenant ids are indistinguishable from absent ones so an
		// id probe cannot enumerate another tenant's activity.
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// appendEventRequest is the body of POST /audit/events. Actor identity and IP
// come from the authenticated request, never from the body.
type appendEventRequest struct {
	Action     string                 `json:"action" binding:"required"`
	EntityType *string                `json:"entity_type"`
	EntityID   *string                `json:"entity_id"`
	Details    map[string]interface{} `json:"details"`
}

// @Summary      Append an audit event
// @Description  Records a new event at the tail of the hash chain. The actor, tenant, and source IP are taken from the authenticated request.
// @Tags         Audit
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        request  body  appendEventRequest  true  "Event fields"
// @Success      201  {object}  models.AuditEvent
// @Failure      400  {object}  map[string]interface{}  "Invalid event"
// @Router       /api/v1/audit/events [post]
func (h *EventsHandler) AppendEvent(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	ev := audit.Event{
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Details:    req.Details,
	}
	applyCallerIdentity(c, &ev)

	rec, err := h.recorder.Append(c.Request.Context(), ev)
	if err != nil {
		if err == audit.ErrEmptyAction {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to append audit event"})
		return
	}

	// The append is the domain event; suppress the generic capture.
	c.Set(middleware.ContextAuditRecorded, true)
	c.JSON(http.StatusCreated, rec)
}

// @Summary      Export audit events as CSV
// @Description  Streams a filtered CSV export for one tenant, newest first, capped at 10000 rows. A truncated export sets the X-Truncated response header.
// @Tags         Audit
// @Security     Bearer
// @Produce      text/csv
// @Param        tenant_id    query  string  false  "Tenant (platform administrators only)"
// @Param        from         query  string  false  "RFC 3339 lower bound (inclusive)"
// @Param        to           query  string  false  "RFC 3339 upper bound (exclusive)"
// @Param        action       query  string  false  "Exact action code"
// @Param        actor_email  query  string  false  "Exact actor email"
// @Success      200  {string}  string  "CSV body"
// @Failure      400  {object}  map[string]interface{}  "Invalid parameters"
// @Router       /api/v1/audit/export [get]
func (h *EventsHandler) ExportEvents(c *gin.Context) {
	tenantID, ok := middleware.ResolveTenant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No tenant context"})
		return
	}
	if tenantID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required for export"})
		return
	}

	var filters audit.ExportFilters
	var parseErr bool
	filters.From, parseErr = parseTimeQuery(c, "from")
	if parseErr {
		return
	}
	filters.To, parseErr = parseTimeQuery(c, "to")
	if parseErr {
		return
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("actor_email"); v != "" {
		filters.ActorEmail = &v
	}
	if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to is before from"})
		return
	}

	// Buffered so the truncation header can be set before the body is sent.
	var buf bytes.Buffer
	result, err := h.exporter.Stream(c.Request.Context(), &buf, *tenantID, filters, exportRowCap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}

	// The export itself is an auditable action.
	ev := audit.Event{
		Action: audit.ActionExportCreate,
		Details: map[string]interface{}{
			"rows":      result.Rows,
			"truncated": result.Truncated,
		},
	}
	applyCallerIdentity(c, &ev)
	ev.TenantID = tenantID
	if _, err := h.recorder.Append(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record export"})
		return
	}
	c.Set(middleware.ContextAuditRecorded, true)

	filename := "audit-export-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if result.Truncated {
		c.Header("X-Truncated", "true")
	}
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// applyCallerIdentity fills actor and tenant fields from the authenticated
// request context.
func applyCallerIdentity(c *gin.Context, ev *audit.Event) {
	if id := c.GetString(middleware.ContextUserID); id != "" {
		ev.ActorUserID = &id
	}
	if email := c.GetString(middleware.ContextActorEmail); email != "" {
		ev.ActorEmail = &email
	}
	if tenant := c.GetString(middleware.ContextTenantID); tenant != "" {
		ev.TenantID = &tenant
	}
	if ip := c.ClientIP(); ip != "" {
		ev.IPAddress = &ip
	}
}

// tenantCanSee reports whether the caller's tenant scope covers a record.
func tenantCanSee(c *gin.Context, rec *models.AuditEvent) bool {
	if c.GetBool(middleware.ContextPlatformAdmin) {
		return true
	}
	tenant := c.GetString(middleware.ContextTenantID)
	return tenant != "" && rec.TenantID != nil && *rec.TenantID == tenant
}

// parsePagination reads page/limit query parameters, writing the error
// response itself when they are malformed.
func parsePagination(c *gin.Context) (page, limit int, ok bool) {
	page = 1
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return 0, 0, false
		}
		page = n
	}
	limit = defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit (1-200)"})
			return 0, 0, false
		}
		limit = n
	}
	return page, limit, true
}

// parseTimeQuery reads an optional RFC 3339 query parameter. On a malformed
// value it writes the 400 response and reports parseErr.
func parseTimeQuery(c *gin.Context, name string) (t *time.Time, parseErr bool) {
	v := c.Query(name)
	if v == "" {
		return nil, false
	}
	parsed, err := time.Parse(time.RFC3339, v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + ": must be RFC 3339"})
		return nil, true
	}
	return &parsed, false
}
