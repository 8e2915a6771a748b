// stats.go implements the aggregated statistics endpoint backing the activity
// dashboard.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/middleware"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 365
)

// StatsHandler handles aggregated statistics requests.
type StatsHandler struct {
	aggregator *audit.Aggregator
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(aggregator *audit.Aggregator) *StatsHandler {
	return &StatsHandler{aggregator: aggregator}
}

// @Summary      Get audit statistics
// @Description  Returns grouped event counts for one tenant over a trailing window: totals, per-day, per-action, per-entity-type, and top actors. by_day is sparse; absent days are zero.
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Param        days       query  int     false  "Trailing window in days (default 30, max 365)"
// @Param        tenant_id  query  string  false  "Tenant (platform administrators only)"
// @Success      200  {object}  audit.Stats
// @Failure      400  {object}  map[string]interface{}  "Invalid parameters"
// @Router       /api/v1/audit/stats [get]
func (h *StatsHandler) GetStats(c *gin.Context) {
	tenantID, days, ok := resolveTenantWindow(c)
	if !ok {
		return
	}

	stats, err := h.aggregator.Stats(c.Request.Context(), *tenantID, days)
	if err != nil {
		if err == audit.ErrInvalidWindow {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// resolveTenantWindow resolves the tenant scope and trailing window shared by
// the stats and report endpoints, writing the error response itself on
// failure. Both endpoints require a concrete tenant: their queries are
// tenant-grouped, so platform administrators must name one.
func resolveTenantWindow(c *gin.Context) (tenantID *string, days int, ok bool) {
	tenantID, authOK := middleware.ResolveTenant(c)
	if !authOK {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No tenant context"})
		return nil, 0, false
	}
	if tenantID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return nil, 0, false
	}

	days = defaultWindowDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxWindowDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days (1-365)"})
			return nil, 0, false
		}
		days = n
	}
	return tenantID, days, true
}
