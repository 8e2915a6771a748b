// report.go implements the compliance report endpoint.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
)

// ReportHandler handles compliance report requests.
type ReportHandler struct {
	reporter *audit.Reporter
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reporter *audit.Reporter) *ReportHandler {
	return &ReportHandler{reporter: reporter}
}

// @Summary      Generate a compliance report
// @Description  Returns a point-in-time security review for one tenant: summary counts plus findings (failed logins by email and IP, after-hours logins, destructive actions) over a trailing window.
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Param        days       query  int     false  "Trailing window in days (default 30, max 365)"
// @Param        tenant_id  query  string  false  "Tenant (platform administrators only)"
// @Success      200  {object}  audit.Report
// @Failure      400  {object}  map[string]interface{}  "Invalid parameters"
// @Router       /api/v1/audit/report [get]
func (h *ReportHandler) GetReport(c *gin.Context) {
	tenantID, days, ok := resolveTenantWindow(c)
	if !ok {
		return
	}

	report, err := h.reporter.Generate(c.Request.Context(), *tenantID, days)
	if err != nil {
		if err == audit.ErrInvalidWindow {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
		return
	}
	c.JSON(http.StatusOK, report)
}
