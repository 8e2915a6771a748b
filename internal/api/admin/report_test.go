package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/db/repositories"
)

func newReportRouter(t *testing.T, identity gin.HandlerFunc) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock := newMockDB(t)

	statsRepo := repositories.NewStatsRepository(sqlx.NewDb(db, "sqlmock"))
	holder := audit.NewPolicyHolder(audit.DefaultPolicy())
	h := NewReportHandler(audit.NewReporter(statsRepo, holder))

	r := gin.New()
	r.Use(identity)
	r.GET("/audit/report", h.GetReport)
	return mock, r
}

func TestGetReport_Success(t *testing.T) {
	mock, r := newReportRouter(t, asTenant("tenant-a", "alice@example.com"))

	mock.ExpectQuery("FILTER").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN", "LOGIN_FAILED", "USER_ROLE_UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"total_events", "logins", "failed_logins", "role_changes"}).
			AddRow(int64(120), int64(40), int64(9), int64(2)))
	mock.ExpectQuery("GROUP BY actor_email").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN_FAILED", 10).
		WillReturnRows(sqlmock.NewRows([]string{"actor_email", "count"}).
			AddRow("mallory@example.com", int64(6)))
	mock.ExpectQuery("GROUP BY ip_address").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN_FAILED", 10).
		WillReturnRows(sqlmock.NewRows([]string{"ip_address", "count"}).
			AddRow("203.0.113.7", int64(6)))

	afterHours := sqlmock.NewRows(eventCols)
	sampleEventRow(afterHours, 88, "tenant-a")
	mock.ExpectQuery("EXTRACT").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN", "UTC", 7, 20, 50).
		WillReturnRows(afterHours)

	destructive := sqlmock.NewRows(eventCols)
	sampleEventRow(destructive, 91, "tenant-a")
	mock.ExpectQuery("LIKE ANY").
		WithArgs("tenant-a", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 50).
		WillReturnRows(destructive)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/report", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	summary, ok := resp["summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing summary: %v", resp)
	}
	if summary["total_events"] != float64(120) || summary["failed_logins"] != float64(9) {
		t.Errorf("summary = %v", summary)
	}
	findings, ok := resp["findings"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing findings: %v", resp)
	}
	for _, key := range []string{"failed_logins_by_email", "failed_logins_by_ip", "after_hours_logins", "destructive_events"} {
		if findings[key] == nil {
			t.Errorf("findings missing %q", key)
		}
	}
	if resp["window_days"] != float64(30) {
		t.Errorf("window_days = %v, want 30", resp["window_days"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A tuned policy must reach the SQL as query parameters, not just the in-memory
// classification helpers.
func TestGetReport_PolicyFlowsIntoQueries(t *testing.T) {
	db, mock := newMockDB(t)

	statsRepo := repositories.NewStatsRepository(sqlx.NewDb(db, "sqlmock"))
	holder := audit.NewPolicyHolder(audit.Policy{
		BusinessHoursStart:  9,
		BusinessHoursEnd:    17,
		Timezone:            "Europe/Berlin",
		DestructiveSuffixes: []string{"_DELETE"},
		DestructiveActions:  []string{"BULK_PURGE"},
		TopN:                5,
		MaxFindings:         25,
	})
	h := NewReportHandler(audit.NewReporter(statsRepo, holder))

	r := gin.New()
	r.Use(asTenant("tenant-a", "alice@example.com"))
	r.GET("/audit/report", h.GetReport)

	mock.ExpectQuery("FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"total_events", "logins", "failed_logins", "role_changes"}).
			AddRow(int64(0), int64(0), int64(0), int64(0)))
	mock.ExpectQuery("GROUP BY actor_email").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN_FAILED", 5).
		WillReturnRows(sqlmock.NewRows([]string{"actor_email", "count"}))
	mock.ExpectQuery("GROUP BY ip_address").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN_FAILED", 5).
		WillReturnRows(sqlmock.NewRows([]string{"ip_address", "count"}))
	mock.ExpectQuery("EXTRACT").
		WithArgs("tenant-a", sqlmock.AnyArg(), "LOGIN", "Europe/Berlin", 9, 17, 25).
		WillReturnRows(sqlmock.NewRows(eventCols))
	mock.ExpectQuery("LIKE ANY").
		WithArgs("tenant-a", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 25).
		WillReturnRows(sqlmock.NewRows(eventCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/report", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetReport_AdminWithoutTenant(t *testing.T) {
	_, r := newReportRouter(t, asPlatformAdmin("root@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/report", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetReport_InvalidDays(t *testing.T) {
	_, r := newReportRouter(t, asTenant("tenant-a", "alice@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/report?days=400", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetReport_QueryFailure(t *testing.T) {
	mock, r := newReportRouter(t, asTenant("tenant-a", "alice@example.com"))

	mock.ExpectQuery("FILTER").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/report", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
