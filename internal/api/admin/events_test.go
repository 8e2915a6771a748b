package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/db/repositories"
)

func newEventsRouter(t *testing.T, identity gin.HandlerFunc) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock := newMockDB(t)

	repo := repositories.NewEventRepository(db)
	h := NewEventsHandler(repo, audit.NewRecorder(repo), audit.NewExporter(repo))

	r := gin.New()
	r.Use(identity)
	r.GET("/audit/events", h.ListEvents)
	r.GET("/audit/events/:id", h.GetEvent)
	r.POST("/audit/events", h.AppendEvent)
	r.GET("/audit/export", h.ExportEvents)
	return mock, r
}

func sampleEventRow(rows *sqlmock.Rows, id int64, tenant string) *sqlmock.Rows {
	return rows.AddRow(id, tenant, nil, "alice@example.com", "LOGIN",
		nil, nil, "203.0.113.7", nil, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		audit.GenesisHash, strings.Repeat("a", 64))
}

// ---------------------------------------------------------------------------
// ListEvents
// ---------------------------------------------------------------------------

func TestListEvents_TenantScoped(t *testing.T) {
	mock, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	mock.ExpectQuery("SELECT COUNT").WithArgs("tenant-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ORDER BY id DESC").WithArgs("tenant-a", 50, 0).
		WillReturnRows(sampleEventRow(sqlmock.NewRows(eventCols), 1, "tenant-a"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["total"] != float64(1) || resp["page"] != float64(1) {
		t.Errorf("response = %v", resp)
	}
	if logs, ok := resp["logs"].([]interface{}); !ok || len(logs) != 1 {
		t.Errorf("logs = %v, want one record", resp["logs"])
	}
}

func TestListEvents_AdminCrossTenant(t *testing.T) {
	mock, r := newEventsRouter(t, asPlatformAdmin("root@example.com"))

	// No tenant filter at all: the count query takes no arguments.
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	rows := sqlmock.NewRows(eventCols)
	sampleEventRow(rows, 2, "tenant-b")
	sampleEventRow(rows, 1, "tenant-a")
	mock.ExpectQuery("ORDER BY id DESC").WithArgs(50, 0).WillReturnRows(rows)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestListEvents_InvalidPagination(t *testing.T) {
	for _, query := range []string{"page=0", "page=x", "limit=0", "limit=201"} {
		_, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events?"+query, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, w.Code)
		}
	}
}

func TestListEvents_InvalidDateRange(t *testing.T) {
	_, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET",
		"/audit/events?start_date=2026-03-14T00:00:00Z&end_date=2026-03-01T00:00:00Z", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListEvents_NoIdentity(t *testing.T) {
	_, r := newEventsRouter(t, func(c *gin.Context) { c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetEvent
// ---------------------------------------------------------------------------

func TestGetEvent_OwnTenant(t *testing.T) {
	mock, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	mock.ExpectQuery("WHERE id = ").WithArgs(int64(1)).
		WillReturnRows(sampleEventRow(sqlmock.NewRows(eventCols), 1, "tenant-a"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events/1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if getJSON(w)["id"] != float64(1) {
		t.Errorf("body = %s", w.Body.String())
	}
}

// A foreign tenant's event must be indistinguishable from a missing one.
func TestGetEvent_CrossTenantLooksAbsent(t *testing.T) {
	mock, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	mock.ExpectQuery("WHERE id = ").WithArgs(int64(2)).
		WillReturnRows(sampleEventRow(sqlmock.NewRows(eventCols), 2, "tenant-b"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events/2", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetEvent_AdminSeesAllTenants(t *testing.T) {
	mock, r := newEventsRouter(t, asPlatformAdmin("root@example.com"))

	mock.ExpectQuery("WHERE id = ").WithArgs(int64(2)).
		WillReturnRows(sampleEventRow(sqlmock.NewRows(eventCols), 2, "tenant-b"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events/2", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestGetEvent_InvalidID(t *testing.T) {
	_, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/events/zero", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// AppendEvent
// ---------------------------------------------------------------------------

func TestAppendEvent_RecordsCallerIdentity(t *testing.T) {
	mock, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))
	expectChainAppend(mock)

	body := strings.NewReader(`{"action": "CONFIG_UPDATE", "details": {"key": "retention_days"}}`)
	req := httptest.NewRequest("POST", "/audit/events", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["id"] != float64(1) {
		t.Errorf("id = %v, want 1", resp["id"])
	}
	if resp["tenant_id"] != "tenant-a" || resp["actor_email"] != "alice@example.com" {
		t.Errorf("identity not taken from the request context: %v", resp)
	}
	if resp["prev_hash"] != audit.GenesisHash {
		t.Errorf("prev_hash = %v", resp["prev_hash"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAppendEvent_MissingAction(t *testing.T) {
	_, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	req := httptest.NewRequest("POST", "/audit/events", strings.NewReader(`{"details": {}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ExportEvents
// ---------------------------------------------------------------------------

func TestExportEvents_CSVBody(t *testing.T) {
	mock, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	rows := sqlmock.NewRows(eventCols)
	sampleEventRow(rows, 2, "tenant-a")
	sampleEventRow(rows, 1, "tenant-a")
	mock.ExpectQuery("ORDER BY id DESC").WithArgs("tenant-a", exportRowCap+1).
		WillReturnRows(rows)
	expectChainAppend(mock) // the export itself is audited

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "audit-export-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Header().Get("X-Truncated") != "" {
		t.Error("X-Truncated set for a complete export")
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("csv has %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,") {
		t.Errorf("header = %q", lines[0])
	}
}

func TestExportEvents_AdminMustNameTenant(t *testing.T) {
	_, r := newEventsRouter(t, asPlatformAdmin("root@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestExportEvents_InvalidFrom(t *testing.T) {
	_, r := newEventsRouter(t, asTenant("tenant-a", "alice@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/audit/export?from=yesterday", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
