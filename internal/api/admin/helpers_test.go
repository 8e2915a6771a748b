package admin

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/middleware"
)

var errDB = errors.New("connection reset")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// asTenant injects a tenant-bound identity the way AuthMiddleware would.
func asTenant(tenantID, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "user-1")
		c.Set(middleware.ContextActorEmail, email)
		c.Set(middleware.ContextTenantID, tenantID)
		c.Set(middleware.ContextAuthMethod, "jwt")
		c.Next()
	}
}

// asPlatformAdmin injects a platform-administrator identity.
func asPlatformAdmin(email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "admin-1")
		c.Set(middleware.ContextActorEmail, email)
		c.Set(middleware.ContextPlatformAdmin, true)
		c.Set(middleware.ContextAuthMethod, "jwt")
		c.Next()
	}
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func getJSON(w *httptest.ResponseRecorder) map[string]interface{} {
	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

var eventCols = []string{
	"id", "tenant_id", "actor_user_id", "actor_email", "action",
	"entity_type", "entity_id", "ip_address", "details", "created_at",
	"prev_hash", "hash",
}

// expectChainAppend registers the transaction an audit append runs: advisory
// lock, tail read (empty chain), insert, commit.
func expectChainAppend(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("ORDER BY id DESC LIMIT 1").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}
