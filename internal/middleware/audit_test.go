package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/db/models"
)

// captureStore is an in-memory ChainStore good enough for middleware tests:
// it serializes appends with a mutex and keeps records in order.
type captureStore struct {
	mu      sync.Mutex
	records []*models.AuditEvent
}

func (s *captureStore) AppendRecord(ctx context.Context, build func(lastID int64, lastHash string) (*models.AuditEvent, error)) (*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastID int64
	var lastHash string
	if n := len(s.records); n > 0 {
		lastID = s.records[n-1].ID
		lastHash = s.records[n-1].Hash
	}
	rec, err := build(lastID, lastHash)
	if err != nil {
		return nil, err
	}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *captureStore) ScanAscending(ctx context.Context, startID int64, limit int) ([]*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditEvent
	for _, rec := range s.records {
		if rec.ID >= startID {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *captureStore) snapshot() []*models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditEvent(nil), s.records...)
}

// waitForRecords polls until the store holds n records or the deadline passes.
// The middleware appends asynchronously, so tests cannot assert immediately.
func waitForRecords(t *testing.T, store *captureStore, n int) []*models.AuditEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs := store.snapshot(); len(recs) >= n {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audit records, have %d", n, len(store.snapshot()))
	return nil
}

func newCaptureRouter(store *captureStore) *gin.Engine {
	recorder := audit.NewRecorder(store)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, "user-1")
		c.Set(ContextActorEmail, "ops@acme.test")
		c.Set(ContextTenantID, "tenant-acme")
		c.Set(ContextAuthMethod, "jwt")
	})
	r.Use(AuditCaptureMiddleware(recorder))
	r.GET("/api/v1/things", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/things", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/api/v1/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.POST("/api/v1/self-recorded", func(c *gin.Context) {
		c.Set(ContextAuditRecorded, true)
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuditCapture_RecordsSuccessfulWrite(t *testing.T) {
	store := &captureStore{}
	r := newCaptureRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/things", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	recs := waitForRecords(t, store, 1)
	rec := recs[0]
	if rec.Action != "POST /api/v1/things" {
		t.Errorf("action = %q, want POST /api/v1/things", rec.Action)
	}
	if rec.TenantID == nil || *rec.TenantID != "tenant-acme" {
		t.Errorf("tenant_id = %v, want tenant-acme", rec.TenantID)
	}
	if rec.ActorEmail == nil || *rec.ActorEmail != "ops@acme.test" {
		t.Errorf("actor_email = %v, want ops@acme.test", rec.ActorEmail)
	}
	// The recorder normalizes details, so numbers come back as json.Number.
	if rec.Details["status_code"] != json.Number("201") {
		t.Errorf("details.status_code = %v, want 201", rec.Details["status_code"])
	}
	if rec.Details["auth_method"] != "jwt" {
		t.Errorf("details.auth_method = %v, want jwt", rec.Details["auth_method"])
	}
	if rec.ID != 1 || rec.PrevHash != audit.GenesisHash {
		t.Errorf("expected first chain position, got id=%d prev=%s", rec.ID, rec.PrevHash)
	}
}

func TestAuditCapture_SkipsReads(t *testing.T) {
	store := &captureStore{}
	r := newCaptureRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	time.Sleep(50 * time.Millisecond)
	if recs := store.snapshot(); len(recs) != 0 {
		t.Errorf("expected no records for GET, got %d", len(recs))
	}
}

func TestAuditCapture_SkipsFailedRequests(t *testing.T) {
	store := &captureStore{}
	r := newCaptureRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bad", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	time.Sleep(50 * time.Millisecond)
	if recs := store.snapshot(); len(recs) != 0 {
		t.Errorf("expected no records for failed request, got %d", len(recs))
	}
}

func TestAuditCapture_SkipsHandlerRecordedRequests(t *testing.T) {
	store := &captureStore{}
	r := newCaptureRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/self-recorded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	time.Sleep(50 * time.Millisecond)
	if recs := store.snapshot(); len(recs) != 0 {
		t.Errorf("expected no generic record when handler recorded its own event, got %d", len(recs))
	}
}
