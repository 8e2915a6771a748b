package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chainlog/chainlog/internal/config"
)

// newTestStore creates a LocalStore backed by a temporary directory.
func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	cfg := &config.LocalArchiveConfig{BasePath: t.TempDir()}
	s, err := New(cfg)
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	cfg := &config.LocalArchiveConfig{BasePath: subDir}
	if _, err := New(cfg); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

// ---------------------------------------------------------------------------
// Put
// ---------------------------------------------------------------------------

func TestPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := `{"window_days": 30}`
	result, err := s.Put(ctx, "reports/tenant-a/20260314-090000.json", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if result.Path != "reports/tenant-a/20260314-090000.json" {
		t.Errorf("Path = %q", result.Path)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}
}

func TestPut_CreatesSubdirectories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "exports/tenant-b/20260314-090000.csv", strings.NewReader("id,hash\n")); err != nil {
		t.Fatalf("Put() error for nested path: %v", err)
	}

	fullPath := filepath.Join(s.basePath, "exports", "tenant-b", "20260314-090000.csv")
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		t.Error("Put() did not create file at nested path")
	}
}

func TestPut_ChecksumDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "consistent data"
	r1, err := s.Put(ctx, "one.txt", strings.NewReader(content))
	if err != nil {
		t.Fatal("Put:", err)
	}
	r2, err := s.Put(ctx, "two.txt", strings.NewReader(content))
	if err != nil {
		t.Fatal("Put:", err)
	}

	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := "archived artifact"
	if _, err := s.Put(ctx, "get.txt", strings.NewReader(want)); err != nil {
		t.Fatal("Put:", err)
	}

	rc, err := s.Get(ctx, "get.txt")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != want {
		t.Errorf("Get() content = %q, want %q", string(data), want)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nonexistent.txt")
	if err == nil {
		t.Error("Get() expected error for missing object, got nil")
	}
}

// ---------------------------------------------------------------------------
// Exists
// ---------------------------------------------------------------------------

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "no-such.txt")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists() = true for non-existent object, want false")
	}

	if _, err := s.Put(ctx, "yes.txt", strings.NewReader("data")); err != nil {
		t.Fatal("Put:", err)
	}

	ok, err = s.Exists(ctx, "yes.txt")
	if err != nil {
		t.Fatalf("Exists() error after put: %v", err)
	}
	if !ok {
		t.Error("Exists() = false for existing object, want true")
	}
}

// ---------------------------------------------------------------------------
// Metadata
// ---------------------------------------------------------------------------

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := []byte("metadata test content")
	if _, err := s.Put(ctx, "meta.txt", bytes.NewReader(content)); err != nil {
		t.Fatal("Put:", err)
	}

	meta, err := s.Metadata(ctx, "meta.txt")
	if err != nil {
		t.Fatalf("Metadata() error: %v", err)
	}

	if meta.Path != "meta.txt" {
		t.Errorf("Path = %q, want meta.txt", meta.Path)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(content))
	}
	if len(meta.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64", len(meta.Checksum))
	}
	if meta.LastModified.IsZero() {
		t.Error("LastModified should not be zero")
	}
}

func TestMetadata_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Metadata(context.Background(), "not-here.txt")
	if err == nil {
		t.Error("Metadata() expected error for missing object, got nil")
	}
}

func TestMetadata_ChecksumMatchesPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "checksum consistency check"
	putResult, err := s.Put(ctx, "cksum.txt", strings.NewReader(content))
	if err != nil {
		t.Fatal("Put:", err)
	}

	meta, err := s.Metadata(ctx, "cksum.txt")
	if err != nil {
		t.Fatal("Metadata:", err)
	}

	if meta.Checksum != putResult.Checksum {
		t.Errorf("Metadata checksum %q != Put checksum %q", meta.Checksum, putResult.Checksum)
	}
}
