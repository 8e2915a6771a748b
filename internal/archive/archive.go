// Package archive defines the Store interface and backend registry for
// long-term retention of audit artifacts (report snapshots, CSV exports).
//
// New backends are added by implementing the Store interface and registering
// with the registry via an init() function in the backend's own package:
//
//	func init() {
//	    archive.Register("mybackend", func(cfg *config.Config) (archive.Store, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init(),
// so adding a backend requires no changes to this package.
package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/chainlog/chainlog/internal/config"
)

// Store is the archival storage surface. Archives are write-once: there is no
// delete, because retention artifacts exist precisely to outlive the
// operational database.
type Store interface {
	// Put stores an object and returns its path, size, and SHA-256 checksum.
	Put(ctx context.Context, path string, reader io.Reader) (*PutResult, error)

	// Get retrieves a stored object.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether an object exists at the path.
	Exists(ctx context.Context, path string) (bool, error)

	// Metadata returns size, checksum, and modification time without
	// retrieving the object body.
	Metadata(ctx context.Context, path string) (*ObjectMetadata, error)
}

// PutResult describes a stored object.
type PutResult struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// ObjectMetadata describes a stored object without its body.
type ObjectMetadata struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	LastModified time.Time `json:"last_modified"`
}

// FactoryFunc constructs a Store from the application configuration.
type FactoryFunc func(*config.Config) (Store, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStore creates the configured archive backend.
func NewStore(cfg *config.Config) (Store, error) {
	factory, ok := factories[cfg.Archive.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %s (must be 'local' or 's3')", cfg.Archive.Backend)
	}
	return factory(cfg)
}
