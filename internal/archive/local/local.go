// Package local implements the local filesystem archive backend. Intended for
// development and single-node deployments; a multi-replica service needs the
// S3 backend (or a shared filesystem mounted at the base path).
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chainlog/chainlog/internal/archive"
	"github.com/chainlog/chainlog/internal/config"
	"github.com/chainlog/chainlog/pkg/checksum"
)

func init() {
	archive.Register("local", func(cfg *config.Config) (archive.Store, error) {
		return New(&cfg.Archive.Local)
	})
}

// LocalStore implements the Store interface on the local filesystem.
type LocalStore struct {
	basePath string
}

// New creates a local filesystem archive store.
func New(cfg *config.LocalArchiveConfig) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalStore{basePath: cfg.BasePath}, nil
}

// Put stores an object, computing its checksum while writing.
func (s *LocalStore) Put(ctx context.Context, path string, reader io.Reader) (*archive.PutResult, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	sum, written, err := checksum.CopySHA256(file, reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &archive.PutResult{
		Path:     path,
		Size:     written,
		Checksum: sum,
	}, nil
}

// Get retrieves an object.
func (s *LocalStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive object not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks whether an object exists.
func (s *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Metadata returns object metadata, reading the object once to compute its
// checksum.
func (s *LocalStore) Metadata(ctx context.Context, path string) (*archive.ObjectMetadata, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))

	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive object not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open object for checksum: %w", err)
	}
	defer file.Close()

	sum, err := checksum.CalculateSHA256(file)
	if err != nil {
		return nil, err
	}

	return &archive.ObjectMetadata{
		Path:         path,
		Size:         stat.Size(),
		Checksum:     sum,
		LastModified: stat.ModTime(),
	}, nil
}
