// archiver.go implements the retention service: it renders an audit artifact
// (compliance report snapshot or CSV export) and writes it to the configured
// backend with a SHA-256 checksum.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainlog/chainlog/internal/audit"
)

// Archiver renders and stores retention artifacts.
type Archiver struct {
	store    Store
	reporter *audit.Reporter
	exporter *audit.Exporter
	now      func() time.Time
}

// NewArchiver creates an Archiver over the given store.
func NewArchiver(store Store, reporter *audit.Reporter, exporter *audit.Exporter) *Archiver {
	return &Archiver{store: store, reporter: reporter, exporter: exporter, now: time.Now}
}

// ArchiveReport generates a compliance report for the tenant and stores it as
// a JSON snapshot under reports/<tenant>/<timestamp>.json.
func (a *Archiver) ArchiveReport(ctx context.Context, tenantID string, windowDays int) (*PutResult, error) {
	report, err := a.reporter.Generate(ctx, tenantID, windowDays)
	if err != nil {
		return nil, fmt.Errorf("generate report for archive: %w", err)
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}

	path := fmt.Sprintf("reports/%s/%s.json", tenantID, a.now().UTC().Format("20060102-150405"))
	result, err := a.store.Put(ctx, path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("store report archive: %w", err)
	}
	return result, nil
}

// ArchiveExport streams a CSV export for the tenant into the store under
// exports/<tenant>/<timestamp>.csv. truncated reports whether the export hit
// the row cap; the stored file still ends on a complete row.
func (a *Archiver) ArchiveExport(ctx context.Context, tenantID string, filters audit.ExportFilters, limit int) (*PutResult, bool, error) {
	var buf bytes.Buffer
	exportResult, err := a.exporter.Stream(ctx, &buf, tenantID, filters, limit)
	if err != nil {
		return nil, false, fmt.Errorf("render export for archive: %w", err)
	}

	path := fmt.Sprintf("exports/%s/%s.csv", tenantID, a.now().UTC().Format("20060102-150405"))
	result, err := a.store.Put(ctx, path, &buf)
	if err != nil {
		return nil, false, fmt.Errorf("store export archive: %w", err)
	}
	return result, exportResult.Truncated, nil
}
