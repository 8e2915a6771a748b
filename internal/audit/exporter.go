// exporter.go streams filtered audit events as CSV.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/chainlog/chainlog/internal/db/models"
	"github.com/chainlog/chainlog/internal/telemetry"
)

// ExportFilters narrow an export. All filters are optional and combine with
// AND semantics. Action and email match exactly, case-sensitively.
type ExportFilters struct {
	From       *time.Time
	To         *time.Time
	Action     *string
	ActorEmail *string
}

// ExportResult reports what was written. Truncation never corrupts the CSV —
// the stream always ends on a complete row — but the caller must surface it so
// a reviewer knows the file is a prefix, not the full match set.
type ExportResult struct {
	Rows      int  `json:"rows"`
	Truncated bool `json:"truncated"`
}

// ExportSource selects records for export, ordered by id descending (most
// recent first). Implementations must apply the limit verbatim; the Exporter
// over-fetches by one row to detect truncation.
type ExportSource interface {
	SelectForExport(ctx context.Context, tenantID string, filters ExportFilters, limit int) ([]*models.AuditEvent, error)
}

// exportHeader is the CSV header row. Column order is part of the export
// contract; consumers parse by position as well as by name.
var exportHeader = []string{
	"id", "tenant_id", "actor_user_id", "actor_email", "action",
	"entity_type", "entity_id", "ip_address", "details", "created_at",
	"prev_hash", "hash",
}

// Exporter writes filtered, ordered CSV streams. Rows are ordered by id
// descending. Quoting follows RFC 4180 via encoding/csv, so embedded commas,
// quotes, and newlines in details or any other field survive a round trip.
type Exporter struct {
	source ExportSource
}

// NewExporter creates an Exporter over source.
func NewExporter(source ExportSource) *Exporter {
	return &Exporter{source: source}
}

// Stream writes a header row followed by up to limit matching events to w.
func (e *Exporter) Stream(ctx context.Context, w io.Writer, tenantID string, filters ExportFilters, limit int) (*ExportResult, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
		return nil, fmt.Errorf("invalid date range: %s is before %s",
			filters.To.Format(time.RFC3339), filters.From.Format(time.RFC3339))
	}

	// Fetch one extra row: if it arrives, the export was truncated at limit.
	records, err := e.source.SelectForExport(ctx, tenantID, filters, limit+1)
	if err != nil {
		return nil, fmt.Errorf("select export rows: %w", err)
	}

	result := &ExportResult{}
	if len(records) > limit {
		records = records[:limit]
		result.Truncated = true
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := exportRow(rec)
		if err != nil {
			return nil, err
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row for id %d: %w", rec.ID, err)
		}
		result.Rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	telemetry.AuditExportRowsTotal.Add(float64(result.Rows))
	return result, nil
}

func exportRow(rec *models.AuditEvent) ([]string, error) {
	details := ""
	if rec.Details != nil {
		encoded, err := json.Marshal(rec.Details)
		if err != nil {
			return nil, fmt.Errorf("encode details for id %d: %w", rec.ID, err)
		}
		details = string(encoded)
	}
	return []string{
		strconv.FormatInt(rec.ID, 10),
		deref(rec.TenantID),
		deref(rec.ActorUserID),
		deref(rec.ActorEmail),
		rec.Action,
		deref(rec.EntityType),
		deref(rec.EntityID),
		deref(rec.IPAddress),
		details,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.PrevHash,
		rec.Hash,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
