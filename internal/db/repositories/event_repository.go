// event_repository.go implements the append-only persistence of audit events and the
// chain-scan, list, and export queries over them. This is the only code in the service
// that writes to audit_events, and the only write it knows is INSERT.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chainlog/chainlog/internal/audit"
	"github.com/chainlog/chainlog/internal/db/models"
)

// chainLockID is the advisory-lock key serializing appends. Any single
// arbitrary constant works; it only has to be the same for every writer of
// this database.
const chainLockID int64 = 874232901

const eventColumns = `id, tenant_id, actor_user_id, actor_email, action, entity_type, entity_id, ip_address, details, created_at, prev_hash, hash`

// EventRepository persists and reads audit events. It implements
// audit.ChainStore, audit.CheckpointStore, and audit.ExportSource.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates an EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// AppendRecord runs build with the current chain tail while holding the chain
// advisory lock inside a transaction, then inserts the returned record and
// commits. The transaction-scoped lock (pg_advisory_xact_lock) releases
// automatically on commit or rollback, so a crashed append can never leave the
// chain locked, and a failed insert rolls the whole append back — no partial
// row, no advanced tail.
func (r *EventRepository) AppendRecord(ctx context.Context, build func(lastID int64, lastHash string) (*models.AuditEvent, error)) (*models.AuditEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockID); err != nil {
		return nil, fmt.Errorf("acquire chain lock: %w", err)
	}

	// The tail is re-derived from the last row on every append rather than
	// cached in memory: after a restart or failover the last committed row is
	// the only trustworthy tail.
	var lastID int64
	var lastHash string
	err = tx.QueryRowContext(ctx, `SELECT id, hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&lastID, &lastHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	rec, err := build(lastID, lastHash)
	if err != nil {
		return nil, err
	}

	var detailsJSON []byte
	if rec.Details != nil {
		if detailsJSON, err = json.Marshal(rec.Details); err != nil {
			return nil, fmt.Errorf("encode details: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.TenantID, rec.ActorUserID, rec.ActorEmail, rec.Action,
		rec.EntityType, rec.EntityID, rec.IPAddress, detailsJSON,
		rec.CreatedAt, rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit audit event: %w", err)
	}
	return rec, nil
}

// ScanAscending returns up to limit records with id >= startID in ascending id
// order. Used by the verifier; the ORDER BY makes each page a consistent
// prefix of the chain as of the query's snapshot.
func (r *EventRepository) ScanAscending(ctx context.Context, startID int64, limit int) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		WHERE id >= $1
		ORDER BY id ASC
		LIMIT $2
	`, startID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventFilters narrow the paginated listing. Nil fields are ignored; set
// fields combine with AND.
type EventFilters struct {
	TenantID   *string
	Action     *string
	ActorEmail *string
	StartDate  *time.Time
	EndDate    *time.Time
}

// ListEvents returns one page of matching events ordered by id descending,
// plus the total match count for pagination.
func (r *EventRepository) ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.AuditEvent, int, error) {
	where, args := buildEventFilters(filters)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_events` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM audit_events%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// GetEvent returns a single event by id, or nil if it does not exist.
func (r *EventRepository) GetEvent(ctx context.Context, id int64) (*models.AuditEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE id = $1`, id)
	rec, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SelectForExport returns up to limit events for one tenant matching the
// export filters, ordered by id descending. The exporter passes limit+1 to
// detect truncation.
func (r *EventRepository) SelectForExport(ctx context.Context, tenantID string, f audit.ExportFilters, limit int) ([]*models.AuditEvent, error) {
	filters := EventFilters{
		TenantID:   &tenantID,
		Action:     f.Action,
		ActorEmail: f.ActorEmail,
		StartDate:  f.From,
		EndDate:    f.To,
	}
	where, args := buildEventFilters(filters)

	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM audit_events%s ORDER BY id DESC LIMIT $%d`, where, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LoadCheckpoint returns the verification checkpoint, or nil if none exists.
func (r *EventRepository) LoadCheckpoint(ctx context.Context) (*audit.Checkpoint, error) {
	var cp audit.Checkpoint
	err := r.db.QueryRowContext(ctx,
		`SELECT last_verified_id, last_verified_hash FROM audit_verify_checkpoints WHERE id = 1`,
	).Scan(&cp.LastVerifiedID, &cp.LastVerifiedHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.LastVerifiedHash = strings.TrimSpace(cp.LastVerifiedHash)
	return &cp, nil
}

// SaveCheckpoint upserts the singleton checkpoint row.
func (r *EventRepository) SaveCheckpoint(ctx context.Context, cp audit.Checkpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_verify_checkpoints (id, last_verified_id, last_verified_hash, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET last_verified_id = EXCLUDED.last_verified_id,
		    last_verified_hash = EXCLUDED.last_verified_hash,
		    updated_at = now()
	`, cp.LastVerifiedID, cp.LastVerifiedHash)
	return err
}

// buildEventFilters renders the WHERE clause and argument list shared by the
// list and export queries.
func buildEventFilters(f EventFilters) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.TenantID != nil {
		add(`tenant_id = $%d`, *f.TenantID)
	}
	if f.Action != nil {
		add(`action = $%d`, *f.Action)
	}
	if f.ActorEmail != nil {
		add(`actor_email = $%d`, *f.ActorEmail)
	}
	if f.StartDate != nil {
		add(`created_at >= $%d`, *f.StartDate)
	}
	if f.EndDate != nil {
		add(`created_at <= $%d`, *f.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.AuditEvent, error) {
	rec := &models.AuditEvent{}
	var detailsJSON []byte
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.ActorUserID, &rec.ActorEmail, &rec.Action,
		&rec.EntityType, &rec.EntityID, &rec.IPAddress, &detailsJSON,
		&rec.CreatedAt, &rec.PrevHash, &rec.Hash,
	)
	if err != nil {
		return nil, err
	}
	if detailsJSON != nil {
		// audit.DecodeDetails, not a plain Unmarshal: hash recomputation needs
		// the exact representation that was hashed at append time.
		if rec.Details, err = audit.DecodeDetails(detailsJSON); err != nil {
			return nil, fmt.Errorf("decode details for id %d: %w", rec.ID, err)
		}
	}
	// CHAR(64) columns come back space-padded on some drivers.
	rec.PrevHash = strings.TrimSpace(rec.PrevHash)
	rec.Hash = strings.TrimSpace(rec.Hash)
	return rec, nil
}

func scanEvents(rows *sql.Rows) ([]*models.AuditEvent, error) {
	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}
