// Package audit implements the tamper-evident audit trail: an append-only,
// hash-chained event log with verification, aggregation, compliance reporting,
// and CSV export.
//
// Every privileged action in the platform (logins, role changes, deletes,
// configuration changes) is recorded as one immutable event whose hash
// incorporates the hash of the preceding event. The chain is global across
// tenants: a per-tenant chain would let an attacker with storage access scoped
// to one tenant delete or reorder that tenant's entire history undetected,
// while a single global id sequence makes wholesale deletion or reordering
// visible to the verifier as an id gap or ordering violation.
//
// Component map:
//
//	Recorder   — assigns the next chain position, hashes, persists (the only writer)
//	Verifier   — recomputes hashes over a range and pinpoints the first break
//	Aggregator — per-tenant grouped counts over a trailing window
//	Reporter   — SOC-style findings report built on the same action conventions
//	Exporter   — filtered, ordered CSV stream
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/chainlog/chainlog/internal/db/models"
)

// Known action codes emitted by the platform's own call sites. The stored
// action column remains an open-vocabulary string so future callers can add
// codes without a schema or enum change; these constants exist so our own
// emitters and the report classifier agree on spelling.
const (
	ActionLogin          = "LOGIN"
	ActionLoginFailed    = "LOGIN_FAILED"
	ActionLogout         = "LOGOUT"
	ActionUserRoleUpdate = "USER_ROLE_UPDATE"
	ActionUserInvite     = "USER_INVITE"
	ActionUserDelete     = "USER_DELETE"
	ActionProductCreate  = "PRODUCT_CREATE"
	ActionProductUpdate  = "PRODUCT_UPDATE"
	ActionProductDelete  = "PRODUCT_DELETE"
	ActionCategoryDelete = "CATEGORY_DELETE"
	ActionConfigUpdate   = "CONFIG_UPDATE"
	ActionAPIKeyCreate   = "APIKEY_CREATE"
	ActionAPIKeyRevoke   = "APIKEY_REVOKE"
	ActionExportCreate   = "AUDIT_EXPORT"
	ActionArchiveCreate  = "AUDIT_ARCHIVE"
)

// Errors surfaced by the read components. Handlers map these to 400 responses;
// everything else is a 500.
var (
	ErrInvalidWindow = errors.New("window must be at least one day")
	ErrInvalidLimit  = errors.New("limit must be positive")
	ErrEmptyAction   = errors.New("action must not be empty")
)

// Event carries the caller-supplied fields of a record: everything except the
// chain position (id, created_at, prev_hash, hash), which only the Recorder
// may assign.
type Event struct {
	TenantID    *string
	ActorUserID *string
	ActorEmail  *string
	Action      string
	EntityType  *string
	EntityID    *string
	IPAddress   *string
	Details     map[string]interface{}
}

// Validate checks the minimal structural requirements of an event. Action
// vocabulary is deliberately open — any non-empty string is accepted.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Action) == "" {
		return ErrEmptyAction
	}
	return nil
}

// ChainStore is the narrow persistence surface the Recorder and Verifier need.
// AppendRecord must invoke build with the current chain tail while holding an
// exclusive append lock, persist the returned record atomically, and roll the
// whole operation back on failure — a half-written record would silently
// corrupt the next append's prev_hash.
//
// lastID is 0 and lastHash is "" for an empty chain.
type ChainStore interface {
	AppendRecord(ctx context.Context, build func(lastID int64, lastHash string) (*models.AuditEvent, error)) (*models.AuditEvent, error)
	// ScanAscending returns up to limit records with id >= startID in
	// ascending id order, as of a single read snapshot.
	ScanAscending(ctx context.Context, startID int64, limit int) ([]*models.AuditEvent, error)
}

// Checkpoint is the last-known-good position of incremental verification.
type Checkpoint struct {
	LastVerifiedID   int64
	LastVerifiedHash string
}

// CheckpointStore persists the verification checkpoint so large logs can be
// verified incrementally instead of end-to-end on every run.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context) (*Checkpoint, error) // nil when no checkpoint exists yet
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}
