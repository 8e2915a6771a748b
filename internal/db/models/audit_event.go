// Package models - audit_event.go defines the AuditEvent record, the atomic unit of the
// tamper-evident audit chain. Every privileged action in the platform is persisted as one
// immutable AuditEvent whose hash incorporates the hash of the preceding event.
package models

import "time"

// AuditEvent is one immutable row in the hash-chained audit log.
//
// ID is a gapless, strictly increasing global sequence assigned by the
// recorder under the chain lock; it is deliberately NOT a database sequence
// because sequences can leave gaps on rollback and a gap is indistinguishable
// from a deleted record during verification.
//
// Hash is SHA-256 over the canonical encoding of all other fields concatenated
// with PrevHash. PrevHash of the first record is the genesis constant.
type AuditEvent struct {
	ID          int64                  `json:"id" db:"id"`
	TenantID    *string                `json:"tenant_id" db:"tenant_id"`         // nil for platform-level events (e.g. failed logins before tenant selection)
	ActorUserID *string                `json:"actor_user_id" db:"actor_user_id"` // nil for anonymous / failed-auth events
	ActorEmail  *string                `json:"actor_email" db:"actor_email"`
	Action      string                 `json:"action" db:"action"` // open vocabulary, e.g. "LOGIN", "PRODUCT_DELETE"
	EntityType  *string                `json:"entity_type" db:"entity_type"`
	EntityID    *string                `json:"entity_id" db:"entity_id"`
	IPAddress   *string                `json:"ip_address" db:"ip_address"`
	Details     map[string]interface{} `json:"details" db:"-"` // JSONB: arbitrary structured payload, hashed in its normalized JSON form
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	PrevHash    string                 `json:"prev_hash" db:"prev_hash"`
	Hash        string                 `json:"hash" db:"hash"`
}
