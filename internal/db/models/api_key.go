// Package models - api_key.go defines the APIKey model used for non-interactive access
// to the read-only audit endpoints (CLI tooling, SIEM pollers).
package models

import "time"

// APIKey represents a long-lived bearer credential. Only the bcrypt hash of the
// full key is stored; the key itself is shown exactly once at creation time.
type APIKey struct {
	ID            string     `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	KeyHash       string     `json:"-" db:"key_hash"`
	DisplayPrefix string     `json:"display_prefix" db:"display_prefix"` // first characters of the key, for identification in listings
	TenantID      *string    `json:"tenant_id" db:"tenant_id"`           // nil = platform-wide (cross-tenant administrative) key
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at" db:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at" db:"last_used_at"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
