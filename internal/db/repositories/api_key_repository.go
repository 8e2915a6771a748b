// api_key_repository.go provides storage for bcrypt-hashed API keys used by
// non-interactive clients of the read-only audit endpoints.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/chainlog/chainlog/internal/db/models"
)

const apiKeyColumns = `id, name, key_hash, display_prefix, tenant_id, created_at, expires_at, last_used_at`

// APIKeyRepository handles api_keys table operations.
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates an APIKeyRepository.
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey inserts a new key record, assigning its id and creation time.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	key.ID = uuid.New().String()
	key.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key.ID, key.Name, key.KeyHash, key.DisplayPrefix, key.TenantID,
		key.CreatedAt, key.ExpiresAt, key.LastUsedAt)
	return err
}

// FindByDisplayPrefix returns candidate keys sharing a display prefix. The
// caller bcrypt-compares the presented key against each candidate; the prefix
// only narrows the search so validation is not O(all keys).
func (r *APIKeyRepository) FindByDisplayPrefix(ctx context.Context, displayPrefix string) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE display_prefix = $1`, displayPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key := &models.APIKey{}
		err := rows.Scan(&key.ID, &key.Name, &key.KeyHash, &key.DisplayPrefix,
			&key.TenantID, &key.CreatedAt, &key.ExpiresAt, &key.LastUsedAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListAPIKeys returns keys for one tenant, or all keys when tenantID is nil,
// newest first.
func (r *APIKeyRepository) ListAPIKeys(ctx context.Context, tenantID *string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	args := []interface{}{}
	if tenantID != nil {
		query += ` WHERE tenant_id = $1`
		args = append(args, *tenantID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key := &models.APIKey{}
		err := rows.Scan(&key.ID, &key.Name, &key.KeyHash, &key.DisplayPrefix,
			&key.TenantID, &key.CreatedAt, &key.ExpiresAt, &key.LastUsedAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TouchLastUsed records key usage. Best-effort: an error here must not fail
// the authenticated request, so callers log rather than propagate it.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// DeleteAPIKey revokes a key by id. Returns true if a key was deleted.
func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
