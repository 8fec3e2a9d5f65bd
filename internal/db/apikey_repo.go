package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"batchexports/internal/types"
)

// APIKeyRepository looks up hashed API keys for request authentication.
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates an APIKeyRepository.
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, organization_id, key_hash, team_ids, created_at, last_used_at, revoked_at`

// GetByHash returns the active key whose SHA-256 hash matches. Revoked keys
// are reported as an invalid token, the same as unknown ones.
func (r *APIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*types.APIKey, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`, apiKeyColumns),
		keyHash,
	)
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve API key", err)
	}
	return key, nil
}

// TouchLastUsed records a successful authentication. Callers treat failure
// as non-fatal.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update API key last_used_at", err)
	}
	return nil
}

func scanAPIKey(row pgx.Row) (*types.APIKey, error) {
	var key types.APIKey
	err := row.Scan(
		&key.ID,
		&key.OrganizationID,
		&key.KeyHash,
		&key.TeamIDs,
		&key.CreatedAt,
		&key.LastUsedAt,
		&key.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
