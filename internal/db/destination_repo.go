package db

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"batchexports/internal/types"
)

// FieldCipher encrypts the string values of a config map. *crypto.Codec
// implements it.
type FieldCipher interface {
	EncryptFields(m map[string]any) (map[string]any, error)
	DecryptFields(ctx context.Context, m map[string]any, logger *slog.Logger) map[string]any
}

// DestinationRepository persists destinations. The config column is JSONB in
// which every string value is field-encrypted.
type DestinationRepository struct {
	db     DBTX
	cipher FieldCipher
	logger *slog.Logger
}

// NewDestinationRepository creates a DestinationRepository.
func NewDestinationRepository(db DBTX, cipher FieldCipher, logger *slog.Logger) *DestinationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &DestinationRepository{db: db, cipher: cipher, logger: logger}
}

// Create inserts d. ID and timestamps must already be set.
func (r *DestinationRepository) Create(ctx context.Context, d *types.Destination) error {
	sealed, err := r.sealConfig(d.Config)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO destinations (id, team_id, type, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID,
		d.TeamID,
		d.Kind(),
		sealed,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create destination", err)
	}
	return nil
}

// GetByID returns a destination owned by teamID.
func (r *DestinationRepository) GetByID(ctx context.Context, teamID int64, id string) (*types.Destination, error) {
	var (
		d    types.Destination
		kind types.DestinationKind
		raw  []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, team_id, type, config, created_at, updated_at
		 FROM destinations WHERE id = $1 AND team_id = $2`,
		id,
		teamID,
	).Scan(&d.ID, &d.TeamID, &kind, &raw, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDestination, "destination not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve destination", err)
	}

	cfg, err := r.openConfig(ctx, kind, raw)
	if err != nil {
		return nil, err
	}
	d.Config = cfg
	return &d, nil
}

// Update replaces the type and config of an existing destination.
func (r *DestinationRepository) Update(ctx context.Context, d *types.Destination) error {
	sealed, err := r.sealConfig(d.Config)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE destinations SET type = $1, config = $2, updated_at = $3
		 WHERE id = $4 AND team_id = $5`,
		d.Kind(),
		sealed,
		d.UpdatedAt,
		d.ID,
		d.TeamID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update destination", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDestination, "destination not found", nil)
	}
	return nil
}

func (r *DestinationRepository) sealConfig(cfg types.DestinationConfig) ([]byte, error) {
	if cfg == nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidDestination, "destination config is required", nil)
	}
	plain, err := json.Marshal(cfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode destination config", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(plain, &fields); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode destination config", err)
	}
	sealed, err := r.cipher.EncryptFields(fields)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalEncryption, "failed to encrypt destination config", err)
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode destination config", err)
	}
	return out, nil
}

func (r *DestinationRepository) openConfig(ctx context.Context, kind types.DestinationKind, raw []byte) (types.DestinationConfig, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "stored destination config is not valid JSON", err)
	}
	plain, err := json.Marshal(r.cipher.DecryptFields(ctx, fields, r.logger))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode destination config", err)
	}
	cfg, err := types.DecodeDestinationConfig(kind, plain)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "stored destination config does not match its type", err)
	}
	return cfg, nil
}
