package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"batchexports/internal/types"
)

// TeamRepository reads the teams table. Teams are managed elsewhere; this
// service only needs their organization and name.
type TeamRepository struct {
	db DBTX
}

// NewTeamRepository creates a TeamRepository.
func NewTeamRepository(db DBTX) *TeamRepository {
	return &TeamRepository{db: db}
}

// GetByID returns the team or ErrCodeNotFoundTeam.
func (r *TeamRepository) GetByID(ctx context.Context, id int64) (*types.Team, error) {
	var t types.Team
	err := r.db.QueryRow(ctx,
		`SELECT id, organization_id, name, timezone FROM teams WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTeam, "team not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve team", err)
	}
	return &t, nil
}
