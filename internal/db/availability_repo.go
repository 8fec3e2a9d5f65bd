package db

import (
	"context"
	"time"

	"batchexports/internal/types"
)

// AvailabilityRepository answers how far back a team's data goes.
type AvailabilityRepository struct {
	db DBTX
}

// NewAvailabilityRepository creates an AvailabilityRepository.
func NewAvailabilityRepository(db DBTX) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

var earliestQueries = map[types.Model]string{
	types.ModelEvents:  `SELECT MIN(timestamp) FROM events WHERE team_id = $1`,
	types.ModelPersons: `SELECT MIN(created_at) FROM persons WHERE team_id = $1`,
}

// EarliestTimestamp returns the oldest record of model for teamID, or nil
// when the team has none.
func (r *AvailabilityRepository) EarliestTimestamp(ctx context.Context, teamID int64, model types.Model) (*time.Time, error) {
	query, ok := earliestQueries[model]
	if !ok {
		return nil, types.NewValidationError("Unsupported model " + string(model))
	}
	var earliest *time.Time
	if err := r.db.QueryRow(ctx, query, teamID).Scan(&earliest); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query earliest timestamp", err)
	}
	if earliest != nil {
		t := earliest.UTC()
		earliest = &t
	}
	return earliest, nil
}
