package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"batchexports/internal/types"
)

// ExportRepository provides data access for the batch_exports table. Deleted
// exports are kept as tombstones and hidden from every read.
type ExportRepository struct {
	db DBTX
}

// NewExportRepository creates an ExportRepository.
func NewExportRepository(db DBTX) *ExportRepository {
	return &ExportRepository{db: db}
}

const exportColumns = `e.id, e.team_id, e.name, e.model, e.destination_id,
	e.interval, e.timezone, e.offset_day, e.offset_hour,
	e.paused, e.last_paused_at, e.last_unpaused_at,
	e.start_at, e.end_at, e.deleted, e.created_at, e.last_updated_at`

// scanExport reads one row in exportColumns order. It accepts both pgx.Row
// and pgx.Rows.
func scanExport(row pgx.Row) (*types.Export, error) {
	var e types.Export
	err := row.Scan(
		&e.ID,
		&e.TeamID,
		&e.Name,
		&e.Model,
		&e.DestinationID,
		&e.Interval,
		&e.Timezone,
		&e.OffsetDay,
		&e.OffsetHour,
		&e.Paused,
		&e.LastPausedAt,
		&e.LastUnpausedAt,
		&e.StartAt,
		&e.EndAt,
		&e.Deleted,
		&e.CreatedAt,
		&e.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts a new export. The caller sets ID and timestamps.
func (r *ExportRepository) Create(ctx context.Context, e *types.Export) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO batch_exports (id, team_id, name, model, destination_id,
		 interval, timezone, offset_day, offset_hour, paused, last_paused_at,
		 start_at, end_at, created_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID,
		e.TeamID,
		e.Name,
		e.Model,
		e.DestinationID,
		e.Interval,
		e.Timezone,
		e.OffsetDay,
		e.OffsetHour,
		e.Paused,
		e.LastPausedAt,
		e.StartAt,
		e.EndAt,
		e.CreatedAt,
		e.LastUpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictScheduleExists, "an export with this id already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create export", err)
	}
	return nil
}

// GetByID returns a live export of teamID. Exports of other teams are
// reported as not found.
func (r *ExportRepository) GetByID(ctx context.Context, teamID int64, id string) (*types.Export, error) {
	return r.get(ctx, teamID, id, "")
}

// GetForUpdate is GetByID with a row lock held until the transaction ends.
// It must run inside a transaction.
func (r *ExportRepository) GetForUpdate(ctx context.Context, teamID int64, id string) (*types.Export, error) {
	return r.get(ctx, teamID, id, " FOR UPDATE")
}

func (r *ExportRepository) get(ctx context.Context, teamID int64, id, lock string) (*types.Export, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_exports e
		 WHERE e.id = $1 AND e.team_id = $2 AND e.deleted = FALSE%s`, exportColumns, lock),
		id,
		teamID,
	)
	e, err := scanExport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundExport, "batch export not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve export", err)
	}
	return e, nil
}

// List returns a team's live exports, newest first, using limit+1 to detect
// further pages.
func (r *ExportRepository) List(ctx context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error) {
	limit := params.NormalizedLimit()
	args := []any{teamID}
	cursorClause := ""
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeValidationInvalidInput,
				"invalid cursor format; expected RFC3339 timestamp", err)
		}
		args = append(args, cursorTime)
		cursorClause = fmt.Sprintf(" AND e.created_at < $%d", len(args))
	}
	args = append(args, limit+1)

	query := fmt.Sprintf(
		`SELECT %s FROM batch_exports e
		 WHERE e.team_id = $1 AND e.deleted = FALSE%s
		 ORDER BY e.created_at DESC
		 LIMIT $%d`,
		exportColumns, cursorClause, len(args),
	)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list exports", err)
	}
	defer rows.Close()

	var results []*types.Export
	for rows.Next() {
		e, scanErr := scanExport(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan export row", scanErr)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating export rows", err)
	}

	var page types.PageInfo
	if len(results) > limit {
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, page, nil
}

// ListLive walks every live export across teams in id order, afterID
// exclusive. The reconciler pages through it.
func (r *ExportRepository) ListLive(ctx context.Context, afterID string, limit int) ([]*types.Export, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_exports e
		 WHERE e.deleted = FALSE AND e.id > $1
		 ORDER BY e.id
		 LIMIT $2`, exportColumns),
		afterID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list exports", err)
	}
	defer rows.Close()

	var results []*types.Export
	for rows.Next() {
		e, scanErr := scanExport(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan export row", scanErr)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating export rows", err)
	}
	return results, nil
}

// Update writes every mutable column of e, including pause state.
func (r *ExportRepository) Update(ctx context.Context, e *types.Export) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE batch_exports SET
		   name = $1, model = $2, destination_id = $3, interval = $4,
		   timezone = $5, offset_day = $6, offset_hour = $7,
		   paused = $8, last_paused_at = $9, last_unpaused_at = $10,
		   start_at = $11, end_at = $12, last_updated_at = $13
		 WHERE id = $14 AND team_id = $15 AND deleted = FALSE`,
		e.Name,
		e.Model,
		e.DestinationID,
		e.Interval,
		e.Timezone,
		e.OffsetDay,
		e.OffsetHour,
		e.Paused,
		e.LastPausedAt,
		e.LastUnpausedAt,
		e.StartAt,
		e.EndAt,
		e.LastUpdatedAt,
		e.ID,
		e.TeamID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update export", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundExport, "batch export not found", nil)
	}
	return nil
}

// MarkDeleted tombstones an export. Deleting twice is not an error.
func (r *ExportRepository) MarkDeleted(ctx context.Context, teamID int64, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE batch_exports SET deleted = TRUE, last_updated_at = $1
		 WHERE id = $2 AND team_id = $3`,
		at,
		id,
		teamID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete export", err)
	}
	return nil
}
