package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"batchexports/internal/types"
)

// BackfillRepository provides data access for the batch_export_backfills table.
type BackfillRepository struct {
	db DBTX
}

// NewBackfillRepository creates a BackfillRepository.
func NewBackfillRepository(db DBTX) *BackfillRepository {
	return &BackfillRepository{db: db}
}

const backfillColumns = `b.id, b.workflow_id, b.export_id, b.team_id, b.start_at, b.end_at,
	b.status, b.total_runs, b.created_at, b.finished_at, b.last_updated_at`

// activeBackfillStatuses are the non-terminal states.
var activeBackfillStatuses = []string{string(types.BackfillStatusStarting), string(types.BackfillStatusRunning)}

func scanBackfill(row pgx.Row) (*types.Backfill, error) {
	var b types.Backfill
	err := row.Scan(
		&b.ID,
		&b.WorkflowID,
		&b.ExportID,
		&b.TeamID,
		&b.StartAt,
		&b.EndAt,
		&b.Status,
		&b.TotalRuns,
		&b.CreatedAt,
		&b.FinishedAt,
		&b.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBackfills(rows pgx.Rows) ([]*types.Backfill, error) {
	defer rows.Close()
	var out []*types.Backfill
	for rows.Next() {
		b, err := scanBackfill(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan backfill row", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating backfill rows", err)
	}
	return out, nil
}

// Create inserts b. A second backfill with the same workflow id for the same
// export is a conflict.
func (r *BackfillRepository) Create(ctx context.Context, b *types.Backfill) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO batch_export_backfills (id, workflow_id, export_id, team_id,
		 start_at, end_at, status, total_runs, created_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID,
		b.WorkflowID,
		b.ExportID,
		b.TeamID,
		b.StartAt,
		b.EndAt,
		b.Status,
		b.TotalRuns,
		b.CreatedAt,
		b.LastUpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictBackfillExists, "a backfill for this range is already recorded", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create backfill", err)
	}
	return nil
}

// GetByID returns a backfill of exportID owned by teamID.
func (r *BackfillRepository) GetByID(ctx context.Context, teamID int64, exportID, id string) (*types.Backfill, error) {
	return r.get(ctx, `b.id = $1 AND b.export_id = $2 AND b.team_id = $3`, "", id, exportID, teamID)
}

// GetForUpdate is GetByID with a row lock. It must run inside a transaction.
func (r *BackfillRepository) GetForUpdate(ctx context.Context, teamID int64, exportID, id string) (*types.Backfill, error) {
	return r.get(ctx, `b.id = $1 AND b.export_id = $2 AND b.team_id = $3`, " FOR UPDATE", id, exportID, teamID)
}

// GetByWorkflowID finds the backfill recorded for a workflow id.
func (r *BackfillRepository) GetByWorkflowID(ctx context.Context, teamID int64, workflowID string) (*types.Backfill, error) {
	return r.get(ctx, `b.workflow_id = $1 AND b.team_id = $2`, "", workflowID, teamID)
}

// LockByID locks a backfill by id alone. Engine callbacks carry only the id.
func (r *BackfillRepository) LockByID(ctx context.Context, id string) (*types.Backfill, error) {
	return r.get(ctx, `b.id = $1`, " FOR UPDATE", id)
}

func (r *BackfillRepository) get(ctx context.Context, where, lock string, args ...any) (*types.Backfill, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_export_backfills b WHERE %s%s`, backfillColumns, where, lock),
		args...,
	)
	b, err := scanBackfill(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundBackfill, "backfill not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve backfill", err)
	}
	return b, nil
}

// List returns the backfills of one export, newest first.
func (r *BackfillRepository) List(ctx context.Context, teamID int64, exportID string, params types.ListParams) ([]*types.Backfill, types.PageInfo, error) {
	limit := params.NormalizedLimit()
	args := []any{exportID, teamID}
	cursorClause := ""
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeValidationInvalidInput,
				"invalid cursor format; expected RFC3339 timestamp", err)
		}
		args = append(args, cursorTime)
		cursorClause = fmt.Sprintf(" AND b.created_at < $%d", len(args))
	}
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_export_backfills b
		 WHERE b.export_id = $1 AND b.team_id = $2%s
		 ORDER BY b.created_at DESC
		 LIMIT $%d`, backfillColumns, cursorClause, len(args)),
		args...,
	)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list backfills", err)
	}
	results, err := collectBackfills(rows)
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	var page types.PageInfo
	if len(results) > limit {
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, page, nil
}

// ListActive returns the export's backfills that have not reached a
// terminal status.
func (r *BackfillRepository) ListActive(ctx context.Context, exportID string) ([]*types.Backfill, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_export_backfills b
		 WHERE b.export_id = $1 AND b.status = ANY($2)
		 ORDER BY b.created_at`, backfillColumns),
		exportID,
		activeBackfillStatuses,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active backfills", err)
	}
	return collectBackfills(rows)
}

// SetRunning moves a Starting backfill to Running. Other states are left
// untouched.
func (r *BackfillRepository) SetRunning(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE batch_export_backfills SET status = $1, last_updated_at = $2
		 WHERE id = $3 AND status = $4`,
		types.BackfillStatusRunning,
		at,
		id,
		types.BackfillStatusStarting,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update backfill status", err)
	}
	return nil
}

// Finish moves a non-terminal backfill to a terminal status. It reports
// false when the backfill had already finished.
func (r *BackfillRepository) Finish(ctx context.Context, id string, status types.BackfillStatus, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE batch_export_backfills
		 SET status = $1, finished_at = $2, last_updated_at = $2
		 WHERE id = $3 AND status = ANY($4)`,
		status,
		at,
		id,
		activeBackfillStatuses,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to finish backfill", err)
	}
	return tag.RowsAffected() > 0, nil
}
