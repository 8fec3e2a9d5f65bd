package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"batchexports/internal/types"
)

// RunRepository provides data access for the batch_export_runs table. Rows
// are keyed by the engine's execution id so repeated callbacks converge.
type RunRepository struct {
	db DBTX
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db DBTX) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `r.id, r.execution_id, r.export_id, r.team_id, r.backfill_id, r.status,
	r.data_interval_start, r.data_interval_end, r.records_completed, r.latest_error,
	r.created_at, r.finished_at, r.last_updated_at`

var activeRunStatuses = []string{string(types.RunStatusStarting), string(types.RunStatusRunning)}

func scanRun(row pgx.Row) (*types.Run, error) {
	var run types.Run
	err := row.Scan(
		&run.ID,
		&run.ExecutionID,
		&run.ExportID,
		&run.TeamID,
		&run.BackfillID,
		&run.Status,
		&run.DataIntervalStart,
		&run.DataIntervalEnd,
		&run.RecordsCompleted,
		&run.LatestError,
		&run.CreatedAt,
		&run.FinishedAt,
		&run.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Insert records a run unless one with the same execution id exists. It
// reports whether a row was written.
func (r *RunRepository) Insert(ctx context.Context, run *types.Run) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO batch_export_runs (id, execution_id, export_id, team_id, backfill_id,
		 status, data_interval_start, data_interval_end, created_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (execution_id) DO NOTHING`,
		run.ID,
		run.ExecutionID,
		run.ExportID,
		run.TeamID,
		run.BackfillID,
		run.Status,
		run.DataIntervalStart,
		run.DataIntervalEnd,
		run.CreatedAt,
		run.LastUpdatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record run", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LockByExecutionID returns the run for executionID with a row lock. It
// must run inside a transaction.
func (r *RunRepository) LockByExecutionID(ctx context.Context, executionID string) (*types.Run, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_export_runs r WHERE r.execution_id = $1 FOR UPDATE`, runColumns),
		executionID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRun, "run not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve run", err)
	}
	return run, nil
}

// Finish writes the terminal state of a run that is still active. It
// reports false when the run had already finished.
func (r *RunRepository) Finish(ctx context.Context, run *types.Run) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE batch_export_runs
		 SET status = $1, records_completed = $2, latest_error = $3,
		     finished_at = $4, last_updated_at = $5
		 WHERE id = $6 AND status = ANY($7)`,
		run.Status,
		run.RecordsCompleted,
		run.LatestError,
		run.FinishedAt,
		run.LastUpdatedAt,
		run.ID,
		activeRunStatuses,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to finish run", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByExport returns runs of one export, newest data interval first.
// backfillID narrows the result to one backfill when non-empty.
func (r *RunRepository) ListByExport(ctx context.Context, teamID int64, exportID, backfillID string, params types.ListParams) ([]*types.Run, types.PageInfo, error) {
	limit := params.NormalizedLimit()
	args := []any{exportID, teamID}
	where := "r.export_id = $1 AND r.team_id = $2"
	if backfillID != "" {
		args = append(args, backfillID)
		where += fmt.Sprintf(" AND r.backfill_id = $%d", len(args))
	}
	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeValidationInvalidInput,
				"invalid cursor format; expected RFC3339 timestamp", err)
		}
		args = append(args, cursorTime)
		where += fmt.Sprintf(" AND r.created_at < $%d", len(args))
	}
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM batch_export_runs r
		 WHERE %s
		 ORDER BY r.created_at DESC
		 LIMIT $%d`, runColumns, where, len(args)),
		args...,
	)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list runs", err)
	}
	defer rows.Close()

	var results []*types.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan run row", scanErr)
		}
		results = append(results, run)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating run rows", err)
	}

	var page types.PageInfo
	if len(results) > limit {
		page.HasMore = true
		page.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}
	return results, page, nil
}
