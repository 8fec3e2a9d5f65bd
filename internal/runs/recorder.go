// Package runs records export run and backfill progress reported by the
// workflow engine. Callbacks are delivered at least once and possibly out of
// order, so every write is idempotent and a status only ever moves forward.
package runs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"batchexports/internal/types"
)

// RunRepo persists runs.
type RunRepo interface {
	Insert(ctx context.Context, run *types.Run) (bool, error)
	LockByExecutionID(ctx context.Context, executionID string) (*types.Run, error)
	Finish(ctx context.Context, run *types.Run) (bool, error)
}

// BackfillRepo updates backfills from engine callbacks.
type BackfillRepo interface {
	LockByID(ctx context.Context, id string) (*types.Backfill, error)
	SetRunning(ctx context.Context, id string, at time.Time) error
	Finish(ctx context.Context, id string, status types.BackfillStatus, at time.Time) (bool, error)
}

// Repos bundles the repositories bound to one transaction.
type Repos struct {
	Runs      RunRepo
	Backfills BackfillRepo
}

// Store runs fn inside a transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

// Metrics records finished runs. *metrics.Recorder implements it.
type Metrics interface {
	RecordRunFinished(ctx context.Context, status types.RunStatus, records *int64)
}

// Recorder applies engine callbacks to runs and backfills.
type Recorder struct {
	store   Store
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecorder creates a Recorder. metrics may be nil.
func NewRecorder(store Store, metrics Metrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// RecordRunStarted records a run as Running. A repeated callback for the same
// execution returns the stored run unchanged. Runs of a cancelled backfill
// are refused.
func (r *Recorder) RecordRunStarted(ctx context.Context, ev types.RunStartedEvent) (*types.Run, error) {
	now := r.now().UTC()
	created := ev.StartedAt.UTC()
	if ev.StartedAt.IsZero() {
		created = now
	}
	run := &types.Run{
		ID:                uuid.NewString(),
		ExecutionID:       ev.ExecutionID,
		ExportID:          ev.ExportID,
		TeamID:            ev.TeamID,
		BackfillID:        ev.BackfillID,
		Status:            types.RunStatusRunning,
		DataIntervalStart: utc(ev.DataIntervalStart),
		DataIntervalEnd:   ev.DataIntervalEnd.UTC(),
		CreatedAt:         created,
		LastUpdatedAt:     now,
	}

	var out *types.Run
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		if ev.BackfillID != nil {
			if err := r.touchBackfill(ctx, tx, *ev.BackfillID, now); err != nil {
				return err
			}
		}
		inserted, err := tx.Runs.Insert(ctx, run)
		if err != nil {
			return err
		}
		if inserted {
			out = run
			return nil
		}
		out, err = tx.Runs.LockByExecutionID(ctx, ev.ExecutionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// touchBackfill refuses runs of a cancelled backfill and marks a Starting one
// Running. The backfill row may not exist yet: its workflow can report a run
// before the API has recorded it.
func (r *Recorder) touchBackfill(ctx context.Context, tx Repos, id string, now time.Time) error {
	b, err := tx.Backfills.LockByID(ctx, id)
	if types.IsCode(err, types.ErrCodeNotFoundBackfill) {
		r.logger.WarnContext(ctx, "run reported for unknown backfill", "backfill_id", id)
		return nil
	}
	if err != nil {
		return err
	}
	switch b.Status {
	case types.BackfillStatusCancelled:
		return types.NewAppError(types.ErrCodeConflictBackfillCancelled,
			fmt.Sprintf("Backfill %s was cancelled", id), nil)
	case types.BackfillStatusStarting:
		return tx.Backfills.SetRunning(ctx, id, now)
	}
	return nil
}

// RecordRunFinished moves a run to a terminal status. Callbacks for a run
// that already finished leave it unchanged.
func (r *Recorder) RecordRunFinished(ctx context.Context, ev types.RunFinishedEvent) (*types.Run, error) {
	if !ev.Status.Valid() || !ev.Status.IsTerminal() {
		return nil, types.NewValidationError(fmt.Sprintf("Status %s is not a terminal run status", ev.Status))
	}

	var (
		out      *types.Run
		finished bool
	)
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		run, err := tx.Runs.LockByExecutionID(ctx, ev.ExecutionID)
		if err != nil {
			return err
		}
		out = run
		if run.Status.IsTerminal() {
			return nil
		}

		now := r.now().UTC()
		at := ev.FinishedAt.UTC()
		if ev.FinishedAt.IsZero() {
			at = now
		}
		run.Status = ev.Status
		run.RecordsCompleted = ev.RecordsCompleted
		run.LatestError = ev.LatestError
		run.FinishedAt = &at
		run.LastUpdatedAt = now
		finished, err = tx.Runs.Finish(ctx, run)
		return err
	})
	if err != nil {
		return nil, err
	}
	if finished && r.metrics != nil {
		r.metrics.RecordRunFinished(ctx, out.Status, out.RecordsCompleted)
	}
	return out, nil
}

// RecordBackfillFinished closes a backfill. A backfill that already reached
// a terminal status, for example one cancelled through the API, keeps it.
func (r *Recorder) RecordBackfillFinished(ctx context.Context, ev types.BackfillFinishedEvent) (*types.Backfill, error) {
	if !ev.Status.Valid() || !ev.Status.IsTerminal() {
		return nil, types.NewValidationError(fmt.Sprintf("Status %s is not a terminal backfill status", ev.Status))
	}

	var out *types.Backfill
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		b, err := tx.Backfills.LockByID(ctx, ev.BackfillID)
		if err != nil {
			return err
		}
		out = b
		if b.Status.IsTerminal() {
			return nil
		}

		at := ev.FinishedAt.UTC()
		if ev.FinishedAt.IsZero() {
			at = r.now().UTC()
		}
		if _, err := tx.Backfills.Finish(ctx, b.ID, ev.Status, at); err != nil {
			return err
		}
		b.Status = ev.Status
		b.FinishedAt = &at
		b.LastUpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
