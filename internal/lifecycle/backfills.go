package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"batchexports/internal/backfill"
	"batchexports/internal/engine"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// StartBackfill re-runs an export over [rawStart, rawEnd). A nil rawStart
// begins at the earliest data the team has; a nil rawEnd leaves the backfill
// open-ended. Requesting the same range twice returns a conflict carrying
// the existing backfill id.
func (m *Manager) StartBackfill(ctx context.Context, teamID int64, exportID string, rawStart, rawEnd *string) (_ *types.Backfill, err error) {
	defer m.observe(ctx, OpStartBackfill, m.now(), &err)

	e, err := m.store.Repos().Exports.GetByID(ctx, teamID, exportID)
	if err != nil {
		return nil, err
	}
	rng, err := m.resolver.Resolve(ctx, e, rawStart, rawEnd, m.now().UTC())
	if err != nil {
		return nil, err
	}
	return m.launchBackfill(ctx, e, rng.Start, rng.End, rawStart == nil)
}

// launchBackfill starts the backfill workflow and records it. The workflow id
// is derived from the bounds, so the engine rejects a second start of the
// same range.
func (m *Manager) launchBackfill(ctx context.Context, e *types.Export, start, end *time.Time, fromEarliest bool) (*types.Backfill, error) {
	now := m.now().UTC()
	b := &types.Backfill{
		ID:            uuid.NewString(),
		WorkflowID:    schedule.BackfillWorkflowID(e.ID, start, end),
		ExportID:      e.ID,
		TeamID:        e.TeamID,
		StartAt:       start,
		EndAt:         end,
		Status:        types.BackfillStatusStarting,
		TotalRuns:     backfill.TotalRuns(e, start, end),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}

	args, err := m.encodeArgs(BackfillWorkflowInputs{
		TeamID:         e.TeamID,
		BatchExportID:  e.ID,
		BackfillID:     b.ID,
		StartAt:        start,
		EndAt:          end,
		BackfillModel:  string(e.Model),
		Interval:       string(e.Interval),
		IsEarliestData: fromEarliest,
	})
	if err != nil {
		return nil, err
	}

	_, err = m.engine.StartWorkflow(ctx, engine.StartWorkflowRequest{
		WorkflowID:   b.WorkflowID,
		WorkflowType: engine.WorkflowBackfill,
		TaskQueue:    m.taskQueue,
		Args:         args,
		SearchAttributes: map[string]any{
			engine.AttrScheduleID: e.ID,
			engine.AttrTeamID:     e.TeamID,
		},
	})
	if errors.Is(err, engine.ErrAlreadyExists) {
		return nil, m.backfillExists(ctx, e.TeamID, b.WorkflowID, err)
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.Repos().Backfills.Create(ctx, b); err != nil {
		m.logger.WarnContext(ctx, "backfill workflow started but could not be recorded, cancelling it",
			"batch_export_id", e.ID, "workflow_id", b.WorkflowID, "error", err)
		if cancelErr := m.engine.CancelWorkflow(context.WithoutCancel(ctx), b.WorkflowID); cancelErr != nil {
			m.logger.ErrorContext(ctx, "failed to cancel unrecorded backfill workflow",
				"workflow_id", b.WorkflowID, "error", cancelErr)
		}
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordBackfillStarted(ctx, b.TotalRuns)
	}
	m.publish(ctx, types.EventBackfillStarted, e, &b.ID, map[string]any{
		"start_at": b.StartAt,
		"end_at":   b.EndAt,
	})
	return b, nil
}

func (m *Manager) backfillExists(ctx context.Context, teamID int64, workflowID string, cause error) error {
	details := map[string]any{"backfill_id": workflowID}
	existing, err := m.store.Repos().Backfills.GetByWorkflowID(ctx, teamID, workflowID)
	if err == nil {
		details["id"] = existing.ID
	} else if !types.IsCode(err, types.ErrCodeNotFoundBackfill) {
		m.logger.WarnContext(ctx, "failed to look up existing backfill",
			"workflow_id", workflowID, "error", err)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictBackfillExists,
		"A backfill for this range is already running", cause, details)
}

// CancelBackfill stops a backfill. Cancelling a finished backfill returns it
// unchanged.
func (m *Manager) CancelBackfill(ctx context.Context, teamID int64, exportID, backfillID string) (_ *types.Backfill, err error) {
	defer m.observe(ctx, OpCancelBackfill, m.now(), &err)

	if backfillID, err = m.backfillRowID(ctx, teamID, exportID, backfillID); err != nil {
		return nil, err
	}
	var (
		out       *types.Backfill
		cancelled bool
	)
	err = m.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		b, err := tx.Backfills.GetForUpdate(ctx, teamID, exportID, backfillID)
		if err != nil {
			return err
		}
		out = b
		if b.Status.IsTerminal() {
			return nil
		}
		if err := m.engine.CancelWorkflow(ctx, b.WorkflowID); err != nil &&
			!types.IsCode(err, types.ErrCodeNotFoundSchedule) {
			return err
		}
		now := m.now().UTC()
		if _, err := tx.Backfills.Finish(ctx, b.ID, types.BackfillStatusCancelled, now); err != nil {
			return err
		}
		b.Status = types.BackfillStatusCancelled
		b.FinishedAt = &now
		b.LastUpdatedAt = now
		cancelled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		m.publish(ctx, types.EventBackfillCancelled, &types.Export{ID: exportID, TeamID: teamID}, &out.ID, nil)
	}
	return out, nil
}

// GetBackfill returns one backfill of an export. backfillID is either the
// row id or the derived backfill_id.
func (m *Manager) GetBackfill(ctx context.Context, teamID int64, exportID, backfillID string) (*types.Backfill, error) {
	if schedule.IsBackfillWorkflowID(exportID, backfillID) {
		return m.backfillByWorkflowID(ctx, teamID, exportID, backfillID)
	}
	return m.store.Repos().Backfills.GetByID(ctx, teamID, exportID, backfillID)
}

// backfillRowID maps a derived backfill_id to the row id. Row ids pass
// through.
func (m *Manager) backfillRowID(ctx context.Context, teamID int64, exportID, backfillID string) (string, error) {
	if !schedule.IsBackfillWorkflowID(exportID, backfillID) {
		return backfillID, nil
	}
	b, err := m.backfillByWorkflowID(ctx, teamID, exportID, backfillID)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (m *Manager) backfillByWorkflowID(ctx context.Context, teamID int64, exportID, workflowID string) (*types.Backfill, error) {
	b, err := m.store.Repos().Backfills.GetByWorkflowID(ctx, teamID, workflowID)
	if err != nil {
		return nil, err
	}
	if b.ExportID != exportID {
		return nil, types.NewAppError(types.ErrCodeNotFoundBackfill, "backfill not found", nil)
	}
	return b, nil
}

// ListBackfills returns a page of an export's backfills, newest first.
func (m *Manager) ListBackfills(ctx context.Context, teamID int64, exportID string, params types.ListParams) ([]*types.Backfill, types.PageInfo, error) {
	repos := m.store.Repos()
	if _, err := repos.Exports.GetByID(ctx, teamID, exportID); err != nil {
		return nil, types.PageInfo{}, err
	}
	return repos.Backfills.List(ctx, teamID, exportID, params)
}

// ListRuns returns a page of an export's runs. A non-empty backfillID limits
// the page to that backfill's runs.
func (m *Manager) ListRuns(ctx context.Context, teamID int64, exportID, backfillID string, params types.ListParams) ([]*types.Run, types.PageInfo, error) {
	repos := m.store.Repos()
	if _, err := repos.Exports.GetByID(ctx, teamID, exportID); err != nil {
		return nil, types.PageInfo{}, err
	}
	return repos.Runs.ListByExport(ctx, teamID, exportID, backfillID, params)
}
