package lifecycle

import (
	"context"
	"errors"
	"time"

	"batchexports/internal/db"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// Pause stops an export's schedule. Pausing a paused export changes nothing.
func (m *Manager) Pause(ctx context.Context, teamID int64, id, note string) (_ *types.Export, err error) {
	defer m.observe(ctx, OpPause, m.now(), &err)

	e, _, changed, err := m.setPaused(ctx, teamID, id, note, true)
	if err != nil {
		return nil, err
	}
	if changed {
		m.publish(ctx, types.EventExportPaused, e, nil, noteDetails(note))
	}
	return e, nil
}

// Unpause resumes an export's schedule. With backfill set, the window the
// export spent paused is backfilled.
func (m *Manager) Unpause(ctx context.Context, teamID int64, id, note string, backfill bool) (_ *types.Export, _ *types.Backfill, err error) {
	defer m.observe(ctx, OpUnpause, m.now(), &err)

	e, pausedAt, changed, err := m.setPaused(ctx, teamID, id, note, false)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return e, nil, nil
	}
	m.publish(ctx, types.EventExportUnpaused, e, nil, noteDetails(note))

	if !backfill || pausedAt == nil {
		return e, nil, nil
	}
	start := pausedAt.UTC()
	end := m.now().UTC()
	if !start.Before(end) {
		return e, nil, nil
	}
	b, err := m.launchBackfill(ctx, e, &start, &end, false)
	if err != nil {
		return nil, nil, err
	}
	return e, b, nil
}

// setPaused flips the paused flag under a row lock and mirrors it on the
// engine. It returns the LastPausedAt the export had before the change.
func (m *Manager) setPaused(ctx context.Context, teamID int64, id, note string, paused bool) (*types.Export, *time.Time, bool, error) {
	var (
		out      *types.Export
		pausedAt *time.Time
		changed  bool
	)
	err := m.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		e, err := tx.Exports.GetForUpdate(ctx, teamID, id)
		if err != nil {
			return err
		}
		out = e
		if e.Paused == paused {
			return nil
		}
		pausedAt = e.LastPausedAt

		now := m.now().UTC()
		e.Paused = paused
		e.LastUpdatedAt = now
		if paused {
			e.LastPausedAt = &now
		} else {
			e.LastUnpausedAt = &now
		}
		if err := tx.Exports.Update(ctx, e); err != nil {
			return err
		}

		sid := schedule.ScheduleID(e.ID)
		if paused {
			err = m.engine.PauseSchedule(ctx, sid, note)
		} else {
			err = m.engine.UnpauseSchedule(ctx, sid, note)
		}
		if err != nil {
			return noScheduleOr(err, e.ID)
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrCommitFailed) {
			m.logger.WarnContext(ctx, "schedule pause state changed but export commit failed",
				"batch_export_id", id, "paused", paused, "error", err)
		}
		return nil, nil, false, err
	}
	return out, pausedAt, changed, nil
}

func noteDetails(note string) map[string]any {
	if note == "" {
		return nil
	}
	return map[string]any{"note": note}
}
