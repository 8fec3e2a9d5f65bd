// Package reconcile finds exports whose remote schedule disagrees with the
// database. The database is the source of truth: a paused export must have a
// paused schedule and every live export must have a schedule at all.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"batchexports/internal/engine"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

const (
	DefaultBatchSize   = 200
	DefaultConcurrency = 8
	repairNote         = "state restored by reconciler"
)

// Kind classifies a drift.
type Kind string

const (
	KindMissingSchedule  Kind = "missing_schedule"
	KindPausedMismatch   Kind = "paused_mismatch"
	KindTimezoneMismatch Kind = "timezone_mismatch"
)

// ExportLister pages through live exports across every team.
type ExportLister interface {
	ListLive(ctx context.Context, afterID string, limit int) ([]*types.Export, error)
}

// Engine is the subset of the workflow engine the reconciler uses.
type Engine interface {
	DescribeSchedule(ctx context.Context, id string) (*engine.Description, error)
	PauseSchedule(ctx context.Context, id, note string) error
	UnpauseSchedule(ctx context.Context, id, note string) error
}

// Metrics receives the drift count of each pass.
type Metrics interface {
	RecordDrift(ctx context.Context, drifted int)
}

// Drift is one disagreement between an export and its schedule.
type Drift struct {
	ExportID string `json:"batch_export_id"`
	TeamID   int64  `json:"team_id"`
	Kind     Kind   `json:"kind"`
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	Repaired bool   `json:"repaired"`
}

// Report summarizes a pass.
type Report struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
	Errors  int     `json:"errors"`
}

// Options tune a Reconciler. Zero values select the defaults.
type Options struct {
	BatchSize   int
	Concurrency int
	// Repair pushes the local paused state to drifted schedules. Missing
	// schedules and timezone drift are only reported.
	Repair bool
}

// Reconciler compares exports with their schedules.
type Reconciler struct {
	exports ExportLister
	engine  Engine
	metrics Metrics
	logger  *slog.Logger
	opts    Options
}

// NewReconciler creates a Reconciler. metrics may be nil.
func NewReconciler(exports ExportLister, eng Engine, metrics Metrics, logger *slog.Logger, opts Options) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Reconciler{exports: exports, engine: eng, metrics: metrics, logger: logger, opts: opts}
}

// Run checks every live export once. Engine errors on individual schedules
// are counted and logged; only a failure to list exports aborts the pass.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	report := &Report{Drifts: []Drift{}}
	var mu sync.Mutex

	after := ""
	for {
		page, err := r.exports.ListLive(ctx, after, r.opts.BatchSize)
		if err != nil {
			return report, fmt.Errorf("listing live exports after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Concurrency)
		for _, e := range page {
			g.Go(func() error {
				drifts, err := r.check(gctx, e)
				mu.Lock()
				defer mu.Unlock()
				report.Checked++
				if err != nil {
					report.Errors++
					r.logger.WarnContext(ctx, "failed to check schedule",
						"batch_export_id", e.ID, "error", err)
					return nil
				}
				report.Drifts = append(report.Drifts, drifts...)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return report, err
		}
		after = page[len(page)-1].ID
		if len(page) < r.opts.BatchSize {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.RecordDrift(ctx, len(report.Drifts))
	}
	r.logger.InfoContext(ctx, "reconciliation finished",
		"checked", report.Checked, "drifted", len(report.Drifts), "errors", report.Errors)
	return report, nil
}

func (r *Reconciler) check(ctx context.Context, e *types.Export) ([]Drift, error) {
	id := schedule.ScheduleID(e.ID)
	desc, err := r.engine.DescribeSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			r.logger.ErrorContext(ctx, "export has no schedule", "batch_export_id", e.ID, "team_id", e.TeamID)
			return []Drift{{ExportID: e.ID, TeamID: e.TeamID, Kind: KindMissingSchedule, Local: "present", Remote: "absent"}}, nil
		}
		return nil, err
	}

	var drifts []Drift
	if desc.State.Paused != e.Paused {
		d := Drift{
			ExportID: e.ID,
			TeamID:   e.TeamID,
			Kind:     KindPausedMismatch,
			Local:    pausedLabel(e.Paused),
			Remote:   pausedLabel(desc.State.Paused),
		}
		if r.opts.Repair {
			d.Repaired = r.repairPaused(ctx, id, e)
		}
		drifts = append(drifts, d)
	}
	if remote := desc.Spec.Timezone; remote != "" && remote != e.TimezoneOrUTC() {
		drifts = append(drifts, Drift{
			ExportID: e.ID,
			TeamID:   e.TeamID,
			Kind:     KindTimezoneMismatch,
			Local:    e.TimezoneOrUTC(),
			Remote:   remote,
		})
	}
	for _, d := range drifts {
		r.logger.WarnContext(ctx, "schedule drift",
			"batch_export_id", d.ExportID, "kind", d.Kind, "local", d.Local, "remote", d.Remote, "repaired", d.Repaired)
	}
	return drifts, nil
}

func (r *Reconciler) repairPaused(ctx context.Context, id string, e *types.Export) bool {
	var err error
	if e.Paused {
		err = r.engine.PauseSchedule(ctx, id, repairNote)
	} else {
		err = r.engine.UnpauseSchedule(ctx, id, repairNote)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to repair schedule state", "batch_export_id", e.ID, "error", err)
		return false
	}
	return true
}

func pausedLabel(paused bool) string {
	if paused {
		return "paused"
	}
	return "running"
}
