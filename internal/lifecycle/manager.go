// Package lifecycle owns the lifecycle of export schedules and backfill
// workflows: it keeps the local export rows and the workflow engine in step.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"batchexports/internal/backfill"
	"batchexports/internal/db"
	"batchexports/internal/engine"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// Operation names used for metrics and logs.
const (
	OpCreate         = "create"
	OpUpdate         = "update"
	OpPause          = "pause"
	OpUnpause        = "unpause"
	OpDelete         = "delete"
	OpTrigger        = "trigger"
	OpStartBackfill  = "start_backfill"
	OpCancelBackfill = "cancel_backfill"
)

// listFanOut bounds concurrent destination lookups when listing exports.
const listFanOut = 8

// BackfillResolver validates raw backfill bounds. *backfill.Resolver
// implements it.
type BackfillResolver interface {
	Resolve(ctx context.Context, e *types.Export, rawStart, rawEnd *string, now time.Time) (backfill.Range, error)
}

// Deps are the collaborators of a Manager. Events and Metrics are optional.
type Deps struct {
	Store     Store
	Engine    Engine
	Resolver  BackfillResolver
	Payloads  PayloadEncoder
	Events    EventPublisher
	Metrics   Metrics
	Logger    *slog.Logger
	TaskQueue string
	Clock     func() time.Time
}

// Manager coordinates export rows with engine schedules.
type Manager struct {
	store     Store
	engine    Engine
	resolver  BackfillResolver
	payloads  PayloadEncoder
	events    EventPublisher
	metrics   Metrics
	logger    *slog.Logger
	taskQueue string
	now       func() time.Time
}

// NewManager creates a Manager.
func NewManager(d Deps) *Manager {
	m := &Manager{
		store:     d.Store,
		engine:    d.Engine,
		resolver:  d.Resolver,
		payloads:  d.Payloads,
		events:    d.Events,
		metrics:   d.Metrics,
		logger:    d.Logger,
		taskQueue: d.TaskQueue,
		now:       d.Clock,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// CreateExportInput describes a new export.
type CreateExportInput struct {
	TeamID      int64
	Name        string
	Model       types.Model
	Destination types.DestinationConfig
	Interval    types.Interval
	Timezone    *string
	OffsetDay   *int
	OffsetHour  *int
	Paused      bool
	StartAt     *time.Time
	EndAt       *time.Time
}

// UpdateExportInput is a partial update. Unset fields are left alone and
// Null clears nullable fields. A Destination of the same type as the current
// one keeps any secret the patch omits; a different type replaces it.
type UpdateExportInput struct {
	Name        types.Optional[string]
	Model       types.Optional[types.Model]
	Destination types.DestinationConfig
	Interval    types.Optional[types.Interval]
	Timezone    types.Optional[string]
	OffsetDay   types.Optional[int]
	OffsetHour  types.Optional[int]
	StartAt     types.Optional[time.Time]
	EndAt       types.Optional[time.Time]
}

// Create validates in, registers the schedule and stores the export. The
// schedule RPC runs inside the database transaction: a failed RPC rolls the
// rows back, and a failed commit deletes the schedule again.
func (m *Manager) Create(ctx context.Context, in CreateExportInput) (_ *types.Export, err error) {
	defer m.observe(ctx, OpCreate, m.now(), &err)

	now := m.now().UTC()
	e := &types.Export{
		ID:            uuid.NewString(),
		TeamID:        in.TeamID,
		Name:          in.Name,
		Model:         in.Model,
		Interval:      in.Interval,
		Timezone:      in.Timezone,
		OffsetDay:     in.OffsetDay,
		OffsetHour:    in.OffsetHour,
		Paused:        in.Paused,
		StartAt:       in.StartAt,
		EndAt:         in.EndAt,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if e.Model == "" {
		e.Model = types.ModelEvents
	}
	if in.Paused {
		e.LastPausedAt = &now
	}
	if err := validateExport(e); err != nil {
		return nil, err
	}
	if in.Destination == nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "destination is required", nil)
	}
	if err := in.Destination.Validate(); err != nil {
		return nil, err
	}
	dest := &types.Destination{
		ID:        uuid.NewString(),
		TeamID:    in.TeamID,
		Config:    in.Destination,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.DestinationID = dest.ID
	e.Destination = dest

	spec, err := schedule.Build(schedule.InputFromExport(e))
	if err != nil {
		return nil, err
	}
	team, err := m.store.Repos().Teams.GetByID(ctx, in.TeamID)
	if err != nil {
		return nil, err
	}
	action, err := m.exportAction(e, dest, team)
	if err != nil {
		return nil, err
	}

	scheduled := false
	err = m.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		if err := tx.Destinations.Create(ctx, dest); err != nil {
			return err
		}
		if err := tx.Exports.Create(ctx, e); err != nil {
			return err
		}
		rpcErr := m.engine.CreateSchedule(ctx, schedule.ScheduleID(e.ID), spec, action, engine.State{Paused: e.Paused})
		if rpcErr == nil {
			scheduled = true
			return nil
		}
		if errors.Is(rpcErr, engine.ErrTimeout) {
			exists, existsErr := m.engine.ScheduleExists(ctx, schedule.ScheduleID(e.ID))
			if existsErr == nil && exists {
				scheduled = true
				return nil
			}
			m.logger.WarnContext(ctx, "schedule create outcome unknown, rolling back",
				"batch_export_id", e.ID, "error", rpcErr, "exists_error", existsErr)
		}
		return rpcErr
	})
	if err != nil {
		if scheduled {
			m.compensateCreate(ctx, e.ID, err)
		}
		return nil, err
	}

	m.publish(ctx, types.EventExportCreated, e, nil, nil)
	return e, nil
}

func (m *Manager) compensateCreate(ctx context.Context, id string, cause error) {
	m.logger.WarnContext(ctx, "export commit failed after schedule was created, deleting schedule",
		"batch_export_id", id, "error", cause)
	if err := m.engine.DeleteSchedule(context.WithoutCancel(ctx), schedule.ScheduleID(id)); err != nil &&
		!types.IsCode(err, types.ErrCodeNotFoundSchedule) {
		m.logger.ErrorContext(ctx, "failed to delete orphaned schedule",
			"batch_export_id", id, "error", err)
	}
}

// Update applies in to an export and pushes the rebuilt schedule to the
// engine. When the patch leaves the timezone unset, the timezone the engine
// already holds is kept.
func (m *Manager) Update(ctx context.Context, teamID int64, id string, in UpdateExportInput) (_ *types.Export, err error) {
	defer m.observe(ctx, OpUpdate, m.now(), &err)

	var updated *types.Export
	err = m.store.RunInTx(ctx, func(ctx context.Context, tx Repos) error {
		e, err := tx.Exports.GetForUpdate(ctx, teamID, id)
		if err != nil {
			return err
		}
		dest, err := tx.Destinations.GetByID(ctx, teamID, e.DestinationID)
		if err != nil {
			return err
		}
		team, err := tx.Teams.GetByID(ctx, teamID)
		if err != nil {
			return err
		}
		now := m.now().UTC()

		if err := applyPatch(e, in); err != nil {
			return err
		}
		if err := validateExport(e); err != nil {
			return err
		}
		if in.Destination != nil {
			cfg := in.Destination
			if cfg.Kind() == dest.Kind() {
				cfg = cfg.MergeSecrets(dest.Config)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			dest.Config = cfg
			dest.UpdatedAt = now
			if err := tx.Destinations.Update(ctx, dest); err != nil {
				return err
			}
		}

		input := schedule.InputFromExport(e)
		if in.Timezone.IsUnset() {
			desc, err := m.engine.DescribeSchedule(ctx, schedule.ScheduleID(e.ID))
			if err != nil {
				return noScheduleOr(err, e.ID)
			}
			if desc.Spec.Timezone != "" {
				tz := desc.Spec.Timezone
				input.Timezone = &tz
			}
		}
		spec, err := schedule.Build(input)
		if err != nil {
			return err
		}
		action, err := m.exportAction(e, dest, team)
		if err != nil {
			return err
		}

		e.LastUpdatedAt = now
		if err := tx.Exports.Update(ctx, e); err != nil {
			return err
		}
		if err := m.engine.UpdateSchedule(ctx, schedule.ScheduleID(e.ID), spec, action); err != nil {
			return noScheduleOr(err, e.ID)
		}
		e.Destination = dest
		updated = e
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrCommitFailed) {
			m.logger.WarnContext(ctx, "schedule updated but export commit failed",
				"batch_export_id", id, "error", err)
		}
		return nil, err
	}

	m.publish(ctx, types.EventExportUpdated, updated, nil, nil)
	return updated, nil
}

func applyPatch(e *types.Export, in UpdateExportInput) error {
	if in.Name.IsNull() {
		return types.NewAppError(types.ErrCodeValidationMissingField, "name cannot be null", nil)
	}
	if v, ok := in.Name.Get(); ok {
		e.Name = v
	}
	if v, ok := in.Model.Get(); ok {
		e.Model = v
	}
	if in.Interval.IsNull() {
		return types.NewAppError(types.ErrCodeValidationInvalidInterval, "interval cannot be null", nil)
	}
	if v, ok := in.Interval.Get(); ok {
		e.Interval = v
	}
	e.Timezone = in.Timezone.Apply(e.Timezone)
	e.OffsetDay = in.OffsetDay.Apply(e.OffsetDay)
	e.OffsetHour = in.OffsetHour.Apply(e.OffsetHour)
	e.StartAt = in.StartAt.Apply(e.StartAt)
	e.EndAt = in.EndAt.Apply(e.EndAt)
	return nil
}

func validateExport(e *types.Export) error {
	if e.Name == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "name is required", nil)
	}
	if !e.Model.Valid() {
		return types.NewValidationError(fmt.Sprintf("Unsupported model %s", e.Model))
	}
	if err := e.ValidateSchedule(); err != nil {
		return err
	}
	e.NormalizeOffsets()
	return nil
}

// Get returns an export with its destination.
func (m *Manager) Get(ctx context.Context, teamID int64, id string) (*types.Export, error) {
	repos := m.store.Repos()
	e, err := repos.Exports.GetByID(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	dest, err := repos.Destinations.GetByID(ctx, teamID, e.DestinationID)
	if err != nil {
		return nil, err
	}
	e.Destination = dest
	return e, nil
}

// List returns a page of a team's exports with their destinations.
func (m *Manager) List(ctx context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error) {
	repos := m.store.Repos()
	exports, page, err := repos.Exports.List(ctx, teamID, params)
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFanOut)
	for _, e := range exports {
		g.Go(func() error {
			dest, err := repos.Destinations.GetByID(gctx, teamID, e.DestinationID)
			if err != nil {
				return err
			}
			e.Destination = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.PageInfo{}, err
	}
	return exports, page, nil
}

// ScheduleView is the engine's current view of an export schedule.
type ScheduleView struct {
	ExportID       string      `json:"batch_export_id"`
	Paused         bool        `json:"paused"`
	Note           string      `json:"note,omitempty"`
	Timezone       string      `json:"timezone"`
	CronExpression string      `json:"cron_expression,omitempty"`
	EverySeconds   int64       `json:"every_seconds,omitempty"`
	JitterSeconds  int64       `json:"jitter_seconds,omitempty"`
	NextRuns       []time.Time `json:"next_runs"`
	RecentRuns     []time.Time `json:"recent_runs,omitempty"`
}

// previewCount is how many upcoming fire times Describe returns.
const previewCount = 5

// Describe fetches the remote schedule of an export.
func (m *Manager) Describe(ctx context.Context, teamID int64, id string) (*ScheduleView, error) {
	e, err := m.store.Repos().Exports.GetByID(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	desc, err := m.engine.DescribeSchedule(ctx, schedule.ScheduleID(e.ID))
	if err != nil {
		return nil, noScheduleOr(err, e.ID)
	}

	view := &ScheduleView{
		ExportID:      e.ID,
		Paused:        desc.State.Paused,
		Note:          desc.State.Note,
		Timezone:      desc.Spec.Timezone,
		JitterSeconds: int64(desc.Spec.Jitter / time.Second),
		NextRuns:      desc.NextActionTimes,
		RecentRuns:    desc.RecentActions,
	}
	if cron, ok := desc.Spec.CronExpression(); ok {
		view.CronExpression = cron
	}
	if len(desc.Spec.Intervals) > 0 {
		view.EverySeconds = int64(desc.Spec.Intervals[0].Every / time.Second)
	}
	if len(view.NextRuns) == 0 && !desc.State.Paused {
		view.NextRuns = desc.Spec.Upcoming(m.now(), previewCount)
	}
	if view.NextRuns == nil {
		view.NextRuns = []time.Time{}
	}
	return view, nil
}

// Trigger fires an export's schedule once, outside its cadence.
func (m *Manager) Trigger(ctx context.Context, teamID int64, id string) (err error) {
	defer m.observe(ctx, OpTrigger, m.now(), &err)

	e, err := m.store.Repos().Exports.GetByID(ctx, teamID, id)
	if err != nil {
		return err
	}
	if err := m.engine.TriggerSchedule(ctx, schedule.ScheduleID(e.ID)); err != nil {
		return noScheduleOr(err, e.ID)
	}
	m.publish(ctx, types.EventExportTriggered, e, nil, nil)
	return nil
}

// Delete cancels the export's running backfills, removes its schedule and
// tombstones the row. A schedule already missing from the engine is not an
// error.
func (m *Manager) Delete(ctx context.Context, teamID int64, id string) (err error) {
	defer m.observe(ctx, OpDelete, m.now(), &err)

	repos := m.store.Repos()
	e, err := repos.Exports.GetByID(ctx, teamID, id)
	if err != nil {
		return err
	}
	if err := m.cancelAllBackfills(ctx, repos, e); err != nil {
		return err
	}
	if err := m.engine.DeleteSchedule(ctx, schedule.ScheduleID(e.ID)); err != nil &&
		!types.IsCode(err, types.ErrCodeNotFoundSchedule) {
		return err
	}
	if err := repos.Exports.MarkDeleted(ctx, teamID, e.ID, m.now().UTC()); err != nil {
		return err
	}
	m.publish(ctx, types.EventExportDeleted, e, nil, nil)
	return nil
}

// cancelAllBackfills cancels every backfill workflow of e, both those
// recorded locally and those the engine reports as running.
func (m *Manager) cancelAllBackfills(ctx context.Context, repos Repos, e *types.Export) error {
	active, err := repos.Backfills.ListActive(ctx, e.ID)
	if err != nil {
		return err
	}
	workflowIDs := make(map[string]struct{}, len(active))
	for _, b := range active {
		workflowIDs[b.WorkflowID] = struct{}{}
	}

	query := fmt.Sprintf(`WorkflowType = %q AND %s = %q`, engine.WorkflowBackfill, engine.AttrScheduleID, e.ID)
	running, err := m.engine.ListWorkflows(ctx, query)
	if err != nil {
		m.logger.WarnContext(ctx, "could not list running backfills, cancelling recorded ones only",
			"batch_export_id", e.ID, "error", err)
	}
	for _, w := range running {
		if w.IsRunning() {
			workflowIDs[w.WorkflowID] = struct{}{}
		}
	}

	for wfID := range workflowIDs {
		if err := m.engine.CancelWorkflow(ctx, wfID); err != nil && !types.IsCode(err, types.ErrCodeNotFoundSchedule) {
			return err
		}
	}
	now := m.now().UTC()
	for _, b := range active {
		if _, err := repos.Backfills.Finish(ctx, b.ID, types.BackfillStatusCancelled, now); err != nil {
			return err
		}
	}
	return nil
}

// noScheduleOr turns an engine NotFound into a client error: the export
// exists locally but the engine has no schedule for it.
func noScheduleOr(err error, exportID string) error {
	if types.IsCode(err, types.ErrCodeNotFoundSchedule) {
		return types.NewAppError(types.ErrCodeValidationNoSchedule,
			fmt.Sprintf("No schedule configured for export %s", exportID), err)
	}
	return err
}

func (m *Manager) observe(ctx context.Context, op string, start time.Time, errp *error) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordOperation(ctx, op, *errp, m.now().Sub(start))
}

func (m *Manager) publish(ctx context.Context, typ types.ExportEventType, e *types.Export, backfillID *string, details map[string]any) {
	if m.events == nil {
		return
	}
	ev := types.ExportEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		TeamID:     e.TeamID,
		ExportID:   e.ID,
		BackfillID: backfillID,
		OccurredAt: m.now().UTC(),
		Details:    details,
	}
	if actor, ok := types.GetActor(ctx); ok {
		ev.ActorID = actor.ID
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.logger.WarnContext(ctx, "failed to publish export event",
			"event_type", string(typ), "batch_export_id", e.ID, "error", err)
	}
}
