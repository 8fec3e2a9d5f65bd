package lifecycle

import (
	"context"
	"time"

	"batchexports/internal/crypto"
	"batchexports/internal/engine"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// Engine is the subset of the workflow engine the manager drives.
// *engine.Client and *engine.Fake implement it.
type Engine interface {
	CreateSchedule(ctx context.Context, id string, spec schedule.Spec, action engine.Action, state engine.State) error
	UpdateSchedule(ctx context.Context, id string, spec schedule.Spec, action engine.Action) error
	DescribeSchedule(ctx context.Context, id string) (*engine.Description, error)
	PauseSchedule(ctx context.Context, id, note string) error
	UnpauseSchedule(ctx context.Context, id, note string) error
	TriggerSchedule(ctx context.Context, id string) error
	DeleteSchedule(ctx context.Context, id string) error
	ScheduleExists(ctx context.Context, id string) (bool, error)
	ListWorkflows(ctx context.Context, query string) ([]engine.WorkflowExecution, error)
	StartWorkflow(ctx context.Context, req engine.StartWorkflowRequest) (string, error)
	CancelWorkflow(ctx context.Context, workflowID string) error
}

// TeamRepo reads teams.
type TeamRepo interface {
	GetByID(ctx context.Context, id int64) (*types.Team, error)
}

// ExportRepo persists exports.
type ExportRepo interface {
	Create(ctx context.Context, e *types.Export) error
	GetByID(ctx context.Context, teamID int64, id string) (*types.Export, error)
	GetForUpdate(ctx context.Context, teamID int64, id string) (*types.Export, error)
	List(ctx context.Context, teamID int64, params types.ListParams) ([]*types.Export, types.PageInfo, error)
	Update(ctx context.Context, e *types.Export) error
	MarkDeleted(ctx context.Context, teamID int64, id string, at time.Time) error
}

// DestinationRepo persists destinations with their secrets.
type DestinationRepo interface {
	Create(ctx context.Context, d *types.Destination) error
	GetByID(ctx context.Context, teamID int64, id string) (*types.Destination, error)
	Update(ctx context.Context, d *types.Destination) error
}

// BackfillRepo persists backfills.
type BackfillRepo interface {
	Create(ctx context.Context, b *types.Backfill) error
	GetByID(ctx context.Context, teamID int64, exportID, id string) (*types.Backfill, error)
	GetForUpdate(ctx context.Context, teamID int64, exportID, id string) (*types.Backfill, error)
	GetByWorkflowID(ctx context.Context, teamID int64, workflowID string) (*types.Backfill, error)
	List(ctx context.Context, teamID int64, exportID string, params types.ListParams) ([]*types.Backfill, types.PageInfo, error)
	ListActive(ctx context.Context, exportID string) ([]*types.Backfill, error)
	Finish(ctx context.Context, id string, status types.BackfillStatus, at time.Time) (bool, error)
}

// RunRepo reads runs.
type RunRepo interface {
	ListByExport(ctx context.Context, teamID int64, exportID, backfillID string, params types.ListParams) ([]*types.Run, types.PageInfo, error)
}

// Repos bundles repositories bound to one connection or transaction.
type Repos struct {
	Teams        TeamRepo
	Exports      ExportRepo
	Destinations DestinationRepo
	Backfills    BackfillRepo
	Runs         RunRepo
}

// Store hands out repositories, either directly or inside a transaction.
type Store interface {
	Repos() Repos
	// RunInTx commits when fn returns nil. A commit failure is reported with
	// an error matching db.ErrCommitFailed.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

// EventPublisher announces lifecycle changes. *queue.EventPublisher
// implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev types.ExportEvent) error
}

// Metrics records lifecycle outcomes. *metrics.Recorder implements it.
type Metrics interface {
	RecordOperation(ctx context.Context, op string, err error, took time.Duration)
	RecordBackfillStarted(ctx context.Context, totalRuns *int)
}

// PayloadEncoder seals workflow arguments. *crypto.PayloadCodec implements it.
type PayloadEncoder interface {
	Encode(data []byte) (crypto.Payload, error)
}
