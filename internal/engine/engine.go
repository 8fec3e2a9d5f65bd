// Package engine talks to the external workflow engine that owns export
// schedules and backfill workflows.
package engine

import (
	"errors"
	"time"

	"batchexports/internal/crypto"
	"batchexports/internal/schedule"
)

// Sentinel causes carried inside the AppErrors returned by Client. Match them
// with errors.Is.
var (
	ErrNotFound      = errors.New("engine: not found")
	ErrAlreadyExists = errors.New("engine: already exists")
	ErrUnavailable   = errors.New("engine: unavailable")
	// ErrTimeout means the request may or may not have been applied.
	ErrTimeout = errors.New("engine: timeout")
)

// Workflow type names registered by export workers.
const (
	WorkflowExport   = "batch-export"
	WorkflowBackfill = "backfill-batch-export"
)

// Search attribute keys attached to schedules and workflows.
const (
	AttrDestinationID   = "DestinationId"
	AttrDestinationType = "DestinationType"
	AttrTeamID          = "TeamId"
	AttrTeamName        = "TeamName"
	AttrScheduleID      = "BatchExportId"
)

// Action is the workflow started on every schedule fire.
type Action struct {
	WorkflowType     string
	WorkflowID       string
	TaskQueue        string
	Args             crypto.Payload
	SearchAttributes map[string]any
}

// State is the pause state of a schedule.
type State struct {
	Paused bool
	Note   string
}

// Description is the engine's view of a schedule.
type Description struct {
	ID              string
	Spec            schedule.Spec
	State           State
	NextActionTimes []time.Time
	RecentActions   []time.Time
}

// StartWorkflowRequest starts a one-off workflow. Starting an id that already
// exists fails with ErrAlreadyExists.
type StartWorkflowRequest struct {
	WorkflowID       string
	WorkflowType     string
	TaskQueue        string
	Args             crypto.Payload
	SearchAttributes map[string]any
}

// WorkflowExecution summarizes a workflow returned by ListWorkflows.
type WorkflowExecution struct {
	WorkflowID string
	RunID      string
	Type       string
	Status     string
	StartTime  time.Time
	CloseTime  *time.Time
}

// IsRunning reports whether the execution has not closed.
func (w WorkflowExecution) IsRunning() bool {
	return w.CloseTime == nil && (w.Status == "" || w.Status == "Running")
}
