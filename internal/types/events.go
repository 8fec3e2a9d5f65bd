package types

import "time"

// ExportEvent announces a lifecycle change of an export to downstream
// consumers. Delivery is at-least-once; consumers dedupe on ID.
type ExportEvent struct {
	ID         string          `json:"id"`
	Type       ExportEventType `json:"type"`
	TeamID     int64           `json:"team_id"`
	ExportID   string          `json:"batch_export_id"`
	BackfillID *string         `json:"backfill_id,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Details    map[string]any  `json:"details,omitempty"`
}

// CallbackKind identifies an engine callback message.
type CallbackKind string

const (
	CallbackRunStarted       CallbackKind = "run.started"
	CallbackRunFinished      CallbackKind = "run.finished"
	CallbackBackfillFinished CallbackKind = "backfill.finished"
)

// RunStartedEvent is sent by export workers when a workflow execution begins.
type RunStartedEvent struct {
	ExecutionID       string     `json:"execution_id" validate:"required"`
	ExportID          string     `json:"batch_export_id" validate:"required"`
	TeamID            int64      `json:"team_id" validate:"required"`
	BackfillID        *string    `json:"backfill_id,omitempty"`
	DataIntervalStart *time.Time `json:"data_interval_start,omitempty"`
	DataIntervalEnd   time.Time  `json:"data_interval_end" validate:"required"`
	StartedAt         time.Time  `json:"started_at"`
}

// RunFinishedEvent is sent when a workflow execution reaches a terminal state.
type RunFinishedEvent struct {
	ExecutionID      string    `json:"execution_id" validate:"required"`
	Status           RunStatus `json:"status" validate:"required"`
	RecordsCompleted *int64    `json:"records_completed,omitempty"`
	LatestError      *string   `json:"latest_error,omitempty"`
	FinishedAt       time.Time `json:"finished_at"`
}

// BackfillFinishedEvent is sent when a backfill workflow closes.
type BackfillFinishedEvent struct {
	BackfillID string         `json:"backfill_id" validate:"required"`
	Status     BackfillStatus `json:"status" validate:"required"`
	FinishedAt time.Time      `json:"finished_at"`
}
