package types

// Model identifies which analytics table an export reads from.
type Model string

const (
	ModelEvents  Model = "events"
	ModelPersons Model = "persons"
)

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	return m == ModelEvents || m == ModelPersons
}

// DestinationKind identifies the destination variant of an export.
type DestinationKind string

const (
	DestinationS3         DestinationKind = "S3"
	DestinationBigQuery   DestinationKind = "BigQuery"
	DestinationSnowflake  DestinationKind = "Snowflake"
	DestinationRedshift   DestinationKind = "Redshift"
	DestinationPostgres   DestinationKind = "Postgres"
	DestinationHTTP       DestinationKind = "HTTP"
	DestinationDatabricks DestinationKind = "Databricks"
)

// AllDestinationKinds lists every supported destination, in display order.
var AllDestinationKinds = []DestinationKind{
	DestinationS3,
	DestinationBigQuery,
	DestinationSnowflake,
	DestinationRedshift,
	DestinationPostgres,
	DestinationHTTP,
	DestinationDatabricks,
}

// RunStatus is the lifecycle state of a single export run.
type RunStatus string

const (
	RunStatusStarting        RunStatus = "Starting"
	RunStatusRunning         RunStatus = "Running"
	RunStatusCompleted       RunStatus = "Completed"
	RunStatusFailed          RunStatus = "Failed"
	RunStatusFailedRetryable RunStatus = "FailedRetryable"
	RunStatusCancelled       RunStatus = "Cancelled"
	RunStatusTerminated      RunStatus = "Terminated"
	RunStatusTimedOut        RunStatus = "TimedOut"
	RunStatusContinuedAsNew  RunStatus = "ContinuedAsNew"
)

// IsTerminal reports whether no further transitions are allowed out of s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusStarting, RunStatusRunning:
		return false
	default:
		return true
	}
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusStarting, RunStatusRunning, RunStatusCompleted, RunStatusFailed,
		RunStatusFailedRetryable, RunStatusCancelled, RunStatusTerminated,
		RunStatusTimedOut, RunStatusContinuedAsNew:
		return true
	}
	return false
}

// BackfillStatus is the lifecycle state of a backfill request.
type BackfillStatus string

const (
	BackfillStatusStarting       BackfillStatus = "Starting"
	BackfillStatusRunning        BackfillStatus = "Running"
	BackfillStatusCompleted      BackfillStatus = "Completed"
	BackfillStatusFailed         BackfillStatus = "Failed"
	BackfillStatusCancelled      BackfillStatus = "Cancelled"
	BackfillStatusTerminated     BackfillStatus = "Terminated"
	BackfillStatusTimedOut       BackfillStatus = "TimedOut"
	BackfillStatusContinuedAsNew BackfillStatus = "ContinuedAsNew"
)

// IsTerminal reports whether the backfill has finished one way or another.
func (s BackfillStatus) IsTerminal() bool {
	switch s {
	case BackfillStatusStarting, BackfillStatusRunning:
		return false
	default:
		return true
	}
}

// Valid reports whether s is a known backfill status.
func (s BackfillStatus) Valid() bool {
	switch s {
	case BackfillStatusStarting, BackfillStatusRunning, BackfillStatusCompleted,
		BackfillStatusFailed, BackfillStatusCancelled, BackfillStatusTerminated,
		BackfillStatusTimedOut, BackfillStatusContinuedAsNew:
		return true
	}
	return false
}

// ExportEventType identifies a lifecycle change published to downstream consumers.
type ExportEventType string

const (
	EventExportCreated     ExportEventType = "export.created"
	EventExportUpdated     ExportEventType = "export.updated"
	EventExportPaused      ExportEventType = "export.paused"
	EventExportUnpaused    ExportEventType = "export.unpaused"
	EventExportDeleted     ExportEventType = "export.deleted"
	EventExportTriggered   ExportEventType = "export.triggered"
	EventBackfillStarted   ExportEventType = "backfill.started"
	EventBackfillCancelled ExportEventType = "backfill.cancelled"
)
