package lifecycle

import (
	"encoding/json"
	"time"

	"batchexports/internal/crypto"
	"batchexports/internal/engine"
	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// ExportWorkflowInputs are the arguments of every scheduled export run.
// Workers receive them sealed; the destination config carries secrets.
type ExportWorkflowInputs struct {
	TeamID          int64                 `json:"team_id"`
	BatchExportID   string                `json:"batch_export_id"`
	Model           types.Model           `json:"batch_export_model"`
	Interval        types.Interval        `json:"interval"`
	DestinationType types.DestinationKind `json:"destination_type"`
	Destination     json.RawMessage       `json:"destination"`
}

// BackfillWorkflowInputs are the arguments of a backfill workflow.
type BackfillWorkflowInputs struct {
	TeamID         int64      `json:"team_id"`
	BatchExportID  string     `json:"batch_export_id"`
	BackfillID     string     `json:"backfill_id"`
	StartAt        *time.Time `json:"start_at"`
	EndAt          *time.Time `json:"end_at"`
	StartDelay     float64    `json:"start_delay"`
	BackfillModel  string     `json:"backfill_model"`
	Interval       string     `json:"interval"`
	IsEarliestData bool       `json:"is_earliest_data"`
}

// searchAttributes indexes export workflows so they can be listed per export.
func searchAttributes(e *types.Export, dest *types.Destination, team *types.Team) map[string]any {
	attrs := map[string]any{
		engine.AttrScheduleID:      e.ID,
		engine.AttrDestinationID:   dest.ID,
		engine.AttrDestinationType: string(dest.Kind()),
		engine.AttrTeamID:          e.TeamID,
	}
	if team != nil {
		attrs[engine.AttrTeamName] = team.Name
	}
	return attrs
}

func (m *Manager) exportAction(e *types.Export, dest *types.Destination, team *types.Team) (engine.Action, error) {
	rawDest, err := json.Marshal(dest.Config)
	if err != nil {
		return engine.Action{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode destination", err)
	}
	args, err := m.encodeArgs(ExportWorkflowInputs{
		TeamID:          e.TeamID,
		BatchExportID:   e.ID,
		Model:           e.Model,
		Interval:        e.Interval,
		DestinationType: dest.Kind(),
		Destination:     rawDest,
	})
	if err != nil {
		return engine.Action{}, err
	}
	return engine.Action{
		WorkflowType:     engine.WorkflowExport,
		WorkflowID:       schedule.ScheduleID(e.ID),
		TaskQueue:        m.taskQueue,
		Args:             args,
		SearchAttributes: searchAttributes(e, dest, team),
	}, nil
}

func (m *Manager) encodeArgs(v any) (payload crypto.Payload, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return payload, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode workflow inputs", err)
	}
	payload, err = m.payloads.Encode(raw)
	if err != nil {
		return payload, types.NewAppError(types.ErrCodeInternalEncryption, "failed to seal workflow inputs", err)
	}
	return payload, nil
}
