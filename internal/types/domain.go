package types

import (
	"time"
)

// Team owns exports. Its timezone is used for analytics display only and
// never influences export schedules.
type Team struct {
	ID             int64  `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Timezone       string `json:"timezone"`
}

// Export is a recurring export of one model to one destination. Its ID is
// also the id of the schedule registered with the workflow engine.
type Export struct {
	ID             string       `json:"id"`
	TeamID         int64        `json:"team_id"`
	Name           string       `json:"name"`
	Model          Model        `json:"model"`
	DestinationID  string       `json:"-"`
	Destination    *Destination `json:"destination,omitempty"`
	Interval       Interval     `json:"interval"`
	Timezone       *string      `json:"timezone"`
	OffsetDay      *int         `json:"offset_day"`
	OffsetHour     *int         `json:"offset_hour"`
	Paused         bool         `json:"paused"`
	LastPausedAt   *time.Time   `json:"last_paused_at,omitempty"`
	LastUnpausedAt *time.Time   `json:"last_unpaused_at,omitempty"`
	StartAt        *time.Time   `json:"start_at,omitempty"`
	EndAt          *time.Time   `json:"end_at,omitempty"`
	Deleted        bool         `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	LastUpdatedAt  time.Time    `json:"last_updated_at"`
}

// NormalizeOffsets clears offsets the interval cannot use. Offsets cleared
// here are not restored if the interval later changes back.
func (e *Export) NormalizeOffsets() {
	switch e.Interval {
	case IntervalDay:
		e.OffsetDay = nil
	case IntervalWeek:
	default:
		e.OffsetDay = nil
		e.OffsetHour = nil
	}
}

// TimezoneOrUTC returns the configured schedule timezone, defaulting to UTC.
func (e *Export) TimezoneOrUTC() string {
	if e.Timezone == nil || *e.Timezone == "" {
		return "UTC"
	}
	return *e.Timezone
}

// Location loads the schedule timezone. Invalid names fall back to UTC; they
// are rejected at write time.
func (e *Export) Location() *time.Location {
	loc, err := time.LoadLocation(e.TimezoneOrUTC())
	if err != nil {
		return time.UTC
	}
	return loc
}

// OffsetDayOrZero returns the weekly offset day (0 = Sunday).
func (e *Export) OffsetDayOrZero() int {
	if e.OffsetDay == nil {
		return 0
	}
	return *e.OffsetDay
}

// OffsetHourOrZero returns the daily/weekly offset hour.
func (e *Export) OffsetHourOrZero() int {
	if e.OffsetHour == nil {
		return 0
	}
	return *e.OffsetHour
}

// ValidateSchedule checks the interval, timezone and offset fields together.
func (e *Export) ValidateSchedule() error {
	if !e.Interval.Valid() {
		return NewAppError(ErrCodeValidationInvalidInterval,
			"Invalid interval "+string(e.Interval), nil)
	}
	if e.Timezone != nil && *e.Timezone != "" {
		if _, err := time.LoadLocation(*e.Timezone); err != nil {
			return NewAppError(ErrCodeValidationInvalidTimezone,
				"Invalid timezone "+*e.Timezone, err)
		}
	}
	if e.OffsetHour != nil && (*e.OffsetHour < 0 || *e.OffsetHour > 23) {
		return NewAppError(ErrCodeValidationInvalidOffset, "offset_hour must be between 0 and 23", nil)
	}
	if e.OffsetDay != nil && (*e.OffsetDay < 0 || *e.OffsetDay > 6) {
		return NewAppError(ErrCodeValidationInvalidOffset, "offset_day must be between 0 and 6", nil)
	}
	if e.StartAt != nil && e.EndAt != nil && !e.StartAt.Before(*e.EndAt) {
		return NewAppError(ErrCodeValidationInvalidInput, "start_at must be before end_at", nil)
	}
	return nil
}

// Run is one execution of an export's workflow, scheduled or part of a backfill.
type Run struct {
	ID                string     `json:"id"`
	ExecutionID       string     `json:"execution_id"`
	ExportID          string     `json:"export_id"`
	TeamID            int64      `json:"team_id"`
	BackfillID        *string    `json:"backfill_id,omitempty"`
	Status            RunStatus  `json:"status"`
	DataIntervalStart *time.Time `json:"data_interval_start,omitempty"`
	DataIntervalEnd   time.Time  `json:"data_interval_end"`
	RecordsCompleted  *int64     `json:"records_completed,omitempty"`
	LatestError       *string    `json:"latest_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	LastUpdatedAt     time.Time  `json:"last_updated_at"`
}

// Backfill is a request to re-run an export over a historical range. Either
// bound may be open. WorkflowID is the deterministic id derived from the
// export and range; clients see it as backfill_id.
type Backfill struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"backfill_id"`
	ExportID      string         `json:"batch_export_id"`
	TeamID        int64          `json:"team_id"`
	StartAt       *time.Time     `json:"start_at"`
	EndAt         *time.Time     `json:"end_at"`
	Status        BackfillStatus `json:"status"`
	TotalRuns     *int           `json:"total_runs"`
	CreatedAt     time.Time      `json:"created_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
}

// APIKey is a hashed credential used to authenticate API requests.
type APIKey struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	KeyHash        string     `json:"-"`
	TeamIDs        []int64    `json:"team_ids,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}
