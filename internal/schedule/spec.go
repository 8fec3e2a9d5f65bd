// Package schedule translates an export's cadence into the schedule spec
// registered with the workflow engine and derives workflow identifiers.
package schedule

import (
	"fmt"
	"time"

	"batchexports/internal/types"
)

// MaxJitter caps the default jitter applied to fixed-interval schedules.
const MaxJitter = time.Hour

// IntervalSpec fires every Every, shifted by Offset from the Unix epoch.
type IntervalSpec struct {
	Every  time.Duration
	Offset time.Duration
}

// CalendarSpec fires at a wall-clock time on the listed weekdays
// (0 = Sunday) in the spec's timezone.
type CalendarSpec struct {
	Second     int
	Minute     int
	Hour       int
	DaysOfWeek []int
}

// Spec is the engine-facing schedule definition. Exactly one of Intervals
// or Calendars is populated.
type Spec struct {
	Intervals []IntervalSpec
	Calendars []CalendarSpec
	StartAt   *time.Time
	EndAt     *time.Time
	Jitter    time.Duration
	Timezone  string
}

// BuildInput is the subset of an export that determines its schedule.
type BuildInput struct {
	Interval   types.Interval
	Timezone   *string
	OffsetDay  *int
	OffsetHour *int
	StartAt    *time.Time
	EndAt      *time.Time
	Jitter     time.Duration
}

// InputFromExport builds a BuildInput using the export's schedule fields and
// the default jitter for its interval.
func InputFromExport(e *types.Export) BuildInput {
	return BuildInput{
		Interval:   e.Interval,
		Timezone:   e.Timezone,
		OffsetDay:  e.OffsetDay,
		OffsetHour: e.OffsetHour,
		StartAt:    e.StartAt,
		EndAt:      e.EndAt,
		Jitter:     DefaultJitter(e.Interval),
	}
}

// DefaultJitter is 15% of a fixed interval, capped at MaxJitter. Calendar
// intervals get none.
func DefaultJitter(i types.Interval) time.Duration {
	if i.IsCalendar() {
		return 0
	}
	return min(MaxJitter, i.Duration()*15/100)
}

// Build produces the schedule spec for in. It is pure: equal inputs yield
// equal specs.
func Build(in BuildInput) (Spec, error) {
	if !in.Interval.Valid() {
		return Spec{}, types.NewAppError(types.ErrCodeValidationInvalidInterval,
			fmt.Sprintf("Invalid interval %s", in.Interval), nil)
	}

	tz := "UTC"
	if in.Timezone != nil && *in.Timezone != "" {
		tz = *in.Timezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return Spec{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("Invalid timezone %s", tz), err)
	}
	if err := checkOffsets(in); err != nil {
		return Spec{}, err
	}

	spec := Spec{
		StartAt:  utcPtr(in.StartAt),
		EndAt:    utcPtr(in.EndAt),
		Timezone: tz,
	}

	hour := deref(in.OffsetHour)
	switch in.Interval {
	case types.IntervalDay:
		spec.Calendars = []CalendarSpec{{Hour: hour, DaysOfWeek: []int{0, 1, 2, 3, 4, 5, 6}}}
	case types.IntervalWeek:
		spec.Calendars = []CalendarSpec{{Hour: hour, DaysOfWeek: []int{deref(in.OffsetDay)}}}
	default:
		every := in.Interval.Duration()
		var offset time.Duration
		if in.OffsetHour != nil || in.OffsetDay != nil {
			minutes := deref(in.OffsetHour)*60 + deref(in.OffsetDay)*1440
			offset = (time.Duration(minutes) * time.Minute) % every
		}
		spec.Intervals = []IntervalSpec{{Every: every, Offset: offset}}
		if offset == 0 {
			spec.Jitter = in.Jitter
		}
	}
	return spec, nil
}

func checkOffsets(in BuildInput) error {
	if in.OffsetHour != nil && (*in.OffsetHour < 0 || *in.OffsetHour > 23) {
		return types.NewAppError(types.ErrCodeValidationInvalidOffset, "offset_hour must be between 0 and 23", nil)
	}
	if in.OffsetDay != nil && (*in.OffsetDay < 0 || *in.OffsetDay > 6) {
		return types.NewAppError(types.ErrCodeValidationInvalidOffset, "offset_day must be between 0 and 6", nil)
	}
	return nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
