package backfill

import (
	"time"

	"batchexports/internal/schedule"
	"batchexports/internal/types"
)

// FloorToInterval returns the start of the export interval containing t, in
// UTC. Daily and weekly boundaries honour the export timezone and offsets.
func FloorToInterval(e *types.Export, t time.Time) time.Time {
	switch e.Interval {
	case types.IntervalDay:
		loc := e.Location()
		local := t.In(loc)
		b := time.Date(local.Year(), local.Month(), local.Day(), e.OffsetHourOrZero(), 0, 0, 0, loc)
		if b.After(local) {
			b = b.AddDate(0, 0, -1)
		}
		return b.UTC()
	case types.IntervalWeek:
		loc := e.Location()
		local := t.In(loc)
		back := (int(local.Weekday()) - e.OffsetDayOrZero() + 7) % 7
		b := time.Date(local.Year(), local.Month(), local.Day()-back, e.OffsetHourOrZero(), 0, 0, 0, loc)
		if b.After(local) {
			b = b.AddDate(0, 0, -7)
		}
		return b.UTC()
	}

	every := e.Interval.Duration()
	if every <= 0 {
		return t.UTC()
	}
	offset := intervalOffset(e)
	n := t.UnixNano() - offset.Nanoseconds()
	floored := n - ((n%every.Nanoseconds())+every.Nanoseconds())%every.Nanoseconds()
	return time.Unix(0, floored+offset.Nanoseconds()).UTC()
}

func intervalOffset(e *types.Export) time.Duration {
	spec, err := schedule.Build(schedule.BuildInput{
		Interval:   e.Interval,
		OffsetDay:  e.OffsetDay,
		OffsetHour: e.OffsetHour,
	})
	if err != nil || len(spec.Intervals) == 0 {
		return 0
	}
	return spec.Intervals[0].Offset
}

// TotalRuns counts the export intervals in [start, end). It returns nil when
// either bound is open. Daily and weekly counts step in wall-clock time, so a
// DST transition does not add or drop a run.
func TotalRuns(e *types.Export, start, end *time.Time) *int {
	if start == nil || end == nil || !start.Before(*end) {
		if start != nil && end != nil {
			zero := 0
			return &zero
		}
		return nil
	}

	var n int
	if e.Interval.IsCalendar() {
		days := 1
		if e.Interval == types.IntervalWeek {
			days = 7
		}
		loc := e.Location()
		for t := start.In(loc); t.Before(*end); t = t.AddDate(0, 0, days) {
			n++
		}
		return &n
	}

	every := e.Interval.Duration()
	span := end.Sub(*start)
	n = int(span / every)
	if span%every != 0 {
		n++
	}
	return &n
}
