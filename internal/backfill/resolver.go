// Package backfill validates backfill requests and normalizes their bounds
// against the data actually available for an export.
package backfill

import (
	"context"
	"fmt"
	"time"

	"batchexports/internal/types"
)

const (
	isoLayout      = "2006-01-02T15:04:05+00:00"
	earliestLayout = "2006-01-02 15:04:05"
)

// DataAvailability reports the earliest row a team has for a model. A nil
// timestamp means the team has no data for it.
type DataAvailability interface {
	EarliestTimestamp(ctx context.Context, teamID int64, model types.Model) (*time.Time, error)
}

// Range is a resolved backfill window in UTC. Either bound may be open.
type Range struct {
	Start *time.Time
	End   *time.Time
}

// Resolver turns raw user bounds into a Range.
type Resolver struct {
	data DataAvailability
}

// NewResolver creates a Resolver backed by data.
func NewResolver(data DataAvailability) *Resolver {
	return &Resolver{data: data}
}

// Resolve validates rawStart and rawEnd for export e and clamps the start to
// the earliest available data. A start before the earliest data is raised
// silently; an end past now is rejected.
func (r *Resolver) Resolve(ctx context.Context, e *types.Export, rawStart, rawEnd *string, now time.Time) (Range, error) {
	var rng Range

	if rawStart != nil {
		start, err := parseBound(e, *rawStart)
		if err != nil {
			return Range{}, err
		}
		rng.Start = &start
	}
	if rawEnd != nil {
		end, err := parseBound(e, *rawEnd)
		if err != nil {
			return Range{}, err
		}
		rng.End = &end
	}

	if e.Interval == types.IntervalWeek && rng.Start != nil {
		got := rng.Start.In(e.Location())
		want := time.Weekday(e.OffsetDayOrZero())
		if got.Weekday() != want {
			return Range{}, rangeError(fmt.Sprintf(
				"Backfill start date %s is a %s, but this batch export is configured to run on %s.",
				got.Format(dateLayout), got.Weekday(), want))
		}
	}

	if rng.Start != nil && rng.End != nil && !rng.Start.Before(*rng.End) {
		return Range{}, rangeError("The initial backfill datetime 'start_at' happens after 'end_at'")
	}

	if rng.End != nil && rng.End.After(now) {
		return Range{}, rangeError(fmt.Sprintf("The provided 'end_at' (%s) is in the future", rng.End.Format(isoLayout)))
	}

	model := e.Model
	if model == "" {
		model = types.ModelEvents
	}
	earliest, err := r.data.EarliestTimestamp(ctx, e.TeamID, model)
	if err != nil {
		return Range{}, err
	}
	if earliest == nil {
		return Range{}, rangeError("There is no data to backfill for this model.")
	}

	floor := FloorToInterval(e, *earliest)
	if rng.Start == nil || rng.Start.Before(floor) {
		rng.Start = &floor
	}

	if rng.End != nil && !rng.End.After(floor) {
		return Range{}, rangeError(fmt.Sprintf(
			"The provided backfill date range contains no data. The earliest possible backfill start date is %s",
			floor.Format(earliestLayout)))
	}

	return rng, nil
}

func rangeError(msg string) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationBackfillRange, msg, nil)
}
