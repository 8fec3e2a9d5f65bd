package backfill

import (
	"fmt"
	"strings"
	"time"

	"batchexports/internal/types"
)

type inputKind int

const (
	kindDate inputKind = iota
	kindNaive
	kindAware
)

var (
	awareLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04Z07:00",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
	}
)

const dateLayout = "2006-01-02"

// classify parses raw as an ISO 8601 date, naive datetime or offset-aware
// datetime.
func classify(raw string) (time.Time, inputKind, bool) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, kindDate, true
	}
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, kindAware, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, kindNaive, true
		}
	}
	return time.Time{}, 0, false
}

// parseBound converts a raw bound into UTC according to the export's
// granularity. Daily and weekly exports take dates, expanded to midnight in
// the export timezone; everything else takes offset-aware datetimes.
func parseBound(e *types.Export, raw string) (time.Time, error) {
	t, kind, ok := classify(raw)
	if !ok {
		return time.Time{}, types.NewValidationError(
			fmt.Sprintf("Input %s is not a valid ISO formatted datetime.", raw))
	}

	if e.Interval.IsCalendar() {
		if kind != kindDate {
			return time.Time{}, types.NewValidationError(
				fmt.Sprintf("Input %s expects only the date component, but a time was included.", raw))
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.Location()).UTC(), nil
	}

	if kind != kindAware {
		return time.Time{}, types.NewValidationError(fmt.Sprintf("Input %s is naive.", raw))
	}
	return t.UTC(), nil
}
